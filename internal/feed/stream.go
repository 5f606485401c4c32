package feed

import (
	"context"
	"fmt"

	commonredis "plantwatch-collector/common/redis"
	"plantwatch-collector/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamPublisher 推送到 Redis Streams
// <prefix>:readings 与 <prefix>:alerts 两条 stream
type StreamPublisher struct {
	client *redis.Client
	prefix string
	maxLen int64
	logger *zap.Logger
}

// NewStreamPublisher 创建 stream 推送器
func NewStreamPublisher(client *redis.Client, prefix string, maxLen int64, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{client: client, prefix: prefix, maxLen: maxLen, logger: logger}
}

var _ Publisher = (*StreamPublisher)(nil)

// ReadingsStream 读数 stream 名
func (p *StreamPublisher) ReadingsStream() string {
	return p.prefix + ":readings"
}

// AlertsStream 告警 stream 名
func (p *StreamPublisher) AlertsStream() string {
	return p.prefix + ":alerts"
}

func (p *StreamPublisher) PublishReading(ctx context.Context, sensor *models.Sensor, reading *models.Reading) error {
	id, err := commonredis.PublishJSONToStream(ctx, p.client, p.ReadingsStream(), p.maxLen, "reading", NewReadingNotification(sensor, reading))
	if err != nil {
		return fmt.Errorf("failed to publish reading to stream: %w", err)
	}
	p.logger.Debug("Published reading to stream",
		zap.String("stream", p.ReadingsStream()),
		zap.String("message_id", id),
		zap.String("sensor_id", sensor.ID),
	)
	return nil
}

func (p *StreamPublisher) PublishAlert(ctx context.Context, sensor *models.Sensor, mutation models.AlertMutation) error {
	n := NewAlertNotification(sensor, mutation)
	id, err := commonredis.PublishJSONToStream(ctx, p.client, p.AlertsStream(), p.maxLen, "alert."+string(n.Event), n)
	if err != nil {
		return fmt.Errorf("failed to publish alert to stream: %w", err)
	}
	p.logger.Debug("Published alert to stream",
		zap.String("stream", p.AlertsStream()),
		zap.String("message_id", id),
		zap.String("alert_id", n.ID),
		zap.String("event", string(n.Event)),
	)
	return nil
}
