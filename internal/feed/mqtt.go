package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"plantwatch-collector/internal/models"

	"go.uber.org/zap"
)

// messagePublisher common/mqtt.Client 的发布能力
type messagePublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTPublisher 推送到 MQTT
// 读数: <prefix>/sensors/<id>/readings（retained，订阅方上线即可拿到最新值）
// 告警: <prefix>/alerts
type MQTTPublisher struct {
	client messagePublisher
	prefix string
	qos    byte
	logger *zap.Logger
}

// NewMQTTPublisher 创建 MQTT 推送器
func NewMQTTPublisher(client messagePublisher, prefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos, logger: logger}
}

var _ Publisher = (*MQTTPublisher)(nil)

// ReadingTopic 传感器读数主题
func (p *MQTTPublisher) ReadingTopic(sensorID string) string {
	return fmt.Sprintf("%s/sensors/%s/readings", p.prefix, sensorID)
}

// AlertTopic 告警主题
func (p *MQTTPublisher) AlertTopic() string {
	return p.prefix + "/alerts"
}

func (p *MQTTPublisher) PublishReading(_ context.Context, sensor *models.Sensor, reading *models.Reading) error {
	payload, err := json.Marshal(NewReadingNotification(sensor, reading))
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	topic := p.ReadingTopic(sensor.ID)
	if err := p.client.Publish(topic, p.qos, true, payload); err != nil {
		return fmt.Errorf("failed to publish reading to %s: %w", topic, err)
	}
	return nil
}

func (p *MQTTPublisher) PublishAlert(_ context.Context, sensor *models.Sensor, mutation models.AlertMutation) error {
	n := NewAlertNotification(sensor, mutation)
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := p.client.Publish(p.AlertTopic(), p.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", p.AlertTopic(), err)
	}

	p.logger.Debug("Published alert to MQTT",
		zap.String("topic", p.AlertTopic()),
		zap.String("alert_id", n.ID),
		zap.String("event", string(n.Event)),
	)
	return nil
}
