package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"plantwatch-collector/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// LatestCache 每个传感器最新读数的 Redis 缓存
// 键: <prefix>:sensor:<id>:latest
type LatestCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewLatestCache 创建最新读数缓存
func NewLatestCache(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *LatestCache {
	return &LatestCache{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

var _ Publisher = (*LatestCache)(nil)

func (c *LatestCache) key(sensorID string) string {
	return fmt.Sprintf("%s:sensor:%s:latest", c.prefix, sensorID)
}

// PublishReading 写入最新读数（设置 TTL）
func (c *LatestCache) PublishReading(ctx context.Context, sensor *models.Sensor, reading *models.Reading) error {
	jsonData, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal latest reading: %w", err)
	}

	key := c.key(sensor.ID)
	if err := c.client.Set(ctx, key, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set latest reading cache: %w", err)
	}

	c.logger.Debug("Updated latest reading cache", zap.String("sensor_id", sensor.ID), zap.String("key", key))
	return nil
}

// PublishAlert 告警不进缓存
func (c *LatestCache) PublishAlert(context.Context, *models.Sensor, models.AlertMutation) error {
	return nil
}

// GetLatest 读取最新读数，未命中返回 ErrNotFound
func (c *LatestCache) GetLatest(ctx context.Context, sensorID string) (*models.Reading, error) {
	val, err := c.client.Get(ctx, c.key(sensorID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest reading cache: %w", err)
	}

	var reading models.Reading
	if err := json.Unmarshal([]byte(val), &reading); err != nil {
		return nil, fmt.Errorf("failed to unmarshal latest reading: %w", err)
	}
	return &reading, nil
}
