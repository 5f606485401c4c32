package httpapi

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	commonmqtt "plantwatch-collector/common/mqtt"
	commonredis "plantwatch-collector/common/redis"

	"github.com/go-redis/redis/v8"
	"github.com/heptiolabs/healthcheck"
)

// NewHealth 存活与就绪检查，nil 依赖不参与就绪检查
func NewHealth(db *sql.DB, rdb *redis.Client, mq *commonmqtt.Client) healthcheck.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))

	if db != nil {
		health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(db, time.Second))
	}
	if rdb != nil {
		health.AddReadinessCheck("redis", healthcheck.Timeout(func() error {
			return commonredis.Ping(context.Background(), rdb)
		}, time.Second))
	}
	if mq != nil {
		health.AddReadinessCheck("mqtt", func() error {
			if mq.IsConnected() {
				return nil
			}
			return fmt.Errorf("not connected")
		})
	}
	return health
}
