package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"plantwatch-collector/common/config"
)

// Config 采集服务配置
type Config struct {
	HTTP struct {
		Addr string
	}

	Database struct {
		Enabled bool // false 时使用内存存储
		config.DatabaseConfig
	}

	Redis struct {
		Enabled bool
		config.RedisConfig
	}

	MQTT struct {
		Enabled     bool
		TopicPrefix string // 如 "plantwatch"，主题为 plantwatch/sensors/<id>/readings
		config.MQTTConfig
	}

	Collector struct {
		TickInterval time.Duration // 调度器检查到期传感器的周期
		MaxInFlight  int           // 同时进行的轮询上限
		CycleBudget  time.Duration // 单个采集周期的总时长上限
		Simulate     bool          // true 时所有轮询走模拟客户端
		SimSeed      int64
	}

	Retry struct {
		MaxAttempts int
		BaseDelay   time.Duration
		MaxDelay    time.Duration
	}

	Retention struct {
		HorizonDays int
		Interval    time.Duration
	}

	Status struct {
		GracePeriod time.Duration
	}

	Feed struct {
		StreamPrefix   string        // Redis stream / key 前缀
		StreamMaxLen   int64         // stream 近似裁剪长度
		LatestCacheTTL time.Duration // 最新读数缓存 TTL
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	// 数据库
	if cfg.Database.Enabled, err = getEnvBool("DB_ENABLED", true); err != nil {
		return nil, err
	}
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "plantwatch"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 20
	cfg.Database.MaxIdle = 5
	if err := cfg.Database.LoadFromEnv("DB"); err != nil {
		return nil, err
	}

	// Redis
	if cfg.Redis.Enabled, err = getEnvBool("REDIS_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.Redis.Addr = "localhost:6379"
	if err := cfg.Redis.LoadFromEnv("REDIS"); err != nil {
		return nil, err
	}

	// MQTT
	if cfg.MQTT.Enabled, err = getEnvBool("MQTT_ENABLED", false); err != nil {
		return nil, err
	}
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "plantwatch-collector"
	cfg.MQTT.QoS = 1
	if err := cfg.MQTT.LoadFromEnv("MQTT"); err != nil {
		return nil, err
	}
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "plantwatch")

	// 采集
	if cfg.Collector.TickInterval, err = getEnvDuration("COLLECTOR_TICK_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Collector.MaxInFlight, err = getEnvInt("COLLECTOR_MAX_IN_FLIGHT", 32); err != nil {
		return nil, err
	}
	if cfg.Collector.CycleBudget, err = getEnvDuration("COLLECTOR_CYCLE_BUDGET", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Collector.Simulate, err = getEnvBool("COLLECTOR_SIMULATE", false); err != nil {
		return nil, err
	}
	simSeed, err := getEnvInt("COLLECTOR_SIM_SEED", 0)
	if err != nil {
		return nil, err
	}
	cfg.Collector.SimSeed = int64(simSeed)

	// 失败重试
	if cfg.Retry.MaxAttempts, err = getEnvInt("RETRY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.Retry.BaseDelay, err = getEnvDuration("RETRY_BASE_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.Retry.MaxDelay, err = getEnvDuration("RETRY_MAX_DELAY", 30*time.Second); err != nil {
		return nil, err
	}

	// 保留期
	if cfg.Retention.HorizonDays, err = getEnvInt("RETENTION_HORIZON_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.Retention.Interval, err = getEnvDuration("RETENTION_INTERVAL", time.Hour); err != nil {
		return nil, err
	}

	if cfg.Status.GracePeriod, err = getEnvDuration("STATUS_GRACE_PERIOD", 30*time.Second); err != nil {
		return nil, err
	}

	// 推送
	cfg.Feed.StreamPrefix = getEnv("FEED_STREAM_PREFIX", "plantwatch")
	maxLen, err := getEnvInt("FEED_STREAM_MAXLEN", 10000)
	if err != nil {
		return nil, err
	}
	cfg.Feed.StreamMaxLen = int64(maxLen)
	if cfg.Feed.LatestCacheTTL, err = getEnvDuration("LATEST_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	switch {
	case c.Collector.TickInterval <= 0:
		return fmt.Errorf("COLLECTOR_TICK_INTERVAL must be positive")
	case c.Collector.MaxInFlight <= 0:
		return fmt.Errorf("COLLECTOR_MAX_IN_FLIGHT must be positive")
	case c.Collector.CycleBudget <= 0:
		return fmt.Errorf("COLLECTOR_CYCLE_BUDGET must be positive")
	case c.Retry.MaxAttempts < 0:
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must not be negative")
	case c.Retry.MaxDelay < c.Retry.BaseDelay:
		return fmt.Errorf("RETRY_MAX_DELAY must be >= RETRY_BASE_DELAY")
	case c.Retention.HorizonDays <= 0:
		return fmt.Errorf("RETENTION_HORIZON_DAYS must be positive")
	case c.Retention.Interval <= 0:
		return fmt.Errorf("RETENTION_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

// getEnvDuration 支持 "10s" 形式，纯数字按秒处理
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
