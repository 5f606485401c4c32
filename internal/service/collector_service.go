package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	commonconfig "plantwatch-collector/common/config"
	"plantwatch-collector/common/database"
	commonmqtt "plantwatch-collector/common/mqtt"
	commonredis "plantwatch-collector/common/redis"
	"plantwatch-collector/internal/collector"
	"plantwatch-collector/internal/config"
	"plantwatch-collector/internal/endpoint"
	"plantwatch-collector/internal/evaluator"
	"plantwatch-collector/internal/feed"
	"plantwatch-collector/internal/httpapi"
	"plantwatch-collector/internal/registry"
	"plantwatch-collector/internal/report"
	"plantwatch-collector/internal/repository"
	"plantwatch-collector/internal/retention"
	"plantwatch-collector/internal/scheduler"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// CollectorService 采集服务（整合各层）
type CollectorService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB // 内存模式下为 nil
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client

	// 各层组件
	store     repository.Store
	registry  *registry.Service
	collector *collector.Collector
	scheduler *scheduler.Scheduler
	sweeper   *retention.Sweeper
	handler   http.Handler
	server    *http.Server
}

// NewCollectorService 创建采集服务
func NewCollectorService(cfg *config.Config, logger *zap.Logger) (*CollectorService, error) {
	s := &CollectorService{config: cfg, logger: logger}

	// 1. 存储
	if err := s.initStore(); err != nil {
		return nil, err
	}

	// 2. Redis（可选）
	var publishers feed.MultiPublisher
	var latest *feed.LatestCache
	if cfg.Redis.Enabled {
		client := commonredis.NewRedisClient(&cfg.Redis.RedisConfig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := commonredis.Ping(ctx, client)
		cancel()
		if err != nil {
			_ = commonredis.Close(client)
			s.closeStore()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		s.redisClient = client
		latest = feed.NewLatestCache(client, cfg.Feed.StreamPrefix, cfg.Feed.LatestCacheTTL, logger)
		publishers = append(publishers,
			feed.NewStreamPublisher(client, cfg.Feed.StreamPrefix, cfg.Feed.StreamMaxLen, logger),
			latest,
		)
	}

	// 3. MQTT（可选）
	if cfg.MQTT.Enabled {
		client, err := commonmqtt.NewClient(&cfg.MQTT.MQTTConfig, logger)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		s.mqttClient = client
		publishers = append(publishers, feed.NewMQTTPublisher(client, cfg.MQTT.TopicPrefix, client.QoS(), logger))
	}

	// 4. 采集与调度
	s.collector = collector.NewCollector(
		collector.Config{MaxInFlight: cfg.Collector.MaxInFlight, CycleBudget: cfg.Collector.CycleBudget},
		s.store,
		endpoint.NewHTTPClient(logger),
		endpoint.NewSimulatedClient(cfg.Collector.SimSeed),
		evaluator.NewEvaluator(logger),
		publishers,
		logger,
	)
	s.scheduler = scheduler.NewScheduler(s.store, s.collector, scheduler.Options{
		TickInterval: cfg.Collector.TickInterval,
		Retry: scheduler.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Delay:       scheduler.ExponentialBackoff(cfg.Retry.BaseDelay, cfg.Retry.MaxDelay),
		},
		Simulate: cfg.Collector.Simulate,
	}, logger)
	s.sweeper = retention.NewSweeper(s.store, logger)
	s.registry = registry.NewService(s.store, cfg.Status.GracePeriod, logger)

	// 5. HTTP
	deps := httpapi.Deps{
		Registry:    s.registry,
		Readings:    s.store,
		Alerts:      s.store,
		Trigger:     s.scheduler,
		Failures:    s.collector,
		Retries:     s.scheduler,
		Publisher:   publishers,
		Reports:     report.NewGenerator(s.store),
		Sweeper:     s.sweeper,
		HorizonDays: cfg.Retention.HorizonDays,
	}
	if latest != nil {
		deps.Latest = latest
	}
	router := httpapi.NewRouter(logger)
	router.RegisterAPIRoutes(httpapi.NewAPI(deps, logger))
	router.RegisterOpsRoutes(httpapi.NewHealth(s.db, s.redisClient, s.mqttClient))
	s.handler = router
	s.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// initStore 连接 PostgreSQL；未启用或连接失败时使用内存存储
func (s *CollectorService) initStore() error {
	if !s.config.Database.Enabled {
		s.logger.Info("Database disabled, using in-memory store")
		s.store = repository.NewMemoryStore()
		return nil
	}

	db, err := database.NewPostgresDB(&s.config.Database.DatabaseConfig)
	if err != nil {
		s.logger.Warn("Database unavailable, falling back to in-memory store",
			zap.String("host", s.config.Database.Host),
			zap.Int("port", s.config.Database.Port),
			zap.Error(err),
		)
		s.store = repository.NewMemoryStore()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repository.EnsureSchema(ctx, db); err != nil {
		_ = database.Close(db)
		return err
	}

	s.db = db
	s.store = repository.NewPostgresStore(db, s.logger)
	s.logger.Info("Connected to database", zap.String("dsn", redactDSN(&s.config.Database.DatabaseConfig)))
	return nil
}

// Handler HTTP 处理器（测试用）
func (s *CollectorService) Handler() http.Handler {
	return s.handler
}

// Start 启动调度器、保留期清理与 HTTP 服务，阻塞直到 ctx 取消或任一组件出错
func (s *CollectorService) Start(ctx context.Context) error {
	s.logger.Info("Starting collector service",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.Bool("database", s.db != nil),
		zap.Bool("redis", s.redisClient != nil),
		zap.Bool("mqtt", s.mqttClient != nil),
		zap.Bool("simulate", s.config.Collector.Simulate),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return s.sweeper.Run(gctx, s.config.Retention.Interval, s.config.Retention.HorizonDays)
	})
	g.Go(func() error {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shut down http server", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// Stop 释放外部连接
func (s *CollectorService) Stop() {
	s.logger.Info("Stopping collector service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := commonredis.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
	s.closeStore()
}

func (s *CollectorService) closeStore() {
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
}

func redactDSN(cfg *commonconfig.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s", cfg.User, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}
