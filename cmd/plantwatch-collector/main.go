package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"plantwatch-collector/common/logger"
	"plantwatch-collector/internal/config"
	"plantwatch-collector/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "plantwatch-collector")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	collectorService, err := service.NewCollectorService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create collector service",
			zap.Error(err),
		)
	}
	defer collectorService.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动服务（在 goroutine 中）
	serviceErrChan := make(chan error, 1)
	go func() {
		serviceErrChan <- collectorService.Start(ctx)
	}()

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
		// 等待调度周期和 HTTP 请求结束后再关闭连接
		if err := <-serviceErrChan; err != nil {
			log.Error("Service stopped with error", zap.Error(err))
		}
	case err := <-serviceErrChan:
		if err != nil {
			log.Error("Service error", zap.Error(err))
			collectorService.Stop()
			os.Exit(1)
		}
	}

	log.Info("Collector service stopped")
}
