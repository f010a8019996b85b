package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sunlight-backend/internal/config"
	"sunlight-backend/internal/downsampler"
	"sunlight-backend/internal/repository"
	"sunlight-backend/internal/scheduler"

	"sunlight-backend/common/database"
	logpkg "sunlight-backend/common/logger"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "sunlight-downsampler")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sunlight-downsampler service")

	// 连接 PostgreSQL（raw store + aggregate store）
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	aggregatesRepo := repository.NewAggregatesRepository(db, log)
	svc := downsampler.NewService(cfg, aggregatesRepo, log)

	sched := scheduler.NewScheduler(scheduler.Options{
		Name:         "downsampler",
		TriggerMode:  cfg.Downsampler.TriggerMode,
		Interval:     cfg.Downsampler.Interval,
		ListenAddr:   cfg.Downsampler.ListenAddr,
		ServiceToken: cfg.Downsampler.ServiceToken,
	}, svc, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := sched.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		log.Error("Scheduler error", zap.Error(err))
	}
	cancel()

	log.Info("Service stopped")
}
