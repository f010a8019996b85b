package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sunlight-backend/internal/config"
	"sunlight-backend/internal/exporter"
	"sunlight-backend/internal/repository"
	"sunlight-backend/internal/scheduler"

	"sunlight-backend/common/database"
	logpkg "sunlight-backend/common/logger"
	rediscommon "sunlight-backend/common/redis"

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
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "sunlight-exporter")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sunlight-exporter service")

	// 连接 PostgreSQL（raw store + aggregate store）
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// 连接 Redis（serving store）
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	defer rediscommon.Close(redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	readingsRepo := repository.NewReadingsRepository(db, log)
	aggregatesRepo := repository.NewAggregatesRepository(db, log)
	metadataRepo := repository.NewMetadataRepository(db, log)
	weatherRepo := repository.NewWeatherRepository(db, log)
	servingStore := exporter.NewRedisServingStore(redisClient)

	var weather *exporter.WeatherFetcher
	if cfg.Exporter.WeatherEnable {
		weather = exporter.NewWeatherFetcher(cfg.Exporter.WeatherURL, weatherRepo, servingStore, log)
	}

	svc := exporter.NewService(cfg, readingsRepo, aggregatesRepo, metadataRepo, servingStore, weather, log)

	sched := scheduler.NewScheduler(scheduler.Options{
		Name:         "exporter",
		TriggerMode:  cfg.Exporter.TriggerMode,
		Interval:     cfg.Exporter.Interval,
		ListenAddr:   cfg.Exporter.ListenAddr,
		ServiceToken: cfg.Exporter.ServiceToken,
	}, svc, log)

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
