package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sunlight-backend/internal/config"
	"sunlight-backend/internal/consumer"
	"sunlight-backend/internal/notifier"
	"sunlight-backend/internal/repository"

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
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "sunlight-ingest")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sunlight-ingest service")

	// 连接 PostgreSQL（raw store）
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// 连接 Redis（持久队列）
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	defer rediscommon.Close(redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	readingsRepo := repository.NewReadingsRepository(db, log)
	statusNotifier := notifier.NewNotifier(cfg, log)
	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, readingsRepo, statusNotifier, log)

	errChan := make(chan error, 1)
	go func() {
		if err := streamConsumer.Start(ctx); err != nil {
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
		log.Error("Consumer error", zap.Error(err))
	}
	cancel()

	log.Info("Service stopped")
}
