package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sunlight-backend/internal/config"
	"sunlight-backend/internal/httpapi"
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
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "sunlight-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sunlight-api service")

	// 连接 PostgreSQL（元数据 + 日报数据）
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// 连接 Redis（serving store）
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	defer rediscommon.Close(redisClient)

	metadataRepo := repository.NewMetadataRepository(db, log)
	aggregatesRepo := repository.NewAggregatesRepository(db, log)
	apiServer := httpapi.NewServer(metadataRepo, aggregatesRepo, redisClient, log)

	server := &http.Server{
		Addr:         cfg.API.ListenAddr,
		Handler:      apiServer,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("API listening", zap.String("listen_addr", cfg.API.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
		log.Error("Server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down server", zap.Error(err))
	}

	log.Info("Service stopped")
}
