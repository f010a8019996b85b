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
	"sunlight-backend/internal/gateway"

	logpkg "sunlight-backend/common/logger"
	mqttcommon "sunlight-backend/common/mqtt"
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
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "sunlight-gateway")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sunlight-gateway service")

	// 连接 Redis（持久队列）
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	defer rediscommon.Close(redisClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	publisher := gateway.NewStreamPublisher(redisClient, cfg.Queue.Stream, cfg.Queue.MaxLen)
	handler := gateway.NewHandler(cfg.Gateway.BearerToken, publisher, log)

	// MQTT 旁路摄入（可选）
	var ingest *gateway.MQTTIngest
	if cfg.Gateway.MQTTEnabled {
		mqttClient, err := mqttcommon.NewClient(&cfg.MQTT)
		if err != nil {
			log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		ingest = gateway.NewMQTTIngest(mqttClient, publisher, cfg.Gateway.MQTTTopic, log)
		if err := ingest.Start(ctx); err != nil {
			log.Fatal("Failed to start MQTT ingest", zap.Error(err))
		}
	}

	server := &http.Server{
		Addr:         cfg.Gateway.ListenAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Gateway listening", zap.String("listen_addr", cfg.Gateway.ListenAddr))
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
	cancel()

	if ingest != nil {
		if err := ingest.Stop(); err != nil {
			log.Error("Error stopping MQTT ingest", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down server", zap.Error(err))
	}

	log.Info("Service stopped")
}
