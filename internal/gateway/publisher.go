package gateway

import (
	"context"
	"time"

	"sunlight-backend/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	rediscommon "sunlight-backend/common/redis"
)

// BatchPublisher 批次发布接口（用于在单元测试中替换 Redis）
type BatchPublisher interface {
	PublishBatch(ctx context.Context, source string, readings []models.Reading) (string, error)
}

// StreamPublisher 基于 Redis Streams 的批次发布器
// 网关持有服务自身的 Redis 凭据：传感器的粗粒度 Bearer Token
// 在此被转换为服务的发布凭据，不会继续向下游传递
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher 创建批次发布器
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// PublishBatch 发布一个批次（一个批次对应一条队列消息）
// 返回队列消息 ID；发布后近似裁剪流长度以维持有界保留窗口
func (p *StreamPublisher) PublishBatch(ctx context.Context, source string, readings []models.Reading) (string, error) {
	batch := &models.ReadingBatch{
		BatchID:    uuid.New().String(),
		Source:     source,
		ReceivedAt: time.Now().UTC(),
		Readings:   readings,
	}

	id, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, batch)
	if err != nil {
		return "", err
	}

	if p.maxLen > 0 {
		// 裁剪失败不影响本次发布
		_ = rediscommon.TrimStream(ctx, p.client, p.stream, p.maxLen)
	}

	return id, nil
}
