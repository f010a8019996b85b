package consumer

import (
	"context"
	"fmt"
	"time"

	"sunlight-backend/internal/config"
	"sunlight-backend/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "sunlight-backend/common/redis"
)

// RawStore 原始读数存储接口（用于在单元测试中替换 PostgreSQL 仓库）
type RawStore interface {
	InsertReadings(ctx context.Context, readings []models.Reading) (int, int, error)
	UpsertLatestReading(ctx context.Context, reading *models.Reading, ingestionTime time.Time) error
}

// StatusNotifier 状态通知接口
type StatusNotifier interface {
	ProcessStatusReading(reading *models.Reading)
}

// StreamConsumer 持久队列消费者
// 以消费者组方式拉取批次消息，写入 raw store 后确认；
// 超过确认期限的 pending 消息被重新认领（至少一次投递）。
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	rawStore    RawStore
	notifier    StatusNotifier
	logger      *zap.Logger
}

// NewStreamConsumer 创建队列消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	rawStore RawStore,
	notifier StatusNotifier,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		rawStore:    rawStore,
		notifier:    notifier,
		logger:      logger,
	}
}

// Start 启动消费循环
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, c.config.Queue.Stream, c.config.Queue.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.config.Queue.Stream),
		zap.String("consumer_group", c.config.Queue.ConsumerGroup),
		zap.String("consumer_name", c.config.Queue.ConsumerName),
	)

	backoff := time.Second
	maxBackoff := 30 * time.Second
	lastClaim := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeOnce(ctx); err != nil {
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoff),
				)
				// 指数退避：等待后重试
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoff):
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
				continue
			}
			backoff = time.Second

			// 周期性认领过期的 pending 消息（其它实例崩溃后的重投递）
			if time.Since(lastClaim) >= c.config.Queue.AckDeadline {
				c.claimExpired(ctx)
				lastClaim = time.Now()
			}
		}
	}
}

// consumeOnce 拉取并处理一批新消息
func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		c.config.Queue.Stream,
		c.config.Queue.ConsumerGroup,
		c.config.Queue.ConsumerName,
		c.config.Queue.BatchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream %s: %w", c.config.Queue.Stream, err)
	}

	for _, msg := range messages {
		c.handleMessage(ctx, &msg)
	}

	return nil
}

// claimExpired 认领超过确认期限的 pending 消息
func (c *StreamConsumer) claimExpired(ctx context.Context) {
	messages, err := rediscommon.ClaimExpired(
		ctx,
		c.redisClient,
		c.config.Queue.Stream,
		c.config.Queue.ConsumerGroup,
		c.config.Queue.ConsumerName,
		c.config.Queue.AckDeadline,
		c.config.Queue.BatchSize,
	)
	if err != nil {
		c.logger.Error("Failed to claim expired messages", zap.Error(err))
		return
	}
	if len(messages) == 0 {
		return
	}

	c.logger.Info("Claimed expired messages", zap.Int("count", len(messages)))
	for _, msg := range messages {
		c.handleMessage(ctx, &msg)
	}
}

// handleMessage 处理单条队列消息
// 写入成功后确认；无法解析的消息也确认（继续重投只会重复失败）
func (c *StreamConsumer) handleMessage(ctx context.Context, msg *rediscommon.StreamMessage) {
	if err := c.processMessage(ctx, msg); err != nil {
		c.logger.Error("Failed to process message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		// 存储类错误不确认，留给重投递路径
		return
	}

	if err := rediscommon.AckMessage(ctx, c.redisClient, c.config.Queue.Stream, c.config.Queue.ConsumerGroup, msg.ID); err != nil {
		c.logger.Error("Failed to ack message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

// processMessage 解析批次并写入 raw store
func (c *StreamConsumer) processMessage(ctx context.Context, msg *rediscommon.StreamMessage) error {
	batch, err := models.ParseBatchMessage(msg.Values)
	if err != nil {
		// 毒消息：记录后确认掉，避免无限重投
		c.logger.Error("Dropping unparseable message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return nil
	}

	success, failed, err := c.rawStore.InsertReadings(ctx, batch.Readings)
	if err != nil {
		return fmt.Errorf("failed to insert readings for batch %s: %w", batch.BatchID, err)
	}

	ingestionTime := time.Now().UTC()
	for i := range batch.Readings {
		reading := &batch.Readings[i]
		if reading.SensorID == "" {
			continue
		}

		// 最新状态缓存更新失败不阻塞批次
		if err := c.rawStore.UpsertLatestReading(ctx, reading, ingestionTime); err != nil {
			c.logger.Warn("Failed to update latest reading",
				zap.String("sensor_id", reading.SensorID),
				zap.Error(err),
			)
		}

		if reading.IsStatusMessage() && c.notifier != nil {
			c.notifier.ProcessStatusReading(reading)
		}
	}

	c.logger.Info("Processed reading batch",
		zap.String("batch_id", batch.BatchID),
		zap.String("source", batch.Source),
		zap.Int("success", success),
		zap.Int("failed", failed),
	)
	return nil
}
