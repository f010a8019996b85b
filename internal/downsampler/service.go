package downsampler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sunlight-backend/internal/config"
	"sunlight-backend/internal/repository"
	"sunlight-backend/internal/scheduler"

	"go.uber.org/zap"
)

// MergeRunner 聚合合并执行接口（PostgreSQL 仓库实现）
type MergeRunner interface {
	RunMerge(ctx context.Context, destination string, startOffset time.Duration, selector repository.SelectorFunc) (*repository.MergeResult, error)
}

// Service 降采样服务
// 每次运行读取水位线之后的原始读数，合并每分钟代表点并推进水位线。
// 进程内 TryLock 与数据库 advisory lock 共同保证同一目的地单飞。
type Service struct {
	config *config.Config
	merger MergeRunner
	logger *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewService 创建降采样服务
func NewService(cfg *config.Config, merger MergeRunner, logger *zap.Logger) *Service {
	return &Service{
		config: cfg,
		merger: merger,
		logger: logger,
	}
}

// Run 执行一次降采样
// 已在运行时直接返回错误（调度重叠保护），不排队等待
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("downsample: %w", scheduler.ErrRunInProgress)
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.config.Downsampler.RunTimeout)
	defer cancel()

	// 迟到策略：reprocess 模式把读取窗口向前放宽一个宽限期，
	// 已合并分钟被重新计算；水位线本身从不回退
	var startOffset time.Duration
	if s.config.Downsampler.LatePolicy == config.LatePolicyReprocess {
		startOffset = s.config.Downsampler.LateGrace
	}

	start := time.Now()
	result, err := s.merger.RunMerge(runCtx, s.config.Downsampler.Destination, startOffset, SelectRepresentatives)
	if err != nil {
		return fmt.Errorf("merge failed for destination %s: %w", s.config.Downsampler.Destination, err)
	}

	s.logger.Info("Downsample run completed",
		zap.String("destination", s.config.Downsampler.Destination),
		zap.Time("watermark", result.Watermark),
		zap.Time("new_watermark", result.NewWatermark),
		zap.Int("candidates", result.Candidates),
		zap.Int("merged", result.Merged),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
