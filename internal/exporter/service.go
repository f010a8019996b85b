package exporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sunlight-backend/internal/config"
	"sunlight-backend/internal/models"
	"sunlight-backend/internal/scheduler"

	"go.uber.org/zap"
)

// LatestSource 最新状态数据源（raw store 侧的缓存表）
type LatestSource interface {
	GetLatestReadings(ctx context.Context, sensorSetID string) ([]models.LatestReading, error)
}

// HistorySource 历史曲线数据源（aggregate store 的增量读取）
type HistorySource interface {
	GetHistorySince(ctx context.Context, since time.Time, limit int) ([]models.HistoryPoint, time.Time, error)
}

// MetadataSource 传感器与传感器组元数据源
type MetadataSource interface {
	ListSensors(ctx context.Context) ([]models.SensorMetadata, error)
	ListSensorSets(ctx context.Context) ([]models.SensorSetMetadata, error)
}

// Service 服务端导出器
// 把 raw store 的最新状态与 aggregate store 的历史曲线投影到 serving store，
// 历史导出通过 last_updated 游标增量推进。
type Service struct {
	config   *config.Config
	latest   LatestSource
	history  HistorySource
	metadata MetadataSource
	serving  ServingStore
	weather  *WeatherFetcher
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewService 创建导出服务
func NewService(
	cfg *config.Config,
	latest LatestSource,
	history HistorySource,
	metadata MetadataSource,
	serving ServingStore,
	weather *WeatherFetcher,
	logger *zap.Logger,
) *Service {
	return &Service{
		config:   cfg,
		latest:   latest,
		history:  history,
		metadata: metadata,
		serving:  serving,
		weather:  weather,
		logger:   logger,
	}
}

// Run 执行一次导出
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("export: %w", scheduler.ErrRunInProgress)
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.config.Exporter.RunTimeout)
	defer cancel()

	sets, err := s.metadata.ListSensorSets(runCtx)
	if err != nil {
		return fmt.Errorf("failed to list sensor sets: %w", err)
	}
	sensors, err := s.metadata.ListSensors(runCtx)
	if err != nil {
		return fmt.Errorf("failed to list sensors: %w", err)
	}

	for _, set := range sets {
		if err := s.exportLatest(runCtx, set.SensorSetID, sensors); err != nil {
			s.logger.Error("Failed to export latest projections",
				zap.String("sensor_set_id", set.SensorSetID),
				zap.Error(err),
			)
		}
	}

	if err := s.exportHistory(runCtx); err != nil {
		s.logger.Error("Failed to export history", zap.Error(err))
	}

	if s.weather != nil && s.config.Exporter.WeatherEnable {
		for _, set := range sets {
			if err := s.weather.FetchAndStore(runCtx, &set); err != nil {
				s.logger.Error("Failed to export weather",
					zap.String("sensor_set_id", set.SensorSetID),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}

// exportLatest 导出一个传感器组的最新状态投影
// 遥测不可达时降级为仅元数据投影，仪表盘仍能列出传感器
func (s *Service) exportLatest(ctx context.Context, sensorSetID string, sensors []models.SensorMetadata) error {
	byID := make(map[string]models.SensorMetadata)
	for _, m := range sensors {
		if m.SensorSetID == sensorSetID {
			byID[m.SensorID] = m
		}
	}

	readings, err := s.latest.GetLatestReadings(ctx, sensorSetID)
	if err != nil {
		s.logger.Warn("Latest readings unavailable, falling back to metadata-only projections",
			zap.String("sensor_set_id", sensorSetID),
			zap.Error(err),
		)
		readings = nil
	}

	seen := make(map[string]bool)
	projections := make([]models.ServingProjection, 0, len(byID))
	for _, lr := range readings {
		meta := byID[lr.SensorID]
		lastSeen := lr.LastSeen
		projections = append(projections, models.ServingProjection{
			SensorID:       lr.SensorID,
			SensorSetID:    sensorSetID,
			LightIntensity: lr.LightIntensity,
			BatteryPercent: lr.BatteryPercent,
			WifiDbm:        lr.WifiDbm,
			ChipTempF:      lr.ChipTempF,
			LastSeen:       &lastSeen,
			Position:       meta.Position,
			BoardType:      meta.BoardType,
		})
		seen[lr.SensorID] = true
	}

	// 从未上报过的传感器也出现在投影中（遥测字段为 null）
	for id, meta := range byID {
		if !seen[id] {
			projections = append(projections, models.ServingProjection{
				SensorID:    id,
				SensorSetID: sensorSetID,
				Position:    meta.Position,
				BoardType:   meta.BoardType,
			})
		}
	}

	if err := s.serving.WriteLatest(ctx, sensorSetID, projections); err != nil {
		return err
	}

	s.logger.Info("Exported latest projections",
		zap.String("sensor_set_id", sensorSetID),
		zap.Int("count", len(projections)),
	)
	return nil
}

// exportHistory 增量导出历史曲线
// 游标记录上次导出覆盖的最大 last_updated，本次只取其后的聚合点
func (s *Service) exportHistory(ctx context.Context) error {
	cursor, err := s.serving.GetCursor(ctx, "history")
	if err != nil {
		return err
	}

	points, newCursor, err := s.history.GetHistorySince(ctx, cursor, s.config.Exporter.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to read history since %s: %w", cursor.Format(time.RFC3339), err)
	}
	if len(points) == 0 {
		return nil
	}

	if err := s.serving.AppendHistory(ctx, points, int64(s.config.Exporter.HistoryLimit)); err != nil {
		return err
	}
	if err := s.serving.SetCursor(ctx, "history", newCursor); err != nil {
		return err
	}

	s.logger.Info("Exported history points",
		zap.Int("count", len(points)),
		zap.Time("cursor", newCursor),
	)
	return nil
}
