package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"sunlight-backend/internal/models"

	"github.com/go-redis/redis/v8"
)

// serving store 键名约定
const (
	latestKeyPrefix        = "serving:latest:"         // + sensor_set_id，hash：sensor_id -> 投影 JSON
	historyKeyPrefix       = "serving:history:"        // + sensor_id，hash：桶起点时间 -> 历史曲线点 JSON
	weatherDailyKeyPrefix  = "serving:weather:daily:"  // + sensor_set_id
	weatherHourlyKeyPrefix = "serving:weather:hourly:" // + sensor_set_id
	exportCursorKeyPrefix  = "serving:export:"         // + 导出名 + ":last_run"
)

// ServingStore 服务端投影存储接口（Redis 实现，测试中可替换）
type ServingStore interface {
	WriteLatest(ctx context.Context, sensorSetID string, projections []models.ServingProjection) error
	AppendHistory(ctx context.Context, points []models.HistoryPoint, maxLen int64) error
	WriteDailyWeather(ctx context.Context, sensorSetID string, records []models.DailyWeather) error
	WriteHourlyWeather(ctx context.Context, sensorSetID string, records []models.HourlyWeather) error
	GetCursor(ctx context.Context, name string) (time.Time, error)
	SetCursor(ctx context.Context, name string, t time.Time) error
}

// RedisServingStore Redis 后端的 serving store
type RedisServingStore struct {
	client *redis.Client
}

// NewRedisServingStore 创建 Redis serving store
func NewRedisServingStore(client *redis.Client) *RedisServingStore {
	return &RedisServingStore{client: client}
}

// WriteLatest 整体替换一个传感器组的最新状态投影
// hash 字段逐个覆盖后删除本次未出现的传感器，保证旧条目不残留
func (s *RedisServingStore) WriteLatest(ctx context.Context, sensorSetID string, projections []models.ServingProjection) error {
	key := latestKeyPrefix + sensorSetID

	fields := make(map[string]interface{}, len(projections))
	for _, p := range projections {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal projection for %s: %w", p.SensorID, err)
		}
		fields[p.SensorID] = string(data)
	}

	existing, err := s.client.HKeys(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to list existing projections: %w", err)
	}

	pipe := s.client.TxPipeline()
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
	}
	for _, field := range existing {
		if _, ok := fields[field]; !ok {
			pipe.HDel(ctx, key, field)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write latest projections: %w", err)
	}
	return nil
}

// AppendHistory 写入历史曲线点并裁剪到保留长度
// 每个传感器一个 hash，field 为 15 分钟桶的起点时间（UTC RFC3339）：
// 跨越导出游标的桶被再次导出时覆盖旧值，而不是追加重复条目
func (s *RedisServingStore) AppendHistory(ctx context.Context, points []models.HistoryPoint, maxLen int64) error {
	if len(points) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	touched := make(map[string]bool)
	for _, p := range points {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal history point: %w", err)
		}
		key := historyKeyPrefix + p.SensorID
		pipe.HSet(ctx, key, p.ObservationMinute.UTC().Format(time.RFC3339), string(data))
		touched[key] = true
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write history points: %w", err)
	}

	for key := range touched {
		if err := s.trimHistory(ctx, key, maxLen); err != nil {
			return err
		}
	}
	return nil
}

// trimHistory 删除超出保留长度的最旧桶
// UTC RFC3339 字段的字典序即时间序
func (s *RedisServingStore) trimHistory(ctx context.Context, key string, maxLen int64) error {
	fields, err := s.client.HKeys(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to list history buckets for %s: %w", key, err)
	}
	if int64(len(fields)) <= maxLen {
		return nil
	}
	sort.Strings(fields)
	stale := fields[:int64(len(fields))-maxLen]
	if err := s.client.HDel(ctx, key, stale...).Err(); err != nil {
		return fmt.Errorf("failed to trim history for %s: %w", key, err)
	}
	return nil
}

// WriteDailyWeather 整体替换一个传感器组的按天天气文档
func (s *RedisServingStore) WriteDailyWeather(ctx context.Context, sensorSetID string, records []models.DailyWeather) error {
	return s.writeJSON(ctx, weatherDailyKeyPrefix+sensorSetID, records)
}

// WriteHourlyWeather 整体替换一个传感器组的按小时天气文档
func (s *RedisServingStore) WriteHourlyWeather(ctx context.Context, sensorSetID string, records []models.HourlyWeather) error {
	return s.writeJSON(ctx, weatherHourlyKeyPrefix+sensorSetID, records)
}

func (s *RedisServingStore) writeJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, string(data), 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// GetCursor 读取导出游标，不存在时返回零值时间
func (s *RedisServingStore) GetCursor(ctx context.Context, name string) (time.Time, error) {
	key := exportCursorKeyPrefix + name + ":last_run"
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read cursor %s: %w", name, err)
	}

	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cursor value for %s: %w", name, err)
	}
	return t, nil
}

// SetCursor 写入导出游标
func (s *RedisServingStore) SetCursor(ctx context.Context, name string, t time.Time) error {
	key := exportCursorKeyPrefix + name + ":last_run"
	if err := s.client.Set(ctx, key, t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("failed to write cursor %s: %w", name, err)
	}
	return nil
}
