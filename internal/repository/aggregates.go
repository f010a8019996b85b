package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sunlight-backend/internal/models"

	"go.uber.org/zap"
)

// EpochSentinel 聚合目的地为空时的水位线哨兵值
var EpochSentinel = time.Unix(0, 0).UTC()

// MergeResult 一次降采样合并运行的结果
type MergeResult struct {
	Watermark    time.Time // 运行开始时的水位线
	NewWatermark time.Time // 运行结束后的水位线（无新数据时等于 Watermark）
	Candidates   int       // 候选原始读数行数
	Merged       int       // 实际合并的聚合点数
}

// SelectorFunc 从候选读数中选出每分钟代表点的纯函数
type SelectorFunc func([]models.StoredReading) []models.AggregatePoint

// AggregatesRepository 聚合点仓库（aggregate store）
// 降采样器独占写入；水位线游标与合并写在同一事务中推进
type AggregatesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAggregatesRepository 创建聚合点仓库
func NewAggregatesRepository(db *sql.DB, logger *zap.Logger) *AggregatesRepository {
	return &AggregatesRepository{
		db:     db,
		logger: logger,
	}
}

// RunMerge 执行一次完整的降采样合并
// 整个运行是单个事务：会话级 advisory lock 保证跨进程 single-flight，
// 游标读取（FOR UPDATE）、候选查询、合并写、游标推进要么全部提交要么全部回滚。
// 失败的运行不改变水位线，下一次调度重新计算出相同的候选集（幂等）。
//
// startOffset 仅在迟到数据策略为 reprocess 时非零：读窗口向前回看该宽限量，
// 但游标推进使用 GREATEST，水位线永不回退。
func (r *AggregatesRepository) RunMerge(ctx context.Context, destination string, startOffset time.Duration, selector SelectorFunc) (*MergeResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer tx.Rollback()

	// 跨进程 single-flight：两个并发运行会在此串行化
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1)::bigint)`, destination); err != nil {
		return nil, fmt.Errorf("failed to acquire merge lock: %w", err)
	}

	watermark, err := r.readWatermark(ctx, tx, destination)
	if err != nil {
		return nil, err
	}

	startTime := watermark
	if startOffset > 0 {
		startTime = watermark.Add(-startOffset)
		if startTime.Before(EpochSentinel) {
			startTime = EpochSentinel
		}
	}

	candidates, err := r.selectCandidates(ctx, tx, startTime)
	if err != nil {
		return nil, err
	}

	result := &MergeResult{
		Watermark:    watermark,
		NewWatermark: watermark,
		Candidates:   len(candidates),
	}
	if len(candidates) == 0 {
		// 无候选数据：不触碰聚合点，last_updated 保持不变
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit empty merge: %w", err)
		}
		return result, nil
	}

	points := selector(candidates)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO aggregate_points (
			observation_minute, sensor_id, sensor_set_id,
			smoothed_light_intensity, last_updated
		) VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (sensor_id, observation_minute) DO UPDATE SET
			sensor_set_id            = EXCLUDED.sensor_set_id,
			smoothed_light_intensity = EXCLUDED.smoothed_light_intensity,
			last_updated             = NOW()
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare merge statement: %w", err)
	}
	defer stmt.Close()

	maxMinute := watermark
	for i := range points {
		p := &points[i]
		if _, err := stmt.ExecContext(ctx,
			p.ObservationMinute.UTC(),
			p.SensorID,
			p.SensorSetID,
			p.SmoothedLightIntensity,
		); err != nil {
			return nil, fmt.Errorf("failed to merge point (%s, %s): %w",
				p.SensorID, p.ObservationMinute.Format(time.RFC3339), err)
		}
		result.Merged++
		if p.ObservationMinute.After(maxMinute) {
			maxMinute = p.ObservationMinute.UTC()
		}
	}

	// 游标与合并写同事务推进；GREATEST 保证水位线单调不减
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO downsample_cursor (destination, last_minute, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (destination) DO UPDATE SET
			last_minute = GREATEST(downsample_cursor.last_minute, EXCLUDED.last_minute),
			updated_at  = NOW()
	`, destination, maxMinute); err != nil {
		return nil, fmt.Errorf("failed to advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit merge: %w", err)
	}

	result.NewWatermark = maxMinute
	return result, nil
}

// readWatermark 读取当前水位线
// 优先使用显式游标（FOR UPDATE 锁住本目的地的游标行）；
// 游标缺失时回退到 MAX(observation_minute)，聚合表为空时返回 epoch 哨兵
func (r *AggregatesRepository) readWatermark(ctx context.Context, tx *sql.Tx, destination string) (time.Time, error) {
	var lastMinute time.Time
	err := tx.QueryRowContext(ctx, `
		SELECT last_minute FROM downsample_cursor
		WHERE destination = $1
		FOR UPDATE
	`, destination).Scan(&lastMinute)
	if err == nil {
		return lastMinute.UTC(), nil
	}
	if err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("failed to read cursor: %w", err)
	}

	// 游标尚未建立（首次运行或旧部署迁移而来），从聚合表推导
	var derived sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(observation_minute) FROM aggregate_points
	`).Scan(&derived)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to derive watermark: %w", err)
	}
	if !derived.Valid {
		return EpochSentinel, nil
	}
	return derived.Time.UTC(), nil
}

// selectCandidates 查询水位线分钟之后的候选读数
// 水位线分钟本身视为已封闭：落在该分钟内（含 :00 之后）的读数不再重新考虑，
// 因此窗口从水位线 +1 分钟开启。排序键 (sensor_id, timestamp, id) 给出稳定的决胜顺序。
func (r *AggregatesRepository) selectCandidates(ctx context.Context, tx *sql.Tx, startTime time.Time) ([]models.StoredReading, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, sensor_id, sensor_set_id, timestamp, light_intensity
		FROM raw_readings
		WHERE timestamp >= $1 + interval '1 minute'
		  AND light_intensity IS NOT NULL
		ORDER BY sensor_id, timestamp, id
	`, startTime.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to select candidates: %w", err)
	}
	defer rows.Close()

	var candidates []models.StoredReading
	for rows.Next() {
		var sr models.StoredReading
		if err := rows.Scan(&sr.Seq, &sr.SensorID, &sr.SensorSetID, &sr.Timestamp, &sr.LightIntensity); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, sr)
	}

	return candidates, rows.Err()
}

// GetHistorySince 增量读取 last_updated 晚于游标的聚合点，重聚合到15分钟粒度
// 返回历史点与本批次的最大 last_updated（导出游标的新值）
func (r *AggregatesRepository) GetHistorySince(ctx context.Context, since time.Time, limit int) ([]models.HistoryPoint, time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			to_timestamp(floor(extract(epoch FROM observation_minute) / 900) * 900) AS bucket,
			sensor_id,
			sensor_set_id,
			AVG(smoothed_light_intensity) AS smoothed_light_intensity,
			MAX(last_updated) AS max_last_updated
		FROM aggregate_points
		WHERE last_updated > $1
		GROUP BY 1, 2, 3
		ORDER BY max_last_updated
		LIMIT $2
	`, since.UTC(), limit)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var points []models.HistoryPoint
	maxLastUpdated := since
	for rows.Next() {
		var p models.HistoryPoint
		var lastUpdated time.Time
		if err := rows.Scan(&p.ObservationMinute, &p.SensorID, &p.SensorSetID, &p.SmoothedLightIntensity, &lastUpdated); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan history point: %w", err)
		}
		if lastUpdated.After(maxLastUpdated) {
			maxLastUpdated = lastUpdated
		}
		points = append(points, p)
	}

	return points, maxLastUpdated, rows.Err()
}

// GetPointsForDay 读取某传感器组单日的全部聚合点（报表导出用）
func (r *AggregatesRepository) GetPointsForDay(ctx context.Context, sensorSetID string, day time.Time) ([]models.AggregatePoint, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := r.db.QueryContext(ctx, `
		SELECT observation_minute, sensor_id, sensor_set_id,
		       smoothed_light_intensity, last_updated
		FROM aggregate_points
		WHERE sensor_set_id = $1
		  AND observation_minute >= $2
		  AND observation_minute < $3
		ORDER BY sensor_id, observation_minute
	`, sensorSetID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query day points: %w", err)
	}
	defer rows.Close()

	var points []models.AggregatePoint
	for rows.Next() {
		var p models.AggregatePoint
		if err := rows.Scan(&p.ObservationMinute, &p.SensorID, &p.SensorSetID, &p.SmoothedLightIntensity, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate point: %w", err)
		}
		points = append(points, p)
	}

	return points, rows.Err()
}
