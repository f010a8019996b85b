package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sunlight-backend/internal/models"

	"go.uber.org/zap"
)

// ReadingsRepository 原始读数仓库（append-only raw store）
// 队列消费者独占写入；降采样器只读
type ReadingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingsRepository 创建原始读数仓库
func NewReadingsRepository(db *sql.DB, logger *zap.Logger) *ReadingsRepository {
	return &ReadingsRepository{
		db:     db,
		logger: logger,
	}
}

// InsertReadings 批量追加原始读数
// 至少一次投递会带来重复行，raw_readings 为 append-only，重复行被降采样器吸收。
// 单行失败不中断批次，返回成功/失败计数。
func (r *ReadingsRepository) InsertReadings(ctx context.Context, readings []models.Reading) (int, int, error) {
	stmt, err := r.db.PrepareContext(ctx, `
		INSERT INTO raw_readings (
			sensor_id, sensor_set_id, timestamp, light_intensity,
			battery_voltage, battery_percent, wifi_dbm,
			chip_temp_c, chip_temp_f, status, commit_sha, ingestion_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	successCount := 0
	errorCount := 0
	ingestionTime := time.Now().UTC()

	for i := range readings {
		reading := &readings[i]
		if err := reading.Validate(); err != nil {
			r.logger.Warn("Skipping invalid reading",
				zap.String("sensor_id", reading.SensorID),
				zap.Error(err),
			)
			errorCount++
			continue
		}

		_, err := stmt.ExecContext(ctx,
			reading.SensorID,
			reading.SensorSetID,
			reading.Timestamp.UTC(),
			reading.LightIntensity,
			reading.BatteryVoltage,
			reading.BatteryPercent,
			reading.WifiDbm,
			reading.ChipTempC,
			reading.ChipTempF,
			reading.Status,
			reading.CommitSHA,
			ingestionTime,
		)
		if err != nil {
			r.logger.Error("Failed to insert reading",
				zap.String("sensor_id", reading.SensorID),
				zap.Time("timestamp", reading.Timestamp),
				zap.Error(err),
			)
			errorCount++
			continue
		}
		successCount++
	}

	return successCount, errorCount, nil
}

// UpsertLatestReading 更新传感器最后已知状态缓存
// 仅覆盖本次读数携带的字段（COALESCE 保留旧值），last_seen 总是刷新
func (r *ReadingsRepository) UpsertLatestReading(ctx context.Context, reading *models.Reading, ingestionTime time.Time) error {
	if reading.SensorID == "" {
		return fmt.Errorf("sensor_id is required")
	}

	query := `
		INSERT INTO sensor_latest_reading (
			sensor_id, sensor_set_id, timestamp, last_seen,
			light_intensity, battery_voltage, battery_percent,
			wifi_dbm, chip_temp_f, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sensor_id) DO UPDATE SET
			sensor_set_id   = COALESCE(NULLIF(EXCLUDED.sensor_set_id, ''), sensor_latest_reading.sensor_set_id),
			timestamp       = EXCLUDED.timestamp,
			last_seen       = EXCLUDED.last_seen,
			light_intensity = COALESCE(EXCLUDED.light_intensity, sensor_latest_reading.light_intensity),
			battery_voltage = COALESCE(EXCLUDED.battery_voltage, sensor_latest_reading.battery_voltage),
			battery_percent = COALESCE(EXCLUDED.battery_percent, sensor_latest_reading.battery_percent),
			wifi_dbm        = COALESCE(EXCLUDED.wifi_dbm, sensor_latest_reading.wifi_dbm),
			chip_temp_f     = COALESCE(EXCLUDED.chip_temp_f, sensor_latest_reading.chip_temp_f),
			status          = COALESCE(EXCLUDED.status, sensor_latest_reading.status)
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.SensorID,
		reading.SensorSetID,
		reading.Timestamp.UTC(),
		ingestionTime,
		reading.LightIntensity,
		reading.BatteryVoltage,
		reading.BatteryPercent,
		reading.WifiDbm,
		reading.ChipTempF,
		reading.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert latest reading for %s: %w", reading.SensorID, err)
	}

	return nil
}

// GetLatestReadings 获取每个传感器的最后已知状态（导出器读取）
// sensorSetID 为空时返回全部
func (r *ReadingsRepository) GetLatestReadings(ctx context.Context, sensorSetID string) ([]models.LatestReading, error) {
	query := `
		SELECT sensor_id, sensor_set_id, timestamp, last_seen,
		       light_intensity, battery_voltage, battery_percent,
		       wifi_dbm, chip_temp_f, status
		FROM sensor_latest_reading
	`
	var args []interface{}
	if sensorSetID != "" {
		query += ` WHERE sensor_set_id = $1`
		args = append(args, sensorSetID)
	}
	query += ` ORDER BY sensor_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest readings: %w", err)
	}
	defer rows.Close()

	var results []models.LatestReading
	for rows.Next() {
		var lr models.LatestReading
		if err := rows.Scan(
			&lr.SensorID,
			&lr.SensorSetID,
			&lr.Timestamp,
			&lr.LastSeen,
			&lr.LightIntensity,
			&lr.BatteryVoltage,
			&lr.BatteryPercent,
			&lr.WifiDbm,
			&lr.ChipTempF,
			&lr.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan latest reading: %w", err)
		}
		results = append(results, lr)
	}

	return results, rows.Err()
}
