package repository

import (
	"context"
	"database/sql"
	"fmt"

	"sunlight-backend/internal/models"

	"go.uber.org/zap"
)

// MetadataRepository 传感器/传感器组静态元数据仓库（本系统只读）
type MetadataRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMetadataRepository 创建元数据仓库
func NewMetadataRepository(db *sql.DB, logger *zap.Logger) *MetadataRepository {
	return &MetadataRepository{
		db:     db,
		logger: logger,
	}
}

// ListSensors 获取全部传感器元数据
func (r *MetadataRepository) ListSensors(ctx context.Context) ([]models.SensorMetadata, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sensor_id, sensor_set_id, position, board_type
		FROM sensors
		ORDER BY sensor_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensors: %w", err)
	}
	defer rows.Close()

	var sensors []models.SensorMetadata
	for rows.Next() {
		var s models.SensorMetadata
		if err := rows.Scan(&s.SensorID, &s.SensorSetID, &s.Position, &s.BoardType); err != nil {
			return nil, fmt.Errorf("failed to scan sensor: %w", err)
		}
		sensors = append(sensors, s)
	}

	return sensors, rows.Err()
}

// ListSensorSets 获取全部传感器组元数据
func (r *MetadataRepository) ListSensorSets(ctx context.Context) ([]models.SensorSetMetadata, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sensor_set_id, name, timezone, latitude, longitude
		FROM sensor_sets
		ORDER BY sensor_set_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor sets: %w", err)
	}
	defer rows.Close()

	var sets []models.SensorSetMetadata
	for rows.Next() {
		var s models.SensorSetMetadata
		if err := rows.Scan(&s.SensorSetID, &s.Name, &s.Timezone, &s.Latitude, &s.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan sensor set: %w", err)
		}
		sets = append(sets, s)
	}

	return sets, rows.Err()
}

// GetSensorSet 获取单个传感器组元数据
func (r *MetadataRepository) GetSensorSet(ctx context.Context, sensorSetID string) (*models.SensorSetMetadata, error) {
	if sensorSetID == "" {
		return nil, fmt.Errorf("sensor_set_id is required")
	}

	var s models.SensorSetMetadata
	err := r.db.QueryRowContext(ctx, `
		SELECT sensor_set_id, name, timezone, latitude, longitude
		FROM sensor_sets
		WHERE sensor_set_id = $1
	`, sensorSetID).Scan(&s.SensorSetID, &s.Name, &s.Timezone, &s.Latitude, &s.Longitude)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sensor set not found: %s", sensorSetID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sensor set: %w", err)
	}

	return &s, nil
}
