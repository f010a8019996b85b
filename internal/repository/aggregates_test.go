package repository_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"sunlight-backend/internal/models"
	"sunlight-backend/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func passThroughSelector(candidates []models.StoredReading) []models.AggregatePoint {
	points := make([]models.AggregatePoint, 0, len(candidates))
	for _, c := range candidates {
		points = append(points, models.AggregatePoint{
			ObservationMinute:      c.ObservationMinute(),
			SensorID:               c.SensorID,
			SensorSetID:            c.SensorSetID,
			SmoothedLightIntensity: *c.LightIntensity,
		})
	}
	return points
}

func TestRunMerge_EmptyStores_ReturnsEpochWatermark(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("aggregate_points").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT last_minute FROM downsample_cursor`).
		WithArgs("aggregate_points").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT MAX\(observation_minute\) FROM aggregate_points`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery(`FROM raw_readings`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sensor_id", "sensor_set_id", "timestamp", "light_intensity"}))
	mock.ExpectCommit()

	repo := repository.NewAggregatesRepository(db, zap.NewNop())
	result, err := repo.RunMerge(context.Background(), "aggregate_points", 0, passThroughSelector)
	require.NoError(t, err)
	require.Equal(t, repository.EpochSentinel, result.Watermark)
	require.Equal(t, repository.EpochSentinel, result.NewWatermark)
	require.Equal(t, 0, result.Candidates)
	require.Equal(t, 0, result.Merged)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMerge_MergesCandidatesAndAdvancesCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	watermark := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	minute1 := watermark.Add(time.Minute)
	minute2 := watermark.Add(2 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("aggregate_points").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT last_minute FROM downsample_cursor`).
		WithArgs("aggregate_points").
		WillReturnRows(sqlmock.NewRows([]string{"last_minute"}).AddRow(watermark))
	mock.ExpectQuery(`FROM raw_readings`).
		WithArgs(watermark).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sensor_id", "sensor_set_id", "timestamp", "light_intensity"}).
			AddRow(int64(11), "sensor-a", "set-1", minute1.Add(10*time.Second), 120.5).
			AddRow(int64(12), "sensor-a", "set-1", minute2.Add(5*time.Second), 340.0))

	mock.ExpectPrepare(`INSERT INTO aggregate_points`)
	mock.ExpectExec(`INSERT INTO aggregate_points`).
		WithArgs(minute1, "sensor-a", "set-1", 120.5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO aggregate_points`).
		WithArgs(minute2, "sensor-a", "set-1", 340.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`INSERT INTO downsample_cursor`).
		WithArgs("aggregate_points", minute2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := repository.NewAggregatesRepository(db, zap.NewNop())
	result, err := repo.RunMerge(context.Background(), "aggregate_points", 0, passThroughSelector)
	require.NoError(t, err)
	require.Equal(t, watermark, result.Watermark)
	require.Equal(t, minute2, result.NewWatermark)
	require.Equal(t, 2, result.Candidates)
	require.Equal(t, 2, result.Merged)
	require.NoError(t, mock.ExpectationsWereMet())
}

// 水位线分钟已封闭：候选窗口必须从水位线 +1 分钟开启，
// 落在水位线分钟内（:00 之后）的读数不得再次成为候选。
// 空运行不写聚合点、不推进游标，last_updated 保持不变。
func TestRunMerge_WatermarkMinuteIsClosed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	watermark := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("aggregate_points").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT last_minute FROM downsample_cursor`).
		WithArgs("aggregate_points").
		WillReturnRows(sqlmock.NewRows([]string{"last_minute"}).AddRow(watermark))
	// 形如 12:00:30 的行只能被数据库侧的 +1 分钟窗口挡下，
	// 因此这里钉死查询文本本身
	mock.ExpectQuery(`WHERE timestamp >= \$1 \+ interval '1 minute'`).
		WithArgs(watermark).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sensor_id", "sensor_set_id", "timestamp", "light_intensity"}))
	mock.ExpectCommit()

	repo := repository.NewAggregatesRepository(db, zap.NewNop())
	result, err := repo.RunMerge(context.Background(), "aggregate_points", 0, passThroughSelector)
	require.NoError(t, err)
	require.Equal(t, 0, result.Candidates)
	require.Equal(t, 0, result.Merged)
	require.Equal(t, watermark, result.NewWatermark)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMerge_ReprocessOffsetWidensReadWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	watermark := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	grace := 10 * time.Minute

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("aggregate_points").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT last_minute FROM downsample_cursor`).
		WithArgs("aggregate_points").
		WillReturnRows(sqlmock.NewRows([]string{"last_minute"}).AddRow(watermark))
	// 读窗口起点被回拨一个宽限期
	mock.ExpectQuery(`FROM raw_readings`).
		WithArgs(watermark.Add(-grace)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sensor_id", "sensor_set_id", "timestamp", "light_intensity"}))
	mock.ExpectCommit()

	repo := repository.NewAggregatesRepository(db, zap.NewNop())
	result, err := repo.RunMerge(context.Background(), "aggregate_points", grace, passThroughSelector)
	require.NoError(t, err)
	require.Equal(t, watermark, result.NewWatermark)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMerge_DerivesWatermarkFromAggregates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	derived := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("aggregate_points").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT last_minute FROM downsample_cursor`).
		WithArgs("aggregate_points").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT MAX\(observation_minute\) FROM aggregate_points`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(derived))
	mock.ExpectQuery(`FROM raw_readings`).
		WithArgs(derived).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sensor_id", "sensor_set_id", "timestamp", "light_intensity"}))
	mock.ExpectCommit()

	repo := repository.NewAggregatesRepository(db, zap.NewNop())
	result, err := repo.RunMerge(context.Background(), "aggregate_points", 0, passThroughSelector)
	require.NoError(t, err)
	require.Equal(t, derived, result.Watermark)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHistorySince_ReturnsPointsAndCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	bucket := time.Date(2026, 5, 1, 12, 15, 0, 0, time.UTC)
	updated1 := since.Add(5 * time.Minute)
	updated2 := since.Add(8 * time.Minute)

	mock.ExpectQuery(`FROM aggregate_points`).
		WithArgs(since, 500).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "sensor_id", "sensor_set_id", "smoothed_light_intensity", "max_last_updated"}).
			AddRow(bucket, "sensor-a", "set-1", 250.0, updated1).
			AddRow(bucket, "sensor-b", "set-1", 410.0, updated2))

	repo := repository.NewAggregatesRepository(db, zap.NewNop())
	points, cursor, err := repo.GetHistorySince(context.Background(), since, 500)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, updated2, cursor)
	require.NoError(t, mock.ExpectationsWereMet())
}
