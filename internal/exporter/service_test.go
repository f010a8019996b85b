package exporter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sunlight-backend/internal/config"
	"sunlight-backend/internal/exporter"
	"sunlight-backend/internal/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeServingStore struct {
	latest  map[string][]models.ServingProjection
	history []models.HistoryPoint
	cursors map[string]time.Time
}

func newFakeServingStore() *fakeServingStore {
	return &fakeServingStore{
		latest:  make(map[string][]models.ServingProjection),
		cursors: make(map[string]time.Time),
	}
}

func (f *fakeServingStore) WriteLatest(ctx context.Context, sensorSetID string, projections []models.ServingProjection) error {
	f.latest[sensorSetID] = projections
	return nil
}

func (f *fakeServingStore) AppendHistory(ctx context.Context, points []models.HistoryPoint, maxLen int64) error {
	f.history = append(f.history, points...)
	return nil
}

func (f *fakeServingStore) WriteDailyWeather(ctx context.Context, sensorSetID string, records []models.DailyWeather) error {
	return nil
}

func (f *fakeServingStore) WriteHourlyWeather(ctx context.Context, sensorSetID string, records []models.HourlyWeather) error {
	return nil
}

func (f *fakeServingStore) GetCursor(ctx context.Context, name string) (time.Time, error) {
	return f.cursors[name], nil
}

func (f *fakeServingStore) SetCursor(ctx context.Context, name string, t time.Time) error {
	f.cursors[name] = t
	return nil
}

type fakeLatestSource struct {
	readings []models.LatestReading
	err      error
}

func (f *fakeLatestSource) GetLatestReadings(ctx context.Context, sensorSetID string) ([]models.LatestReading, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.readings, nil
}

type fakeHistorySource struct {
	points    []models.HistoryPoint
	cursor    time.Time
	gotSince  time.Time
	gotLimit  int
}

func (f *fakeHistorySource) GetHistorySince(ctx context.Context, since time.Time, limit int) ([]models.HistoryPoint, time.Time, error) {
	f.gotSince = since
	f.gotLimit = limit
	return f.points, f.cursor, nil
}

type fakeMetadataSource struct {
	sensors []models.SensorMetadata
	sets    []models.SensorSetMetadata
}

func (f *fakeMetadataSource) ListSensors(ctx context.Context) ([]models.SensorMetadata, error) {
	return f.sensors, nil
}

func (f *fakeMetadataSource) ListSensorSets(ctx context.Context) ([]models.SensorSetMetadata, error) {
	return f.sets, nil
}

func exportConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Exporter.RunTimeout = time.Minute
	cfg.Exporter.HistoryLimit = 500
	return cfg
}

func floatPtr(v float64) *float64 { return &v }

func TestService_Run_ExportsLatestProjections(t *testing.T) {
	lastSeen := time.Date(2026, 5, 1, 12, 0, 15, 0, time.UTC)
	latest := &fakeLatestSource{readings: []models.LatestReading{
		{
			SensorID:       "sensor-a",
			SensorSetID:    "set-1",
			LastSeen:       lastSeen,
			LightIntensity: floatPtr(120.5),
			BatteryPercent: floatPtr(85),
		},
	}}
	metadata := &fakeMetadataSource{
		sets: []models.SensorSetMetadata{{SensorSetID: "set-1"}},
		sensors: []models.SensorMetadata{
			{SensorID: "sensor-a", SensorSetID: "set-1", Position: "roof-south", BoardType: "esp32"},
			{SensorID: "sensor-b", SensorSetID: "set-1", Position: "roof-north", BoardType: "esp32"},
		},
	}
	serving := newFakeServingStore()

	svc := exporter.NewService(exportConfig(), latest, &fakeHistorySource{}, metadata, serving, nil, zap.NewNop())
	require.NoError(t, svc.Run(context.Background()))

	projections := serving.latest["set-1"]
	require.Len(t, projections, 2)

	byID := make(map[string]models.ServingProjection)
	for _, p := range projections {
		byID[p.SensorID] = p
	}

	// 已上报的传感器：遥测 + 元数据
	require.Equal(t, 120.5, *byID["sensor-a"].LightIntensity)
	require.Equal(t, "roof-south", byID["sensor-a"].Position)
	require.Equal(t, lastSeen, *byID["sensor-a"].LastSeen)

	// 从未上报的传感器：仅元数据，遥测字段为 null
	require.Nil(t, byID["sensor-b"].LightIntensity)
	require.Nil(t, byID["sensor-b"].LastSeen)
	require.Equal(t, "roof-north", byID["sensor-b"].Position)
}

func TestService_Run_DegradesToMetadataOnlyProjections(t *testing.T) {
	latest := &fakeLatestSource{err: errors.New("raw store unreachable")}
	metadata := &fakeMetadataSource{
		sets: []models.SensorSetMetadata{{SensorSetID: "set-1"}},
		sensors: []models.SensorMetadata{
			{SensorID: "sensor-a", SensorSetID: "set-1", Position: "roof-south"},
		},
	}
	serving := newFakeServingStore()

	svc := exporter.NewService(exportConfig(), latest, &fakeHistorySource{}, metadata, serving, nil, zap.NewNop())
	require.NoError(t, svc.Run(context.Background()))

	// 遥测不可达时仍写出元数据投影，仪表盘能列出传感器
	projections := serving.latest["set-1"]
	require.Len(t, projections, 1)
	require.Equal(t, "sensor-a", projections[0].SensorID)
	require.Nil(t, projections[0].LightIntensity)
	require.Equal(t, "roof-south", projections[0].Position)
}

func TestService_Run_AdvancesHistoryCursor(t *testing.T) {
	prevCursor := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
	newCursor := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	history := &fakeHistorySource{
		points: []models.HistoryPoint{
			{SensorID: "sensor-a", ObservationMinute: newCursor, SmoothedLightIntensity: 250},
		},
		cursor: newCursor,
	}
	serving := newFakeServingStore()
	serving.cursors["history"] = prevCursor

	svc := exporter.NewService(exportConfig(), &fakeLatestSource{}, history, &fakeMetadataSource{}, serving, nil, zap.NewNop())
	require.NoError(t, svc.Run(context.Background()))

	require.Equal(t, prevCursor, history.gotSince)
	require.Equal(t, 500, history.gotLimit)
	require.Len(t, serving.history, 1)
	require.Equal(t, newCursor, serving.cursors["history"])
}

func TestService_Run_EmptyHistoryKeepsCursor(t *testing.T) {
	prevCursor := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
	serving := newFakeServingStore()
	serving.cursors["history"] = prevCursor

	svc := exporter.NewService(exportConfig(), &fakeLatestSource{}, &fakeHistorySource{}, &fakeMetadataSource{}, serving, nil, zap.NewNop())
	require.NoError(t, svc.Run(context.Background()))

	require.Empty(t, serving.history)
	require.Equal(t, prevCursor, serving.cursors["history"])
}
