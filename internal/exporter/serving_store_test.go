package exporter_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sunlight-backend/internal/exporter"
	"sunlight-backend/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*exporter.RedisServingStore, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return exporter.NewRedisServingStore(client), client
}

func TestRedisServingStore_WriteLatest_ReplacesStaleEntries(t *testing.T) {
	store, client := newTestStore(t)
	ctx := context.Background()

	first := []models.ServingProjection{
		{SensorID: "sensor-a", SensorSetID: "set-1", LightIntensity: floatPtr(100)},
		{SensorID: "sensor-b", SensorSetID: "set-1", LightIntensity: floatPtr(200)},
	}
	require.NoError(t, store.WriteLatest(ctx, "set-1", first))

	// 第二次刷新少了 sensor-b：旧条目必须被清除
	second := []models.ServingProjection{
		{SensorID: "sensor-a", SensorSetID: "set-1", LightIntensity: floatPtr(150)},
	}
	require.NoError(t, store.WriteLatest(ctx, "set-1", second))

	fields, err := client.HGetAll(ctx, "serving:latest:set-1").Result()
	require.NoError(t, err)
	require.Len(t, fields, 1)

	var p models.ServingProjection
	require.NoError(t, json.Unmarshal([]byte(fields["sensor-a"]), &p))
	require.Equal(t, 150.0, *p.LightIntensity)
}

func TestRedisServingStore_WriteLatest_MissingValuesSerializeAsNull(t *testing.T) {
	store, client := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteLatest(ctx, "set-1", []models.ServingProjection{
		{SensorID: "sensor-a", SensorSetID: "set-1"},
	}))

	raw, err := client.HGet(ctx, "serving:latest:set-1", "sensor-a").Result()
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	require.Contains(t, doc, "light_intensity")
	require.Nil(t, doc["light_intensity"])
	require.Contains(t, doc, "last_seen")
	require.Nil(t, doc["last_seen"])
}

func TestRedisServingStore_AppendHistory_TrimsToMaxLen(t *testing.T) {
	store, client := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	var points []models.HistoryPoint
	for i := 0; i < 10; i++ {
		points = append(points, models.HistoryPoint{
			SensorID:               "sensor-a",
			ObservationMinute:      base.Add(time.Duration(i*15) * time.Minute),
			SmoothedLightIntensity: float64(i * 100),
		})
	}
	require.NoError(t, store.AppendHistory(ctx, points, 4))

	entries, err := client.HGetAll(ctx, "serving:history:sensor-a").Result()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	// 保留的是最新的 4 个桶
	newest := base.Add(9 * 15 * time.Minute).Format(time.RFC3339)
	var last models.HistoryPoint
	require.NoError(t, json.Unmarshal([]byte(entries[newest]), &last))
	require.Equal(t, 900.0, last.SmoothedLightIntensity)

	oldest := base.Format(time.RFC3339)
	require.NotContains(t, entries, oldest)
}

func TestRedisServingStore_AppendHistory_ReExportReplacesBucket(t *testing.T) {
	store, client := newTestStore(t)
	ctx := context.Background()

	bucket := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendHistory(ctx, []models.HistoryPoint{
		{SensorID: "sensor-a", ObservationMinute: bucket, SmoothedLightIntensity: 100},
	}, 10))

	// 同一个 15 分钟桶被再次导出（桶内新增读数后重聚合）：
	// 覆盖旧值，不产生重复条目
	require.NoError(t, store.AppendHistory(ctx, []models.HistoryPoint{
		{SensorID: "sensor-a", ObservationMinute: bucket, SmoothedLightIntensity: 140},
	}, 10))

	entries, err := client.HGetAll(ctx, "serving:history:sensor-a").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var p models.HistoryPoint
	require.NoError(t, json.Unmarshal([]byte(entries[bucket.Format(time.RFC3339)]), &p))
	require.Equal(t, 140.0, p.SmoothedLightIntensity)
}

func TestRedisServingStore_CursorRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// 游标不存在时返回零值
	got, err := store.GetCursor(ctx, "history")
	require.NoError(t, err)
	require.True(t, got.IsZero())

	want := time.Date(2026, 5, 1, 12, 34, 56, 789000000, time.UTC)
	require.NoError(t, store.SetCursor(ctx, "history", want))

	got, err = store.GetCursor(ctx, "history")
	require.NoError(t, err)
	require.True(t, got.Equal(want))
}
