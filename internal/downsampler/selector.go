package downsampler

import (
	"sort"
	"time"

	"sunlight-backend/internal/models"
)

type minuteKey struct {
	sensorID string
	minute   time.Time
}

// SelectRepresentatives 从候选读数中为每个 (sensor_id, 分钟) 选出代表点
// 规则：时间戳最早的读数胜出；时间戳相同时取追加序号最小者。
// 纯函数，输入顺序不影响结果；重复读数被同一键吸收。
func SelectRepresentatives(candidates []models.StoredReading) []models.AggregatePoint {
	winners := make(map[minuteKey]models.StoredReading)

	for _, c := range candidates {
		if c.LightIntensity == nil {
			continue
		}
		key := minuteKey{sensorID: c.SensorID, minute: c.ObservationMinute()}

		current, exists := winners[key]
		if !exists {
			winners[key] = c
			continue
		}

		ct := c.Timestamp.UTC()
		wt := current.Timestamp.UTC()
		if ct.Before(wt) || (ct.Equal(wt) && c.Seq < current.Seq) {
			winners[key] = c
		}
	}

	points := make([]models.AggregatePoint, 0, len(winners))
	for key, w := range winners {
		points = append(points, models.AggregatePoint{
			ObservationMinute:      key.minute,
			SensorID:               w.SensorID,
			SensorSetID:            w.SensorSetID,
			SmoothedLightIntensity: *w.LightIntensity,
		})
	}

	// 输出排序保证确定性（便于测试与日志对照）
	sort.Slice(points, func(i, j int) bool {
		if !points[i].ObservationMinute.Equal(points[j].ObservationMinute) {
			return points[i].ObservationMinute.Before(points[j].ObservationMinute)
		}
		return points[i].SensorID < points[j].SensorID
	})

	return points
}
