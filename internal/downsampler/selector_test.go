package downsampler_test

import (
	"math/rand"
	"testing"
	"time"

	"sunlight-backend/internal/downsampler"
	"sunlight-backend/internal/models"

	"github.com/stretchr/testify/require"
)

func reading(seq int64, sensorID string, ts time.Time, intensity float64) models.StoredReading {
	v := intensity
	return models.StoredReading{
		Seq: seq,
		Reading: models.Reading{
			SensorID:       sensorID,
			SensorSetID:    "set-1",
			Timestamp:      ts,
			LightIntensity: &v,
		},
	}
}

func TestSelectRepresentatives_EarliestWins(t *testing.T) {
	minute := time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC)

	candidates := []models.StoredReading{
		reading(1, "sensor-a", minute.Add(40*time.Second), 900),
		reading(2, "sensor-a", minute.Add(5*time.Second), 100),
		reading(3, "sensor-a", minute.Add(20*time.Second), 500),
	}

	points := downsampler.SelectRepresentatives(candidates)
	require.Len(t, points, 1)
	require.Equal(t, minute, points[0].ObservationMinute)
	require.Equal(t, 100.0, points[0].SmoothedLightIntensity)
}

func TestSelectRepresentatives_TieBreakBySequence(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 30, 10, 0, time.UTC)

	// 相同时间戳：追加序号小者胜出
	candidates := []models.StoredReading{
		reading(7, "sensor-a", ts, 700),
		reading(3, "sensor-a", ts, 300),
		reading(5, "sensor-a", ts, 500),
	}

	points := downsampler.SelectRepresentatives(candidates)
	require.Len(t, points, 1)
	require.Equal(t, 300.0, points[0].SmoothedLightIntensity)
}

func TestSelectRepresentatives_OnePointPerSensorMinute(t *testing.T) {
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	var candidates []models.StoredReading
	seq := int64(1)
	for _, sensor := range []string{"sensor-a", "sensor-b"} {
		for m := 0; m < 3; m++ {
			for s := 0; s < 4; s++ {
				candidates = append(candidates,
					reading(seq, sensor, base.Add(time.Duration(m)*time.Minute+time.Duration(s*13)*time.Second), float64(seq)))
				seq++
			}
		}
	}

	points := downsampler.SelectRepresentatives(candidates)
	require.Len(t, points, 6)

	seen := make(map[string]bool)
	for _, p := range points {
		key := p.SensorID + p.ObservationMinute.String()
		require.False(t, seen[key], "duplicate point for %s", key)
		seen[key] = true
	}
}

func TestSelectRepresentatives_InputOrderIndependent(t *testing.T) {
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	var candidates []models.StoredReading
	for i := int64(1); i <= 40; i++ {
		candidates = append(candidates,
			reading(i, "sensor-a", base.Add(time.Duration(i*17)*time.Second), float64(i*10)))
	}

	expected := downsampler.SelectRepresentatives(candidates)

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 5; trial++ {
		shuffled := make([]models.StoredReading, len(candidates))
		copy(shuffled, candidates)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		require.Equal(t, expected, downsampler.SelectRepresentatives(shuffled))
	}
}

func TestSelectRepresentatives_DuplicatesCollapse(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 30, 10, 0, time.UTC)

	// 同一读数被投递两次（不同追加序号），结果与一次投递相同
	once := downsampler.SelectRepresentatives([]models.StoredReading{
		reading(1, "sensor-a", ts, 420),
	})
	twice := downsampler.SelectRepresentatives([]models.StoredReading{
		reading(1, "sensor-a", ts, 420),
		reading(2, "sensor-a", ts, 420),
	})

	require.Len(t, twice, 1)
	require.Equal(t, once[0].SmoothedLightIntensity, twice[0].SmoothedLightIntensity)
	require.Equal(t, once[0].ObservationMinute, twice[0].ObservationMinute)
}

func TestSelectRepresentatives_SkipsMissingIntensity(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 30, 5, 0, time.UTC)

	status := "[boot] battery 85%"
	candidates := []models.StoredReading{
		{
			Seq: 1,
			Reading: models.Reading{
				SensorID:  "sensor-a",
				Timestamp: ts,
				Status:    &status,
			},
		},
		reading(2, "sensor-a", ts.Add(10*time.Second), 800),
	}

	points := downsampler.SelectRepresentatives(candidates)
	require.Len(t, points, 1)
	require.Equal(t, 800.0, points[0].SmoothedLightIntensity)
}

func TestSelectRepresentatives_SortedOutput(t *testing.T) {
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	candidates := []models.StoredReading{
		reading(1, "sensor-b", base.Add(2*time.Minute), 20),
		reading(2, "sensor-a", base.Add(2*time.Minute), 10),
		reading(3, "sensor-a", base, 30),
	}

	points := downsampler.SelectRepresentatives(candidates)
	require.Len(t, points, 3)
	require.Equal(t, "sensor-a", points[0].SensorID)
	require.Equal(t, base, points[0].ObservationMinute)
	require.Equal(t, "sensor-a", points[1].SensorID)
	require.Equal(t, "sensor-b", points[2].SensorID)
}
