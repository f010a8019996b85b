package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"sunlight-backend/internal/models"

	"github.com/go-resty/resty/v2"
)

// 模拟传感器及其相位偏移（分钟）：同一屋檐下的传感器
// 因朝向不同，光照峰值出现的时间依次错开
var sensorPhases = map[string]float64{
	"sim-sensor-01": 0,
	"sim-sensor-02": 30,
	"sim-sensor-03": 60,
	"sim-sensor-04": 90,
}

func main() {
	var (
		gatewayURL  = flag.String("gateway", "http://localhost:8080", "ingestion gateway base URL")
		token       = flag.String("token", os.Getenv("GATEWAY_BEARER_TOKEN"), "gateway bearer token")
		sensorSetID = flag.String("sensor-set", "sim-set", "sensor set id for generated readings")
		hours       = flag.Int("hours", 24, "hours of history to generate")
		stepMinutes = flag.Int("step", 1, "minutes between readings")
		batchSize   = flag.Int("batch", 120, "readings per request")
		dryRun      = flag.Bool("dry-run", false, "print readings instead of posting")
	)
	flag.Parse()

	end := time.Now().UTC().Truncate(time.Minute)
	start := end.Add(-time.Duration(*hours) * time.Hour)

	var readings []models.Reading
	for ts := start; ts.Before(end); ts = ts.Add(time.Duration(*stepMinutes) * time.Minute) {
		for sensorID, phase := range sensorPhases {
			intensity := syntheticIntensity(ts, phase)
			battery := 80.0 + 10.0*math.Sin(float64(ts.Unix())/7200.0)
			wifi := -55.0 - 5.0*math.Cos(float64(ts.Unix())/3600.0)

			readings = append(readings, models.Reading{
				SensorID:       sensorID,
				SensorSetID:    *sensorSetID,
				Timestamp:      ts,
				LightIntensity: &intensity,
				BatteryPercent: &battery,
				WifiDbm:        &wifi,
			})
		}
	}

	if *dryRun {
		for _, r := range readings {
			fmt.Printf("%s %s %.1f\n", r.Timestamp.Format(time.RFC3339), r.SensorID, *r.LightIntensity)
		}
		return
	}

	if *token == "" {
		fmt.Fprintln(os.Stderr, "bearer token is required (use -token or GATEWAY_BEARER_TOKEN)")
		os.Exit(1)
	}

	client := resty.New().
		SetBaseURL(*gatewayURL).
		SetAuthToken(*token).
		SetTimeout(30 * time.Second).
		SetRetryCount(2)

	sent := 0
	for i := 0; i < len(readings); i += *batchSize {
		j := i + *batchSize
		if j > len(readings) {
			j = len(readings)
		}

		resp, err := client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(readings[i:j]).
			Post("/api/v1/readings")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to post batch: %v\n", err)
			os.Exit(1)
		}
		if resp.IsError() {
			fmt.Fprintf(os.Stderr, "gateway returned status %d: %s\n", resp.StatusCode(), resp.String())
			os.Exit(1)
		}
		sent += j - i
	}

	fmt.Printf("posted %d readings for %d sensors (%s to %s)\n",
		sent, len(sensorPhases), start.Format(time.RFC3339), end.Format(time.RFC3339))
}

// syntheticIntensity 合成光照强度：以正午为峰值的钟形日照曲线
// 叠加短周期正弦扰动（模拟云层），夜间为 0
func syntheticIntensity(ts time.Time, phaseMinutes float64) float64 {
	minuteOfDay := float64(ts.Hour()*60+ts.Minute()) - phaseMinutes

	// 钟形曲线：峰值在 720 分钟（正午），标准差约 3 小时
	center := 720.0
	sigma := 180.0
	bell := math.Exp(-math.Pow(minuteOfDay-center, 2) / (2 * sigma * sigma))

	// 云层扰动：约 40 分钟周期的正弦波
	ripple := 1.0 + 0.15*math.Sin(minuteOfDay/40.0*2*math.Pi)

	intensity := 50000.0 * bell * ripple
	if intensity < 0 {
		intensity = 0
	}
	return math.Round(intensity*10) / 10
}
