package exporter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"sunlight-backend/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Open-Meteo 返回的本地时间格式（iso8601，无时区后缀）
const meteoTimeLayout = "2006-01-02T15:04"

// WeatherRepo 天气历史存储接口
type WeatherRepo interface {
	UpsertDaily(ctx context.Context, records []models.DailyWeather) (int, error)
	UpsertHourly(ctx context.Context, records []models.HourlyWeather) (int, error)
}

// WeatherFetcher 从 Open-Meteo 拉取传感器组所在位置的天气，
// 写入天气历史表并同步一份到 serving store
type WeatherFetcher struct {
	client  *resty.Client
	repo    WeatherRepo
	serving ServingStore
	logger  *zap.Logger
}

// NewWeatherFetcher 创建天气拉取器
func NewWeatherFetcher(baseURL string, repo WeatherRepo, serving ServingStore, logger *zap.Logger) *WeatherFetcher {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)

	return &WeatherFetcher{
		client:  client,
		repo:    repo,
		serving: serving,
		logger:  logger,
	}
}

// FetchAndStore 为一个传感器组拉取并落库天气数据
func (f *WeatherFetcher) FetchAndStore(ctx context.Context, set *models.SensorSetMetadata) error {
	if set.Latitude == 0 && set.Longitude == 0 {
		f.logger.Debug("Sensor set has no coordinates, skipping weather fetch",
			zap.String("sensor_set_id", set.SensorSetID),
		)
		return nil
	}

	var meteo models.MeteoResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":  strconv.FormatFloat(set.Latitude, 'f', 4, 64),
			"longitude": strconv.FormatFloat(set.Longitude, 'f', 4, 64),
			"timezone":  set.Timezone,
			"past_days": "7",
			"daily":     "sunrise,sunset,daylight_duration,sunshine_duration,temperature_2m_max,temperature_2m_min,uv_index_max,precipitation_sum",
			"hourly":    "temperature_2m,precipitation,cloud_cover,uv_index,shortwave_radiation,direct_radiation",
		}).
		SetResult(&meteo).
		Get("/v1/forecast")
	if err != nil {
		return fmt.Errorf("weather request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("weather request returned status %d: %s", resp.StatusCode(), resp.String())
	}

	loc, err := time.LoadLocation(set.Timezone)
	if err != nil {
		loc = time.UTC
	}

	daily := buildDailyRecords(&meteo, set.SensorSetID, loc)
	hourly := buildHourlyRecords(&meteo, set.SensorSetID, loc)

	if _, err := f.repo.UpsertDaily(ctx, daily); err != nil {
		return fmt.Errorf("failed to store daily weather: %w", err)
	}
	if _, err := f.repo.UpsertHourly(ctx, hourly); err != nil {
		return fmt.Errorf("failed to store hourly weather: %w", err)
	}

	if err := f.serving.WriteDailyWeather(ctx, set.SensorSetID, daily); err != nil {
		return err
	}
	if err := f.serving.WriteHourlyWeather(ctx, set.SensorSetID, hourly); err != nil {
		return err
	}

	f.logger.Info("Weather export completed",
		zap.String("sensor_set_id", set.SensorSetID),
		zap.Int("daily", len(daily)),
		zap.Int("hourly", len(hourly)),
	)
	return nil
}

// buildDailyRecords 把按列组织的响应转成按行的记录
// 各数组按索引对齐，长度以 time 数组为准
func buildDailyRecords(meteo *models.MeteoResponse, sensorSetID string, loc *time.Location) []models.DailyWeather {
	now := time.Now().UTC()
	records := make([]models.DailyWeather, 0, len(meteo.Daily.Time))
	for i, date := range meteo.Daily.Time {
		rec := models.DailyWeather{
			Date:        date,
			SensorSetID: sensorSetID,
			LastUpdated: now,
		}
		if i < len(meteo.Daily.Sunrise) {
			if t, err := time.ParseInLocation(meteoTimeLayout, meteo.Daily.Sunrise[i], loc); err == nil {
				rec.Sunrise = t
			}
		}
		if i < len(meteo.Daily.Sunset) {
			if t, err := time.ParseInLocation(meteoTimeLayout, meteo.Daily.Sunset[i], loc); err == nil {
				rec.Sunset = t
			}
		}
		if i < len(meteo.Daily.DaylightDuration) {
			rec.DaylightDuration = meteo.Daily.DaylightDuration[i]
		}
		if i < len(meteo.Daily.SunshineDuration) {
			rec.SunshineDuration = meteo.Daily.SunshineDuration[i]
		}
		if i < len(meteo.Daily.Temperature2mMax) {
			rec.Temperature2mMax = meteo.Daily.Temperature2mMax[i]
		}
		if i < len(meteo.Daily.Temperature2mMin) {
			rec.Temperature2mMin = meteo.Daily.Temperature2mMin[i]
		}
		if i < len(meteo.Daily.UvIndexMax) {
			rec.UvIndexMax = meteo.Daily.UvIndexMax[i]
		}
		if i < len(meteo.Daily.PrecipitationSum) {
			rec.PrecipitationSum = meteo.Daily.PrecipitationSum[i]
		}
		records = append(records, rec)
	}
	return records
}

func buildHourlyRecords(meteo *models.MeteoResponse, sensorSetID string, loc *time.Location) []models.HourlyWeather {
	now := time.Now().UTC()
	records := make([]models.HourlyWeather, 0, len(meteo.Hourly.Time))
	for i, ts := range meteo.Hourly.Time {
		t, err := time.ParseInLocation(meteoTimeLayout, ts, loc)
		if err != nil {
			continue
		}
		rec := models.HourlyWeather{
			Time:        t,
			SensorSetID: sensorSetID,
			LastUpdated: now,
		}
		if i < len(meteo.Hourly.Temperature2m) {
			rec.Temperature2m = meteo.Hourly.Temperature2m[i]
		}
		if i < len(meteo.Hourly.Precipitation) {
			rec.Precipitation = meteo.Hourly.Precipitation[i]
		}
		if i < len(meteo.Hourly.CloudCover) {
			rec.CloudCover = meteo.Hourly.CloudCover[i]
		}
		if i < len(meteo.Hourly.UvIndex) {
			rec.UvIndex = meteo.Hourly.UvIndex[i]
		}
		if i < len(meteo.Hourly.ShortwaveRadiation) {
			rec.ShortwaveRadiation = meteo.Hourly.ShortwaveRadiation[i]
		}
		if i < len(meteo.Hourly.DirectRadiation) {
			rec.DirectRadiation = meteo.Hourly.DirectRadiation[i]
		}
		records = append(records, rec)
	}
	return records
}
