package repository

import (
	"context"
	"database/sql"
	"fmt"

	"sunlight-backend/internal/models"

	"go.uber.org/zap"
)

// WeatherRepository 历史天气仓库（daily_weather / hourly_weather）
type WeatherRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewWeatherRepository 创建历史天气仓库
func NewWeatherRepository(db *sql.DB, logger *zap.Logger) *WeatherRepository {
	return &WeatherRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertDaily 写入按天天气记录（同一天重复抓取时覆盖）
func (r *WeatherRepository) UpsertDaily(ctx context.Context, records []models.DailyWeather) (int, error) {
	stmt, err := r.db.PrepareContext(ctx, `
		INSERT INTO daily_weather (
			date, sensor_set_id, sunrise, sunset,
			daylight_duration, sunshine_duration,
			temperature_2m_max, temperature_2m_min,
			uv_index_max, precipitation_sum, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (date, sensor_set_id) DO UPDATE SET
			sunrise            = EXCLUDED.sunrise,
			sunset             = EXCLUDED.sunset,
			daylight_duration  = EXCLUDED.daylight_duration,
			sunshine_duration  = EXCLUDED.sunshine_duration,
			temperature_2m_max = EXCLUDED.temperature_2m_max,
			temperature_2m_min = EXCLUDED.temperature_2m_min,
			uv_index_max       = EXCLUDED.uv_index_max,
			precipitation_sum  = EXCLUDED.precipitation_sum,
			last_updated       = NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare daily weather upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for i := range records {
		rec := &records[i]
		if _, err := stmt.ExecContext(ctx,
			rec.Date, rec.SensorSetID, rec.Sunrise, rec.Sunset,
			rec.DaylightDuration, rec.SunshineDuration,
			rec.Temperature2mMax, rec.Temperature2mMin,
			rec.UvIndexMax, rec.PrecipitationSum,
		); err != nil {
			return count, fmt.Errorf("failed to upsert daily weather %s/%s: %w", rec.Date, rec.SensorSetID, err)
		}
		count++
	}

	return count, nil
}

// UpsertHourly 写入按小时天气记录
func (r *WeatherRepository) UpsertHourly(ctx context.Context, records []models.HourlyWeather) (int, error) {
	stmt, err := r.db.PrepareContext(ctx, `
		INSERT INTO hourly_weather (
			time, sensor_set_id, temperature_2m, precipitation,
			cloud_cover, uv_index, shortwave_radiation, direct_radiation,
			last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (time, sensor_set_id) DO UPDATE SET
			temperature_2m      = EXCLUDED.temperature_2m,
			precipitation       = EXCLUDED.precipitation,
			cloud_cover         = EXCLUDED.cloud_cover,
			uv_index            = EXCLUDED.uv_index,
			shortwave_radiation = EXCLUDED.shortwave_radiation,
			direct_radiation    = EXCLUDED.direct_radiation,
			last_updated        = NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare hourly weather upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for i := range records {
		rec := &records[i]
		if _, err := stmt.ExecContext(ctx,
			rec.Time, rec.SensorSetID, rec.Temperature2m, rec.Precipitation,
			rec.CloudCover, rec.UvIndex, rec.ShortwaveRadiation, rec.DirectRadiation,
		); err != nil {
			return count, fmt.Errorf("failed to upsert hourly weather: %w", err)
		}
		count++
	}

	return count, nil
}

// GetDaily 读取某传感器组最近的按天天气记录
func (r *WeatherRepository) GetDaily(ctx context.Context, sensorSetID string, limit int) ([]models.DailyWeather, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, sensor_set_id, sunrise, sunset,
		       daylight_duration, sunshine_duration,
		       temperature_2m_max, temperature_2m_min,
		       uv_index_max, precipitation_sum, last_updated
		FROM daily_weather
		WHERE sensor_set_id = $1
		ORDER BY date DESC
		LIMIT $2
	`, sensorSetID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily weather: %w", err)
	}
	defer rows.Close()

	var records []models.DailyWeather
	for rows.Next() {
		var rec models.DailyWeather
		if err := rows.Scan(
			&rec.Date, &rec.SensorSetID, &rec.Sunrise, &rec.Sunset,
			&rec.DaylightDuration, &rec.SunshineDuration,
			&rec.Temperature2mMax, &rec.Temperature2mMin,
			&rec.UvIndexMax, &rec.PrecipitationSum, &rec.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan daily weather: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
