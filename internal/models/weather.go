package models

import "time"

// MeteoResponse Open-Meteo 历史天气 API 响应
type MeteoResponse struct {
	Daily struct {
		Time             []string  `json:"time"`
		Sunrise          []string  `json:"sunrise"`
		Sunset           []string  `json:"sunset"`
		DaylightDuration []float64 `json:"daylight_duration"`
		SunshineDuration []float64 `json:"sunshine_duration"`
		Temperature2mMax []float64 `json:"temperature_2m_max"`
		Temperature2mMin []float64 `json:"temperature_2m_min"`
		UvIndexMax       []float64 `json:"uv_index_max"`
		PrecipitationSum []float64 `json:"precipitation_sum"`
	} `json:"daily"`
	Hourly struct {
		Time               []string  `json:"time"`
		Temperature2m      []float64 `json:"temperature_2m"`
		Precipitation      []float64 `json:"precipitation"`
		CloudCover         []float64 `json:"cloud_cover"`
		UvIndex            []float64 `json:"uv_index"`
		ShortwaveRadiation []float64 `json:"shortwave_radiation"`
		DirectRadiation    []float64 `json:"direct_radiation"`
	} `json:"hourly"`
}

// DailyWeather daily_weather 表中的一行（按天的历史天气）
type DailyWeather struct {
	Date             string    `json:"date"`
	SensorSetID      string    `json:"sensor_set_id"`
	Sunrise          time.Time `json:"sunrise"`
	Sunset           time.Time `json:"sunset"`
	DaylightDuration float64   `json:"daylight_duration"`
	SunshineDuration float64   `json:"sunshine_duration"`
	Temperature2mMax float64   `json:"temperature_2m_max"`
	Temperature2mMin float64   `json:"temperature_2m_min"`
	UvIndexMax       float64   `json:"uv_index_max"`
	PrecipitationSum float64   `json:"precipitation_sum"`
	LastUpdated      time.Time `json:"last_updated"`
}

// HourlyWeather hourly_weather 表中的一行（按小时的历史天气）
type HourlyWeather struct {
	Time               time.Time `json:"time"`
	SensorSetID        string    `json:"sensor_set_id"`
	Temperature2m      float64   `json:"temperature_2m"`
	Precipitation      float64   `json:"precipitation"`
	CloudCover         float64   `json:"cloud_cover"`
	UvIndex            float64   `json:"uv_index"`
	ShortwaveRadiation float64   `json:"shortwave_radiation"`
	DirectRadiation    float64   `json:"direct_radiation"`
	LastUpdated        time.Time `json:"last_updated"`
}
