package models

import "time"

// AggregatePoint 每分钟聚合点
// 不变式：每个 (sensor_id, observation_minute) 至多存在一条记录，
// 仅由降采样器通过原子合并写入
type AggregatePoint struct {
	ObservationMinute      time.Time `json:"observation_minute"`
	SensorID               string    `json:"sensor_id"`
	SensorSetID            string    `json:"sensor_set_id"`
	SmoothedLightIntensity float64   `json:"smoothed_light_intensity"`
	LastUpdated            time.Time `json:"last_updated"`
}

// LatestReading 每个传感器的最后已知状态（raw store 侧的缓存表）
// 字段独立更新：仅覆盖本次读数携带的字段，其余保留
type LatestReading struct {
	SensorID       string     `json:"sensor_id"`
	SensorSetID    string     `json:"sensor_set_id"`
	Timestamp      time.Time  `json:"timestamp"`
	LastSeen       time.Time  `json:"last_seen"`
	LightIntensity *float64   `json:"light_intensity"`
	BatteryVoltage *float64   `json:"battery_voltage"`
	BatteryPercent *float64   `json:"battery_percent"`
	WifiDbm        *float64   `json:"wifi_dbm"`
	ChipTempF      *float64   `json:"chip_temp_f"`
	Status         *string    `json:"status"`
}

// ServingProjection 面向仪表盘的最新状态投影文档
// 刷新即整体替换（last-write-wins），缺失值序列化为 null
type ServingProjection struct {
	SensorID       string     `json:"sensor_id"`
	SensorSetID    string     `json:"sensor_set_id"`
	LightIntensity *float64   `json:"light_intensity"`
	BatteryPercent *float64   `json:"battery_percent"`
	WifiDbm        *float64   `json:"wifi_dbm"`
	ChipTempF      *float64   `json:"chip_temp_f"`
	LastSeen       *time.Time `json:"last_seen"`

	// 元数据字段（来自 sensors 表，遥测不可达时仍可填充）
	Position  string `json:"position,omitempty"`
	BoardType string `json:"board_type,omitempty"`
}

// HistoryPoint 历史曲线投影点（15分钟重聚合后的平均值）
type HistoryPoint struct {
	ObservationMinute      time.Time `json:"observation_minute"`
	SensorID               string    `json:"sensor_id"`
	SensorSetID            string    `json:"sensor_set_id"`
	SmoothedLightIntensity float64   `json:"smoothed_light_intensity"`
}
