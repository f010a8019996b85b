package models

// SensorMetadata 传感器静态描述信息（由外部协作方维护，本系统只读）
type SensorMetadata struct {
	SensorID    string `json:"sensor_id"`
	SensorSetID string `json:"sensor_set_id"`
	Position    string `json:"position"`
	BoardType   string `json:"board_type"`
}

// SensorSetMetadata 传感器组静态描述信息
type SensorSetMetadata struct {
	SensorSetID string  `json:"sensor_set_id"`
	Name        string  `json:"name"`
	Timezone    string  `json:"timezone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}
