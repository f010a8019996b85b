package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reading 单条传感器原始读数
// 以 (sensor_id, timestamp) 标识，但允许重复（下游幂等处理吸收重复）
// 可选字段使用指针，缺失时序列化为 null
type Reading struct {
	SensorID       string    `json:"sensor_id"`
	SensorSetID    string    `json:"sensor_set_id"`
	Timestamp      time.Time `json:"timestamp"`
	LightIntensity *float64  `json:"light_intensity,omitempty"`
	BatteryVoltage *float64  `json:"battery_voltage,omitempty"`
	BatteryPercent *float64  `json:"battery_percent,omitempty"`
	WifiDbm        *float64  `json:"wifi_dbm,omitempty"`
	ChipTempC      *float64  `json:"chip_temp_c,omitempty"`
	ChipTempF      *float64  `json:"chip_temp_f,omitempty"`
	Status         *string   `json:"status,omitempty"`
	CommitSHA      *string   `json:"commit_sha,omitempty"`
}

// Validate 校验必填字段
func (r *Reading) Validate() error {
	if r.SensorID == "" {
		return fmt.Errorf("sensor_id is required")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// ObservationMinute 返回按分钟截断的聚合键（UTC）
func (r *Reading) ObservationMinute() time.Time {
	return r.Timestamp.UTC().Truncate(time.Minute)
}

// IsStatusMessage 判断是否为状态消息（触发通知，不参与降采样）
func (r *Reading) IsStatusMessage() bool {
	return r.Status != nil && *r.Status != ""
}

// StoredReading raw store 中的读数候选
// Seq 为追加序号（BIGSERIAL），用作同一时间戳下的确定性决胜键
type StoredReading struct {
	Seq int64
	Reading
}

// ReadingBatch 网关发布到队列的批次信封
// 一个批次对应一条队列消息，至少一次投递
type ReadingBatch struct {
	BatchID    string    `json:"batch_id"`
	Source     string    `json:"source"` // "http" 或 "mqtt"
	ReceivedAt time.Time `json:"received_at"`
	Readings   []Reading `json:"readings"`
}

// ParseBatchMessage 解析队列消息中的批次数据
// 消息 Values 中的 "data" 字段为批次 JSON
func ParseBatchMessage(values map[string]interface{}) (*ReadingBatch, error) {
	raw, ok := values["data"]
	if !ok {
		return nil, fmt.Errorf("message missing data field")
	}

	var data string
	switch v := raw.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		return nil, fmt.Errorf("unexpected data field type: %T", raw)
	}

	var batch ReadingBatch
	if err := json.Unmarshal([]byte(data), &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	if len(batch.Readings) == 0 {
		return nil, fmt.Errorf("batch %s contains no readings", batch.BatchID)
	}

	return &batch, nil
}
