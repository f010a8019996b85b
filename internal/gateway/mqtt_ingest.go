package gateway

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	mqttcommon "sunlight-backend/common/mqtt"
)

// MQTTIngest MQTT 旁路摄入
// 订阅 sunlight/{sensor_id}/data，把设备端批次转发到同一条持久队列。
// 设备凭据由 MQTT broker 校验，此处不再做 Bearer 认证。
type MQTTIngest struct {
	mqttClient *mqttcommon.Client
	publisher  BatchPublisher
	topic      string
	logger     *zap.Logger
}

// NewMQTTIngest 创建 MQTT 摄入
func NewMQTTIngest(mqttClient *mqttcommon.Client, publisher BatchPublisher, topic string, logger *zap.Logger) *MQTTIngest {
	return &MQTTIngest{
		mqttClient: mqttClient,
		publisher:  publisher,
		topic:      topic,
		logger:     logger,
	}
}

// Start 订阅数据主题（非阻塞，消息在 paho 回调中处理）
func (m *MQTTIngest) Start(ctx context.Context) error {
	if err := m.mqttClient.Subscribe(m.topic, 1, m.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to data topic: %w", err)
	}

	m.logger.Info("MQTT ingest started", zap.String("topic", m.topic))
	return nil
}

// Stop 停止 MQTT 摄入
func (m *MQTTIngest) Stop() error {
	if err := m.mqttClient.Unsubscribe(m.topic); err != nil {
		m.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	m.logger.Info("MQTT ingest stopped")
	return nil
}

// handleMessage 处理单条 MQTT 消息
// 主题格式: sunlight/{sensor_id}/data，payload 为读数数组或单个读数
func (m *MQTTIngest) handleMessage(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	topicSensorID := parts[1]

	readings, err := parseReadings(payload)
	if err != nil {
		m.logger.Warn("Dropping malformed MQTT payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return err
	}

	// 缺失 sensor_id 的读数用主题中的标识补齐
	for i := range readings {
		if readings[i].SensorID == "" {
			readings[i].SensorID = topicSensorID
		}
	}

	messageID, err := m.publisher.PublishBatch(context.Background(), "mqtt", readings)
	if err != nil {
		m.logger.Error("Failed to publish MQTT batch to queue",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish batch: %w", err)
	}

	m.logger.Debug("Published MQTT batch",
		zap.String("sensor_id", topicSensorID),
		zap.String("message_id", messageID),
		zap.Int("count", len(readings)),
	)
	return nil
}
