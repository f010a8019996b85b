package notifier

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"sunlight-backend/internal/config"
	"sunlight-backend/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier 传感器状态通知器
// 处理携带 status 字段的读数：电量类状态走 Pushover 电量应用，
// 开机（[boot]）状态走邮件 + Pushover，其余状态只记录日志。
// 通知失败只记录，不影响写入路径。
type Notifier struct {
	cfg        *config.Config
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewNotifier 创建状态通知器
func NewNotifier(cfg *config.Config, logger *zap.Logger) *Notifier {
	client := resty.New().
		SetBaseURL(cfg.Notify.PushoverURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &Notifier{
		cfg:        cfg,
		httpClient: client,
		logger:     logger,
	}
}

// pushoverResponse Pushover API 响应
type pushoverResponse struct {
	Status  int      `json:"status"`
	Errors  []string `json:"errors"`
	Request string   `json:"request"`
}

// ProcessStatusReading 处理单条状态读数
func (n *Notifier) ProcessStatusReading(reading *models.Reading) {
	if !reading.IsStatusMessage() {
		return
	}
	status := *reading.Status

	switch {
	case isBatteryStatus(status):
		n.sendPushover(reading, status, true)
		n.logger.Info("Battery status notification sent",
			zap.String("sensor_id", reading.SensorID),
			zap.String("status", status),
		)
	case strings.HasPrefix(status, "[boot]"):
		n.sendEmail(reading, status)
		n.sendPushover(reading, status, false)
		n.logger.Info("Boot status notification sent",
			zap.String("sensor_id", reading.SensorID),
			zap.String("status", status),
		)
	default:
		// 非开机、非电量的状态只记录，不打扰
		n.logger.Info("Status message skipped",
			zap.String("sensor_id", reading.SensorID),
			zap.String("status", status),
		)
	}
}

// isBatteryStatus 判断是否为电量状态消息
func isBatteryStatus(status string) bool {
	return status == "battery" ||
		strings.HasPrefix(status, "[boot] battery") ||
		strings.HasPrefix(status, "[wake] battery")
}

// sendPushover 发送 Pushover 推送
// useBatteryToken 为 true 时使用电量专用应用 Token（缺省回退到通用 Token）
func (n *Notifier) sendPushover(reading *models.Reading, status string, useBatteryToken bool) {
	if !n.cfg.Notify.PushoverEnabled {
		return
	}

	token := n.cfg.Notify.PushoverToken
	if useBatteryToken && n.cfg.Notify.PushoverBatteryToken != "" {
		token = n.cfg.Notify.PushoverBatteryToken
	}
	if token == "" || n.cfg.Notify.PushoverUserKey == "" {
		n.logger.Warn("Pushover not configured, skipping notification")
		return
	}

	var title, message, sound string
	if useBatteryToken {
		title = fmt.Sprintf("Battery %s: %s%% (%sV)",
			reading.SensorID, formatFloat(reading.BatteryPercent), formatFloat(reading.BatteryVoltage))
		message = fmt.Sprintf("Sensor: %s\nBattery: %sV (%s%%)\nWiFi: %sdBm\nSensor Set: %s",
			reading.SensorID, formatFloat(reading.BatteryVoltage), formatFloat(reading.BatteryPercent),
			formatFloat(reading.WifiDbm), reading.SensorSetID)
		sound = "intermission"
	} else {
		title = fmt.Sprintf("Sensor %s", reading.SensorID)
		message = fmt.Sprintf("%s\n\nSensor Set: %s", status, reading.SensorSetID)
		sound = "pushover"
	}

	var result pushoverResponse
	resp, err := n.httpClient.R().
		SetFormData(map[string]string{
			"token":   token,
			"user":    n.cfg.Notify.PushoverUserKey,
			"title":   title,
			"message": message,
			"sound":   sound,
		}).
		SetResult(&result).
		Post("/1/messages.json")
	if err != nil {
		n.logger.Error("Failed to send Pushover notification",
			zap.String("sensor_id", reading.SensorID),
			zap.Error(err),
		)
		return
	}
	if resp.IsError() || result.Status != 1 {
		n.logger.Error("Pushover API returned error",
			zap.String("sensor_id", reading.SensorID),
			zap.Int("http_status", resp.StatusCode()),
			zap.Strings("errors", result.Errors),
		)
	}
}

// sendEmail 发送状态邮件（SMTP）
func (n *Notifier) sendEmail(reading *models.Reading, status string) {
	if !n.cfg.Notify.EmailEnabled {
		return
	}
	if n.cfg.Notify.SMTPUser == "" || n.cfg.Notify.SMTPPassword == "" || n.cfg.Notify.AlertEmail == "" {
		n.logger.Warn("Email not configured, skipping notification")
		return
	}

	subject := fmt.Sprintf("Sensor Status: %s - %s", reading.SensorID, status)
	body := fmt.Sprintf(
		"Sensor Status Update\r\n\r\nSensor: %s\r\nSensor Set: %s\r\nStatus: %s\r\n\r\nThis is informational only - no action required.\r\n",
		reading.SensorID, reading.SensorSetID, status)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.cfg.Notify.SMTPUser, n.cfg.Notify.AlertEmail, subject, body)

	addr := fmt.Sprintf("%s:%d", n.cfg.Notify.SMTPHost, n.cfg.Notify.SMTPPort)
	auth := smtp.PlainAuth("", n.cfg.Notify.SMTPUser, n.cfg.Notify.SMTPPassword, n.cfg.Notify.SMTPHost)

	if err := smtp.SendMail(addr, auth, n.cfg.Notify.SMTPUser, []string{n.cfg.Notify.AlertEmail}, []byte(msg)); err != nil {
		n.logger.Error("Failed to send email notification",
			zap.String("sensor_id", reading.SensorID),
			zap.Error(err),
		)
		return
	}
}

// formatFloat 渲染可能缺失的浮点字段，缺失时为 "N/A"
func formatFloat(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%g", *v)
}
