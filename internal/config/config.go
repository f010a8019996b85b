package config

import (
	"os"
	"strconv"
	"time"

	"sunlight-backend/common/config"

	"github.com/google/uuid"
)

// 迟到数据策略
const (
	LatePolicyDrop      = "drop"      // 严格水位线：迟到读数永不进入聚合
	LatePolicyReprocess = "reprocess" // 宽限窗口内的分钟被重新计算
)

// 触发模式
const (
	TriggerModeInterval = "interval"
	TriggerModeHTTP     = "http"
	TriggerModeBoth     = "both"
)

// Config 日照传感器管道配置（各服务从同一配置结构取各自小节）
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 摄入网关配置
	Gateway struct {
		ListenAddr  string // HTTP 监听地址
		BearerToken string // 传感器静态 Bearer Token
		MQTTEnabled bool   // 是否启用 MQTT 旁路摄入
		MQTTTopic   string // 数据主题，如 "sunlight/+/data"
	}

	// 队列配置（网关发布、消费者拉取共用）
	Queue struct {
		Stream        string        // 批次消息流名称
		ConsumerGroup string        // 消费者组名称
		ConsumerName  string        // 消费者名称（默认附加随机后缀）
		BatchSize     int64         // 单次拉取消息数
		AckDeadline   time.Duration // 超过该空闲时间的 pending 消息被认领重投
		MaxLen        int64         // 流的近似保留长度（约一天的批次量）
	}

	// 状态通知配置（Pushover 推送 + SMTP 邮件）
	Notify struct {
		PushoverEnabled      bool
		PushoverURL          string
		PushoverToken        string // 通用通知应用 Token
		PushoverBatteryToken string // 电量通知专用 Token（缺省回退到通用 Token）
		PushoverUserKey      string
		EmailEnabled         bool
		SMTPHost             string
		SMTPPort             int
		SMTPUser             string
		SMTPPassword         string
		AlertEmail           string
	}

	// 降采样器配置
	Downsampler struct {
		ListenAddr   string        // 触发端点监听地址
		ServiceToken string        // 调度触发用服务 Token
		TriggerMode  string        // "interval"、"http" 或 "both"
		Interval     time.Duration // 定时触发间隔
		RunTimeout   time.Duration // 单次运行硬超时
		Destination  string        // 聚合目的地标识（watermark 游标按目的地记录）
		LatePolicy   string        // 迟到数据策略："drop"（默认）或 "reprocess"
		LateGrace    time.Duration // reprocess 模式下回看的宽限窗口
	}

	// 导出器配置
	Exporter struct {
		ListenAddr    string
		ServiceToken  string
		TriggerMode   string
		Interval      time.Duration
		RunTimeout    time.Duration
		HistoryLimit  int  // 单次历史导出的最大行数
		WeatherEnable bool // 是否启用天气导出
		WeatherURL    string
	}

	// 仪表盘读取 API 配置
	API struct {
		ListenAddr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "sunlight")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "sunlight-gateway")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")

	cfg.Gateway.ListenAddr = getEnv("GATEWAY_LISTEN_ADDR", ":8080")
	cfg.Gateway.BearerToken = getEnv("GATEWAY_BEARER_TOKEN", "")
	cfg.Gateway.MQTTEnabled = getEnv("GATEWAY_MQTT_ENABLED", "false") == "true"
	cfg.Gateway.MQTTTopic = getEnv("GATEWAY_MQTT_TOPIC", "sunlight/+/data")

	cfg.Queue.Stream = getEnv("QUEUE_STREAM", "sunlight:readings:stream")
	cfg.Queue.ConsumerGroup = getEnv("QUEUE_CONSUMER_GROUP", "sunlight-ingest-group")
	// 默认附加随机后缀，避免多实例部署时消费者名冲突
	cfg.Queue.ConsumerName = getEnv("QUEUE_CONSUMER_NAME", "sunlight-ingest-"+uuid.New().String()[:8])
	cfg.Queue.BatchSize = int64(getEnvInt("QUEUE_BATCH_SIZE", 10))
	cfg.Queue.AckDeadline = getEnvDuration("QUEUE_ACK_DEADLINE", 20*time.Second)
	cfg.Queue.MaxLen = int64(getEnvInt("QUEUE_MAX_LEN", 100000))

	cfg.Notify.PushoverEnabled = getEnv("PUSHOVER_ENABLED", "false") == "true"
	cfg.Notify.PushoverURL = getEnv("PUSHOVER_URL", "https://api.pushover.net")
	cfg.Notify.PushoverToken = getEnv("PUSHOVER_APP_TOKEN", "")
	cfg.Notify.PushoverBatteryToken = getEnv("PUSHOVER_BATTERY_APP_TOKEN", "")
	cfg.Notify.PushoverUserKey = getEnv("PUSHOVER_USER_KEY", "")
	cfg.Notify.EmailEnabled = getEnv("EMAIL_ENABLED", "false") == "true"
	cfg.Notify.SMTPHost = getEnv("SMTP_HOST", "smtp.gmail.com")
	cfg.Notify.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.Notify.SMTPUser = getEnv("SMTP_USER", "")
	cfg.Notify.SMTPPassword = getEnv("SMTP_PASSWORD", "")
	cfg.Notify.AlertEmail = getEnv("ALERT_EMAIL_ADDRESS", "")

	cfg.Downsampler.ListenAddr = getEnv("DOWNSAMPLER_LISTEN_ADDR", ":8081")
	cfg.Downsampler.ServiceToken = getEnv("DOWNSAMPLER_SERVICE_TOKEN", "")
	cfg.Downsampler.TriggerMode = getEnv("DOWNSAMPLER_TRIGGER_MODE", "both")
	cfg.Downsampler.Interval = getEnvDuration("DOWNSAMPLER_INTERVAL", 15*time.Minute)
	cfg.Downsampler.RunTimeout = getEnvDuration("DOWNSAMPLER_RUN_TIMEOUT", 5*time.Minute)
	cfg.Downsampler.Destination = getEnv("DOWNSAMPLER_DESTINATION", "aggregate_points")
	cfg.Downsampler.LatePolicy = getEnv("DOWNSAMPLER_LATE_POLICY", "drop")
	cfg.Downsampler.LateGrace = getEnvDuration("DOWNSAMPLER_LATE_GRACE", 0)

	cfg.Exporter.ListenAddr = getEnv("EXPORTER_LISTEN_ADDR", ":8082")
	cfg.Exporter.ServiceToken = getEnv("EXPORTER_SERVICE_TOKEN", "")
	cfg.Exporter.TriggerMode = getEnv("EXPORTER_TRIGGER_MODE", "both")
	cfg.Exporter.Interval = getEnvDuration("EXPORTER_INTERVAL", 15*time.Minute)
	cfg.Exporter.RunTimeout = getEnvDuration("EXPORTER_RUN_TIMEOUT", 5*time.Minute)
	cfg.Exporter.HistoryLimit = getEnvInt("EXPORTER_HISTORY_LIMIT", 500)
	cfg.Exporter.WeatherEnable = getEnv("EXPORTER_WEATHER_ENABLED", "false") == "true"
	cfg.Exporter.WeatherURL = getEnv("EXPORTER_WEATHER_URL", "https://api.open-meteo.com")

	cfg.API.ListenAddr = getEnv("API_LISTEN_ADDR", ":8083")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}
