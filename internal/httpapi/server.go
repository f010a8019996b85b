package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"sunlight-backend/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MetadataRepo 元数据查询接口
type MetadataRepo interface {
	ListSensors(ctx context.Context) ([]models.SensorMetadata, error)
	ListSensorSets(ctx context.Context) ([]models.SensorSetMetadata, error)
	GetSensorSet(ctx context.Context, sensorSetID string) (*models.SensorSetMetadata, error)
}

// ReportSource 日报数据源（aggregate store 按天查询）
type ReportSource interface {
	GetPointsForDay(ctx context.Context, sensorSetID string, day time.Time) ([]models.AggregatePoint, error)
}

// Server 仪表盘读取 API
// 最新状态与天气从 serving store（Redis）读出，元数据与日报走 PostgreSQL。
// 仪表盘为浏览器前端，响应统一带 CORS 头。
type Server struct {
	mux      *http.ServeMux
	metadata MetadataRepo
	reports  ReportSource
	serving  *redis.Client
	logger   *zap.Logger
}

// NewServer 创建读取 API 服务
func NewServer(metadata MetadataRepo, reports ReportSource, serving *redis.Client, logger *zap.Logger) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		metadata: metadata,
		reports:  reports,
		serving:  serving,
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

// 使用标准库 http.ServeMux（避免引入第三方路由依赖）
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/v1/latest", s.handleLatest)
	s.mux.HandleFunc("/api/v1/history", s.handleHistory)
	s.mux.HandleFunc("/api/v1/sensors", s.handleSensors)
	s.mux.HandleFunc("/api/v1/sensor-sets", s.handleSensorSets)
	s.mux.HandleFunc("/api/v1/weather/daily", s.handleWeatherDaily)
	s.mux.HandleFunc("/api/v1/weather/hourly", s.handleWeatherHourly)
	s.mux.HandleFunc("/api/v1/reports/daily.xlsx", s.handleDailyReport)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 仪表盘与 API 不同源，预检请求直接放行
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// handleLatest 返回一个传感器组的最新状态投影
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sensorSetID := r.URL.Query().Get("sensor_set_id")
	if sensorSetID == "" {
		s.writeError(w, http.StatusBadRequest, "sensor_set_id is required")
		return
	}

	fields, err := s.serving.HGetAll(r.Context(), "serving:latest:"+sensorSetID).Result()
	if err != nil {
		s.logger.Error("Failed to read latest projections",
			zap.String("sensor_set_id", sensorSetID),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to read latest projections")
		return
	}

	projections := make([]models.ServingProjection, 0, len(fields))
	for sensorID, raw := range fields {
		var p models.ServingProjection
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			s.logger.Warn("Skipping corrupt projection",
				zap.String("sensor_id", sensorID),
				zap.Error(err),
			)
			continue
		}
		projections = append(projections, p)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensor_set_id": sensorSetID,
		"sensors":       projections,
	})
}

// handleHistory 返回一个传感器的历史曲线点
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sensorID := r.URL.Query().Get("sensor_id")
	if sensorID == "" {
		s.writeError(w, http.StatusBadRequest, "sensor_id is required")
		return
	}

	entries, err := s.serving.HGetAll(r.Context(), "serving:history:"+sensorID).Result()
	if err != nil {
		s.logger.Error("Failed to read history",
			zap.String("sensor_id", sensorID),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	points := make([]models.HistoryPoint, 0, len(entries))
	for _, raw := range entries {
		var p models.HistoryPoint
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].ObservationMinute.Before(points[j].ObservationMinute)
	})

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensor_id": sensorID,
		"points":    points,
	})
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sensors, err := s.metadata.ListSensors(r.Context())
	if err != nil {
		s.logger.Error("Failed to list sensors", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list sensors")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sensors": sensors})
}

func (s *Server) handleSensorSets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sets, err := s.metadata.ListSensorSets(r.Context())
	if err != nil {
		s.logger.Error("Failed to list sensor sets", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list sensor sets")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sensor_sets": sets})
}

func (s *Server) handleWeatherDaily(w http.ResponseWriter, r *http.Request) {
	s.serveWeather(w, r, "serving:weather:daily:")
}

func (s *Server) handleWeatherHourly(w http.ResponseWriter, r *http.Request) {
	s.serveWeather(w, r, "serving:weather:hourly:")
}

// serveWeather 直接透传 serving store 中的天气 JSON 文档
func (s *Server) serveWeather(w http.ResponseWriter, r *http.Request, keyPrefix string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sensorSetID := r.URL.Query().Get("sensor_set_id")
	if sensorSetID == "" {
		s.writeError(w, http.StatusBadRequest, "sensor_set_id is required")
		return
	}

	raw, err := s.serving.Get(r.Context(), keyPrefix+sensorSetID).Result()
	if err == redis.Nil {
		s.writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	if err != nil {
		s.logger.Error("Failed to read weather document",
			zap.String("sensor_set_id", sensorSetID),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to read weather")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(raw))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
