package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"sunlight-backend/internal/models"

	"go.uber.org/zap"
)

// Handler 摄入网关 HTTP 处理器
// 校验静态 Bearer Token，验证读数批次，转发到持久队列。
// 发布失败向调用方返回可重试错误，网关本地不缓冲。
type Handler struct {
	bearerToken string
	publisher   BatchPublisher
	logger      *zap.Logger
}

// NewHandler 创建网关处理器
func NewHandler(bearerToken string, publisher BatchPublisher, logger *zap.Logger) *Handler {
	return &Handler{
		bearerToken: bearerToken,
		publisher:   publisher,
		logger:      logger,
	}
}

// ingestResponse 摄入成功响应
type ingestResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Count     int    `json:"count"`
}

// errorResponse 错误响应
type errorResponse struct {
	Error string `json:"error"`
}

// Routes 注册网关路由
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/readings", h.HandleReadings)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// HandleReadings 接收传感器读数批次
// POST，Authorization: Bearer <static-token>，body 为读数 JSON 数组
// （单个对象会被包装成单元素数组）
func (h *Handler) HandleReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// 服务端配置检查
	if h.bearerToken == "" {
		h.logger.Error("Gateway is not configured with a bearer token")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "service is not configured"})
		return
	}

	// 认证检查（常数时间比较）
	authHeader := r.Header.Get("Authorization")
	expected := "Bearer " + h.bearerToken
	if subtle.ConstantTimeCompare([]byte(authHeader), []byte(expected)) != 1 {
		h.logger.Warn("Unauthorized ingest attempt",
			zap.String("remote_addr", r.RemoteAddr),
		)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid or missing bearer token"})
		return
	}

	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Content-Type must be application/json"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not read request body"})
		return
	}

	readings, err := parseReadings(body)
	if err != nil {
		h.logger.Warn("Rejected malformed payload", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	// 转发到持久队列；失败对调用方是可重试的
	messageID, err := h.publisher.PublishBatch(r.Context(), "http", readings)
	if err != nil {
		h.logger.Error("Failed to publish batch to queue", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "could not publish batch, retry later"})
		return
	}

	h.logger.Info("Accepted reading batch",
		zap.String("message_id", messageID),
		zap.Int("count", len(readings)),
	)
	writeJSON(w, http.StatusOK, ingestResponse{
		Status:    "ok",
		MessageID: messageID,
		Count:     len(readings),
	})
}

// parseReadings 解析请求体：JSON 数组或单个对象（包装为数组）
func parseReadings(body []byte) ([]models.Reading, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, errEmptyBody
	}

	var readings []models.Reading
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &readings); err != nil {
			return nil, errInvalidJSON
		}
	} else {
		var single models.Reading
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, errInvalidJSON
		}
		readings = []models.Reading{single}
	}

	if len(readings) == 0 {
		return nil, errEmptyBatch
	}
	return readings, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
