package scheduler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"sunlight-backend/internal/config"

	"go.uber.org/zap"
)

// ErrRunInProgress 上一次运行尚未结束时 Runner 返回的哨兵错误
var ErrRunInProgress = errors.New("run already in progress")

// Runner 可被调度执行的批处理任务
// 拒绝重叠运行时返回包装了 ErrRunInProgress 的错误
type Runner interface {
	Run(ctx context.Context) error
}

// Options 调度选项（降采样器与导出器共用同一结构）
type Options struct {
	Name         string        // 任务名（日志标识）
	TriggerMode  string        // "interval"、"http" 或 "both"
	Interval     time.Duration // 定时触发间隔
	ListenAddr   string        // HTTP 触发端点监听地址
	ServiceToken string        // 触发端点的服务 Token
}

// Scheduler 批处理调度器
// interval 模式按固定间隔触发；http 模式暴露认证的触发端点；
// both 模式两者并存。任务自身负责拒绝重叠运行。
type Scheduler struct {
	opts   Options
	runner Runner
	logger *zap.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewScheduler 创建调度器
func NewScheduler(opts Options, runner Runner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		opts:   opts,
		runner: runner,
		logger: logger,
	}
}

// Start 启动调度，阻塞直到 ctx 取消
func (s *Scheduler) Start(ctx context.Context) error {
	var wg sync.WaitGroup

	if s.opts.TriggerMode == config.TriggerModeHTTP || s.opts.TriggerMode == config.TriggerModeBoth {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveHTTP(ctx)
		}()
	}

	if s.opts.TriggerMode == config.TriggerModeInterval || s.opts.TriggerMode == config.TriggerModeBoth {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runTicker(ctx)
		}()
	}

	wg.Wait()
	return nil
}

// runTicker 定时触发循环
func (s *Scheduler) runTicker(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info("Interval trigger started",
		zap.String("task", s.opts.Name),
		zap.Duration("interval", s.opts.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.runner.Run(ctx); err != nil {
				s.logger.Error("Scheduled run failed",
					zap.String("task", s.opts.Name),
					zap.Error(err),
				)
			}
		}
	}
}

// serveHTTP 启动触发端点，ctx 取消时优雅关闭
func (s *Scheduler) serveHTTP(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/trigger", s.HandleTrigger)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         s.opts.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Trigger endpoint started",
		zap.String("task", s.opts.Name),
		zap.String("listen_addr", s.opts.ListenAddr),
	)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Trigger endpoint failed",
			zap.String("task", s.opts.Name),
			zap.Error(err),
		)
	}
}

// HandleTrigger 认证触发请求并同步执行一次任务
func (s *Scheduler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.opts.ServiceToken == "" {
		s.logger.Error("Trigger endpoint called but service token is not configured")
		http.Error(w, "trigger endpoint not configured", http.StatusInternalServerError)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.ServiceToken)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := s.runner.Run(r.Context()); err != nil {
		s.logger.Error("Triggered run failed",
			zap.String("task", s.opts.Name),
			zap.Error(err),
		)
		// 重叠运行返回 409（稍后重试即可），真正的运行失败返回 500
		status := http.StatusInternalServerError
		if errors.Is(err, ErrRunInProgress) {
			status = http.StatusConflict
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "task": s.opts.Name})
}
