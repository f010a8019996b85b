package notifier_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"sunlight-backend/internal/config"
	"sunlight-backend/internal/models"
	"sunlight-backend/internal/notifier"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pushoverCapture struct {
	mu       sync.Mutex
	requests []map[string]string
}

func (p *pushoverCapture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fields := map[string]string{
			"token": r.FormValue("token"),
			"user":  r.FormValue("user"),
			"title": r.FormValue("title"),
			"sound": r.FormValue("sound"),
		}
		p.mu.Lock()
		p.requests = append(p.requests, fields)
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":1,"request":"req-1"}`))
	}
}

func (p *pushoverCapture) all() []map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]map[string]string(nil), p.requests...)
}

func notifyConfig(serverURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Notify.PushoverEnabled = true
	cfg.Notify.PushoverURL = serverURL
	cfg.Notify.PushoverToken = "general-token"
	cfg.Notify.PushoverBatteryToken = "battery-token"
	cfg.Notify.PushoverUserKey = "user-key"
	return cfg
}

func statusReading(status string) *models.Reading {
	voltage := 3.7
	percent := 62.0
	return &models.Reading{
		SensorID:       "sensor-a",
		SensorSetID:    "set-1",
		Timestamp:      time.Date(2026, 5, 1, 12, 0, 10, 0, time.UTC),
		BatteryVoltage: &voltage,
		BatteryPercent: &percent,
		Status:         &status,
	}
}

func TestProcessStatusReading_BatteryUsesBatteryToken(t *testing.T) {
	capture := &pushoverCapture{}
	server := httptest.NewServer(capture.handler())
	defer server.Close()

	n := notifier.NewNotifier(notifyConfig(server.URL), zap.NewNop())
	n.ProcessStatusReading(statusReading("[wake] battery 62%"))

	requests := capture.all()
	require.Len(t, requests, 1)
	require.Equal(t, "battery-token", requests[0]["token"])
	require.Equal(t, "user-key", requests[0]["user"])
	require.Equal(t, "intermission", requests[0]["sound"])
	require.Contains(t, requests[0]["title"], "sensor-a")
	require.Contains(t, requests[0]["title"], "62")
}

func TestProcessStatusReading_BootUsesGeneralToken(t *testing.T) {
	capture := &pushoverCapture{}
	server := httptest.NewServer(capture.handler())
	defer server.Close()

	n := notifier.NewNotifier(notifyConfig(server.URL), zap.NewNop())
	n.ProcessStatusReading(statusReading("[boot] connected, firmware abc123"))

	requests := capture.all()
	require.Len(t, requests, 1)
	require.Equal(t, "general-token", requests[0]["token"])
	require.Equal(t, "pushover", requests[0]["sound"])
}

func TestProcessStatusReading_OtherStatusesAreLogOnly(t *testing.T) {
	capture := &pushoverCapture{}
	server := httptest.NewServer(capture.handler())
	defer server.Close()

	n := notifier.NewNotifier(notifyConfig(server.URL), zap.NewNop())
	n.ProcessStatusReading(statusReading("[wake] timer"))
	n.ProcessStatusReading(&models.Reading{SensorID: "sensor-a"})

	require.Empty(t, capture.all())
}

func TestProcessStatusReading_DisabledPushoverSendsNothing(t *testing.T) {
	capture := &pushoverCapture{}
	server := httptest.NewServer(capture.handler())
	defer server.Close()

	cfg := notifyConfig(server.URL)
	cfg.Notify.PushoverEnabled = false

	n := notifier.NewNotifier(cfg, zap.NewNop())
	n.ProcessStatusReading(statusReading("battery"))

	require.Empty(t, capture.all())
}
