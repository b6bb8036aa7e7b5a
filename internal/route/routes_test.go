package route

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/client"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/config"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video/videotest"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/websocket"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/store"
)

type idleRemote struct{}

func (idleRemote) Submit(ctx context.Context, image []byte, source string) (*client.SubmitResult, error) {
	return &client.SubmitResult{JobID: "j", Detections: &client.Detections{}}, nil
}

func (idleRemote) Poll(ctx context.Context, jobID string) (*client.PollResult, error) {
	return &client.PollResult{Status: client.StatusRunning}, nil
}

func (idleRemote) Health(ctx context.Context) (*client.HealthStatus, error) {
	return &client.HealthStatus{Status: "ok"}, nil
}

func (idleRemote) Export(ctx context.Context) (*client.ExportResult, error) {
	return &client.ExportResult{}, nil
}

func TestSetupRoutes(t *testing.T) {
	log := logger.NewWithWriter(io.Discard, false)
	cfg := &config.Config{
		CameraSources:     []string{"0"},
		ProbeAttempts:     1,
		DetectionInterval: 3 * time.Second,
		SubmitQueueSize:   1,
		ResultQueueSize:   1,
		ProcessingWorkers: 1,
		DisplayTick:       10 * time.Millisecond,
		LogDirectory:      t.TempDir(),
	}
	manager, err := service.NewManager(cfg, &videotest.Opener{}, videotest.Encoder{}, idleRemote{}, store.NewMemoryStore(), nil, log)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	router := SetupRoutes(manager, websocket.NewHubService(4, log), idleRemote{}, cfg, log)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/detections", http.StatusOK},
		{http.MethodGet, "/api/detections/stats", http.StatusOK},
		{http.MethodGet, "/api/remote/health", http.StatusOK},
		{http.MethodGet, "/api/source/connect", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/detection/stop", http.StatusConflict},
		{http.MethodPost, "/api/source/connect", http.StatusNotFound},
		{http.MethodGet, "/logs/info", http.StatusNotFound},
		{http.MethodGet, "/settings", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.path, tt.want, rec.Code)
		}
	}
}
