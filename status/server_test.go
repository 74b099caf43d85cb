package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/yeti47/crop-exporter/ccc/logging"
	"github.com/yeti47/crop-exporter/metrics"
	"github.com/yeti47/crop-exporter/pipeline"
	"github.com/yeti47/crop-exporter/windowing"
)

type staticStatus struct {
	status pipeline.Status
}

func (s *staticStatus) Status() pipeline.Status { return s.status }

func setupServerTest(t *testing.T, backlog BacklogFunc) (*Server, *metrics.Pipeline) {
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	m := metrics.NewPipeline(reg, "c1")

	p := &staticStatus{status: pipeline.Status{
		State:         pipeline.StateRunning,
		QueueDepth:    3,
		QueueCapacity: 10,
		Dropped:       2,
		Window: windowing.State{
			StartEpoch:      1770091500,
			DurationSeconds: 300,
			Files:           []string{"/staging/a.jpg", "/staging/b.jpg"},
		},
		LastSequence: 7,
	}}

	return NewServer(logging.NopLogger, ":0", "crop-exporter", p, backlog, reg), m
}

func TestServer_Health(t *testing.T) {
	s, _ := setupServerTest(t, nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "crop-exporter" {
		t.Errorf("Unexpected health body %v", body)
	}
}

func TestServer_Status(t *testing.T) {
	s, _ := setupServerTest(t, func(ctx context.Context) (int, error) { return 4, nil })

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var body StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.State != pipeline.StateRunning || body.QueueDepth != 3 || body.Dropped != 2 || body.LastSequence != 7 {
		t.Errorf("Unexpected status %+v", body)
	}
	if body.FilesInWindow != 2 || body.Window.StartEpoch != 1770091500 {
		t.Errorf("Unexpected window %+v (files %d)", body.Window, body.FilesInWindow)
	}
	if body.Backlog == nil || *body.Backlog != 4 {
		t.Errorf("Expected backlog 4, got %v", body.Backlog)
	}
}

func TestServer_Status_BacklogError(t *testing.T) {
	s, _ := setupServerTest(t, func(ctx context.Context) (int, error) { return 0, errors.New("db locked") })

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	s, m := setupServerTest(t, nil)
	m.Dropped.Add(5)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `crop_exporter_records_dropped_total{camera_id="c1"} 5`) {
		t.Errorf("Expected dropped counter in metrics output, got:\n%s", w.Body.String())
	}
}
