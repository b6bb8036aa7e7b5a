package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, false)

	handler := RequestLogger(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fine", nil))
	if rec.Code != http.StatusOK || buf.Len() != 0 {
		t.Errorf("Successful request should only log at debug, got %q", buf.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/broken", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "POST /broken -> 500") {
		t.Errorf("Expected error entry, got %q", buf.String())
	}
}

func TestStatusRecorder_HijackUnsupported(t *testing.T) {
	recorder := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := recorder.Hijack(); err == nil {
		t.Error("Expected error from a writer without Hijack")
	}
}
