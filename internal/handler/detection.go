package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/store"
)

const (
	// MaxUploadSize limits a single uploaded image to 10 MB.
	MaxUploadSize = 10 << 20

	defaultRecentLimit = 50
)

type sessionResponse struct {
	SessionID string `json:"session_id"`
	Running   bool   `json:"running"`
	Interval  string `json:"interval"`
}

type statsResponse struct {
	Summary  store.Summary  `json:"summary"`
	Pipeline service.Status `json:"pipeline"`
}

// StartDetectionHandler starts a detection session on the connected source.
func StartDetectionHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := manager.Start()
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{
			SessionID: session.ID,
			Running:   true,
			Interval:  manager.Interval().String(),
		}, logger)
	}
}

// StopDetectionHandler stops the running session after in-flight jobs finish.
func StopDetectionHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := manager.Stop(); err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, manager.Status(), logger)
	}
}

// SetIntervalHandler handles POST /api/detection/interval?seconds=N.
func SetIntervalHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seconds, err := strconv.ParseFloat(r.FormValue("seconds"), 64)
		if err != nil {
			http.Error(w, "seconds must be a number", http.StatusBadRequest)
			return
		}

		if err := manager.SetInterval(time.Duration(seconds * float64(time.Second))); err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"interval": manager.Interval().String()}, logger)
	}
}

// ResetDetectionsHandler clears the detection log.
func ResetDetectionsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := manager.Reset(); err != nil {
			writeError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RecentDetectionsHandler returns the last "limit" vehicles and objects, oldest first.
// limit=0 returns everything.
func RecentDetectionsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := atoiDefault(r.URL.Query().Get("limit"), defaultRecentLimit)
		if limit < 0 {
			http.Error(w, "limit must not be negative", http.StatusBadRequest)
			return
		}

		recent, err := manager.Recent(limit)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, recent, logger)
	}
}

// DetectionStatsHandler returns the store summary together with pipeline counters.
func DetectionStatsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := manager.Summary()
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{Summary: summary, Pipeline: manager.Status()}, logger)
	}
}

// UploadDetectionHandler runs a one-shot detection for a JPEG sent as the
// multipart "image" field.
func UploadDetectionHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)

		file, _, err := r.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "Image too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Missing image file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Failed to read image", http.StatusBadRequest)
			return
		}
		if len(data) > 0 && http.DetectContentType(data) != "image/jpeg" {
			http.Error(w, "Only JPEG images are supported", http.StatusUnsupportedMediaType)
			return
		}

		result, err := manager.DetectImage(r.Context(), data)
		if err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				logger.Error("Upload detection failed: %v", err)
				writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()}, logger)
				return
			}
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result, logger)
	}
}

// atoiDefault parses s or returns def when s is empty or invalid.
func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
