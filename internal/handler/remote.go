package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/client"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
)

// RemoteService is the part of the detection service client used by the dashboard.
type RemoteService interface {
	Health(ctx context.Context) (*client.HealthStatus, error)
	Export(ctx context.Context) (*client.ExportResult, error)
}

// RemoteHealthHandler passes the detection service health through.
func RemoteHealthHandler(remote RemoteService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health, err := remote.Health(r.Context())
		if err != nil {
			logger.Warning("⚠️  Detection service health check failed: %v", err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()}, logger)
			return
		}
		writeJSON(w, http.StatusOK, health, logger)
	}
}

// RemoteExportHandler downloads the service-side CSV export. kind=vehicles or
// kind=objects returns that file as an attachment; no kind returns both as JSON.
func RemoteExportHandler(remote RemoteService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := r.URL.Query().Get("kind")
		if kind != "" && kind != "vehicles" && kind != "objects" {
			http.Error(w, "kind must be vehicles or objects", http.StatusBadRequest)
			return
		}

		export, err := remote.Export(r.Context())
		if err != nil {
			logger.Error("Detection service export failed: %v", err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()}, logger)
			return
		}

		if kind == "" {
			writeJSON(w, http.StatusOK, export, logger)
			return
		}
		filename, body, _ := export.File(kind, time.Now())

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		w.Write([]byte(body))
	}
}
