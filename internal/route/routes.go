package route

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/config"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/handler"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/middleware"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/websocket"
)

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", path+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers the dashboard pages, the control API and the viewer
// feed, and wraps the mux with request logging.
func SetupRoutes(manager *service.Manager, hub *websocket.HubService, remote handler.RemoteService,
	cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// Source
	mux.HandleFunc("POST /api/source/connect", handler.ConnectSourceHandler(manager, logger))
	mux.HandleFunc("POST /api/source/disconnect", handler.DisconnectSourceHandler(manager, logger))

	// Detection control
	mux.HandleFunc("POST /api/detection/start", handler.StartDetectionHandler(manager, logger))
	mux.HandleFunc("POST /api/detection/stop", handler.StopDetectionHandler(manager, logger))
	mux.HandleFunc("POST /api/detection/interval", handler.SetIntervalHandler(manager, logger))

	// Detection log
	mux.HandleFunc("GET /api/detections", handler.RecentDetectionsHandler(manager, logger))
	mux.HandleFunc("GET /api/detections/stats", handler.DetectionStatsHandler(manager, logger))
	mux.HandleFunc("POST /api/detections/reset", handler.ResetDetectionsHandler(manager, logger))
	mux.HandleFunc("POST /api/detections/upload", handler.UploadDetectionHandler(manager, logger))

	// Remote detection service
	mux.HandleFunc("GET /api/remote/health", handler.RemoteHealthHandler(remote, logger))
	mux.HandleFunc("GET /api/remote/export", handler.RemoteExportHandler(remote, logger))

	// Viewer feed
	mux.HandleFunc("GET /api/view", handler.ViewWebsocketHandler(hub, logger))

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handler.ShowLogsHandler(cfg))

	// Automatic HTML handler mapping for example: /settings -> /static/settings.html
	mux.HandleFunc("/", dynamicHTMLHandler)

	return middleware.RequestLogger(logger, mux)
}
