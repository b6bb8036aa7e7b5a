package handler

import (
	"net/http"
	"strings"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service"
)

type sourceResponse struct {
	Connected bool   `json:"connected"`
	Source    string `json:"source,omitempty"`
}

// ConnectSourceHandler probes for a video source. The optional "sources" form
// value (comma separated descriptors) replaces the configured candidates.
func ConnectSourceHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var candidates []model.SourceDescriptor
		if raw := strings.TrimSpace(r.FormValue("sources")); raw != "" {
			parsed, err := model.ParseDescriptors(strings.Split(raw, ","))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			candidates = parsed
		}

		desc, err := manager.Connect(r.Context(), candidates)
		if err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sourceResponse{Connected: true, Source: desc.String()}, logger)
	}
}

// DisconnectSourceHandler stops detection and releases the source.
func DisconnectSourceHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := manager.Disconnect(); err != nil {
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sourceResponse{Connected: false}, logger)
	}
}
