package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/client"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error, logger *logger.Logger) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()}, logger)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrAlreadyRunning),
		errors.Is(err, service.ErrNotRunning),
		errors.Is(err, service.ErrNotConnected),
		errors.Is(err, service.ErrConnecting):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInterval),
		errors.Is(err, service.ErrEmptyImage):
		return http.StatusBadRequest
	case errors.Is(err, client.ErrRemoteFailure),
		errors.Is(err, client.ErrMalformed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
