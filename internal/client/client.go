package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/config"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
)

var (
	// ErrMalformed means the service answered with a payload that does not match the contract.
	ErrMalformed = errors.New("malformed detection service response")
	// ErrRemoteFailure means the service itself reported the job or request as failed.
	ErrRemoteFailure = errors.New("detection service reported failure")
)

// Status is the remote job status reported by the poll endpoint.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Detector is the remote detection service as seen by the submission worker.
type Detector interface {
	Submit(ctx context.Context, image []byte, source string) (*SubmitResult, error)
	Poll(ctx context.Context, jobID string) (*PollResult, error)
}

// SubmitResult is the answer to a frame submission. Detections is set when the
// service answered synchronously and no polling is needed.
type SubmitResult struct {
	JobID      string
	Detections *Detections
}

type PollResult struct {
	Status     Status
	Detections *Detections
	Error      string
}

type ExportResult struct {
	VehiclesCSV string `json:"vehicles_csv"`
	ObjectsCSV  string `json:"other_objects_csv"`
}

// File returns the CSV for kind ("vehicles" or "objects") and its download
// name stamped with at. ok is false for an unknown kind.
func (e *ExportResult) File(kind string, at time.Time) (name, body string, ok bool) {
	stamp := at.Format("20060102_150405")
	switch kind {
	case "vehicles":
		return "vehicles_export_" + stamp + ".csv", e.VehiclesCSV, true
	case "objects":
		return "objects_export_" + stamp + ".csv", e.ObjectsCSV, true
	}
	return "", "", false
}

type HealthStatus struct {
	Status              string `json:"status"`
	DetectionsProcessed int    `json:"detections_processed"`
}

// Client talks to the remote detection service over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	validate   *validator.Validate
	logger     *logger.Logger
}

// New creates a Client from configuration.
func New(cfg *config.Config, logger *logger.Logger) *Client {
	return NewWithHTTPClient(cfg.DetectionAPIURL, cfg.DetectionAPIKey, &http.Client{Timeout: cfg.RequestTimeout}, logger)
}

// NewWithHTTPClient creates a Client with a caller supplied http.Client.
func NewWithHTTPClient(baseURL, apiKey string, httpClient *http.Client, logger *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Submit uploads one JPEG frame tagged with source.
func (c *Client) Submit(ctx context.Context, image []byte, source string) (*SubmitResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="detection.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image part: %w", err)
	}
	if err := writer.WriteField("source", source); err != nil {
		return nil, fmt.Errorf("failed to write source field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var payload submitPayload
	if err := c.doRequest(req, &payload); err != nil {
		return nil, err
	}
	if payload.Success != nil && !*payload.Success {
		return nil, fmt.Errorf("%w: %s", ErrRemoteFailure, payload.Error)
	}
	if err := c.validate.Struct(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	result := &SubmitResult{JobID: payload.JobID}
	if payload.Detections != nil {
		result.Detections = payload.Detections.toDetections()
	}
	return result, nil
}

// Poll fetches the current status of a submitted job.
func (c *Client) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	var payload pollPayload
	if err := c.get(ctx, "/jobs/"+url.PathEscape(jobID), &payload); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if payload.Status == StatusSuccess && payload.Detections == nil {
		return nil, fmt.Errorf("%w: job %s succeeded without detections", ErrMalformed, jobID)
	}

	result := &PollResult{Status: payload.Status, Error: payload.Error}
	if payload.Detections != nil {
		result.Detections = payload.Detections.toDetections()
	}
	return result, nil
}

// Export downloads the service side CSV exports.
func (c *Client) Export(ctx context.Context) (*ExportResult, error) {
	var payload exportPayload
	if err := c.get(ctx, "/export", &payload); err != nil {
		return nil, err
	}
	if payload.Success != nil && !*payload.Success {
		return nil, fmt.Errorf("%w: %s", ErrRemoteFailure, payload.Error)
	}
	if err := c.validate.Struct(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &ExportResult{VehiclesCSV: payload.VehiclesCSV, ObjectsCSV: payload.ObjectsCSV}, nil
}

// Health reports the service status.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var result HealthStatus
	if err := c.get(ctx, "/health", &result); err != nil {
		return nil, err
	}
	if result.Status == "" {
		result.Status = "ok"
	}
	return &result, nil
}

// get sends a GET request and parses JSON response
func (c *Client) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *Client) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if c.logger != nil {
		c.logger.Debug("detection API %s %s -> %d (%s)", req.Method, req.URL.Path, resp.StatusCode, time.Since(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("detection API error (status %d): %s", resp.StatusCode, truncate(respBody, 256))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
