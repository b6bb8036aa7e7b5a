package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// MinDetectionInterval and MaxDetectionInterval bound the throttle slider.
	MinDetectionInterval = 1 * time.Second
	MaxDetectionInterval = 10 * time.Second
)

type Config struct {
	Port int

	DetectionAPIURL string
	DetectionAPIKey string
	RequestTimeout  time.Duration

	CameraSources []string // Kandydaci w kolejności, np. "0@dshow" albo URL strumienia
	CameraWidth   int
	CameraHeight  int
	CameraFPS     int
	ProbeAttempts int
	ProbeDelay    time.Duration

	DetectionInterval time.Duration // Minimalny odstęp między klatkami wysyłanymi do detekcji
	SubmitQueueSize   int
	ResultQueueSize   int
	ProcessingWorkers int
	PollInterval      time.Duration
	PollMaxWait       time.Duration
	FailureThreshold  int
	FailureBackoff    time.Duration
	FailureBackoffMax time.Duration
	JPEGQuality       int
	SourceTag         string
	DisplayTick       time.Duration

	StoreBackend string // "memory" albo "sqlite"
	StorePath    string

	LogDirectory string
	LogLevel     string
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:              getEnvAsInt("PORT", 8080),
		DetectionAPIURL:   strings.TrimRight(getEnv("DETECTION_API_URL", "http://localhost:5000"), "/"),
		DetectionAPIKey:   getEnv("DETECTION_API_KEY", ""),
		RequestTimeout:    getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		CameraSources:     getEnvAsList("CAMERA_SOURCES", []string{"http://192.168.1.5:8080/video"}),
		CameraWidth:       getEnvAsInt("CAMERA_WIDTH", 1280),
		CameraHeight:      getEnvAsInt("CAMERA_HEIGHT", 720),
		CameraFPS:         getEnvAsInt("CAMERA_FPS", 30),
		ProbeAttempts:     getEnvAsInt("PROBE_ATTEMPTS", 10),
		ProbeDelay:        getEnvAsDuration("PROBE_DELAY", 100*time.Millisecond),
		DetectionInterval: getEnvAsDuration("DETECTION_INTERVAL", 3*time.Second),
		SubmitQueueSize:   getEnvAsInt("SUBMIT_QUEUE_SIZE", 4),
		ResultQueueSize:   getEnvAsInt("RESULT_QUEUE_SIZE", 16),
		ProcessingWorkers: getEnvAsInt("PROCESSING_WORKERS", 1),
		PollInterval:      getEnvAsDuration("POLL_INTERVAL", 2*time.Second),
		PollMaxWait:       getEnvAsDuration("POLL_MAX_WAIT", 30*time.Second),
		FailureThreshold:  getEnvAsInt("FAILURE_THRESHOLD", 5),
		FailureBackoff:    getEnvAsDuration("FAILURE_BACKOFF", 2*time.Second),
		FailureBackoffMax: getEnvAsDuration("FAILURE_BACKOFF_MAX", 30*time.Second),
		JPEGQuality:       getEnvAsInt("JPEG_QUALITY", 90),
		SourceTag:         getEnv("SOURCE_TAG", "ivcam_live"),
		DisplayTick:       getEnvAsDuration("DISPLAY_TICK", 100*time.Millisecond),
		StoreBackend:      getEnv("STORE_BACKEND", "memory"),
		StorePath:         getEnv("STORE_PATH", ":memory:"),
		LogDirectory:      getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks ranges that the pipeline relies on.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.DetectionAPIURL == "" {
		return fmt.Errorf("DETECTION_API_URL is required")
	}
	if len(c.CameraSources) == 0 {
		return fmt.Errorf("CAMERA_SOURCES must name at least one source")
	}
	if c.DetectionInterval < MinDetectionInterval || c.DetectionInterval > MaxDetectionInterval {
		return fmt.Errorf("DETECTION_INTERVAL %s out of range [%s, %s]", c.DetectionInterval, MinDetectionInterval, MaxDetectionInterval)
	}
	if c.SubmitQueueSize <= 0 || c.ResultQueueSize <= 0 {
		return fmt.Errorf("queue sizes must be positive (submit=%d, result=%d)", c.SubmitQueueSize, c.ResultQueueSize)
	}
	if c.ProcessingWorkers < 1 {
		return fmt.Errorf("PROCESSING_WORKERS must be at least 1")
	}
	if c.ProbeAttempts < 1 {
		return fmt.Errorf("PROBE_ATTEMPTS must be at least 1")
	}
	if c.PollInterval <= 0 || c.PollMaxWait < c.PollInterval {
		return fmt.Errorf("POLL_MAX_WAIT (%s) must be >= POLL_INTERVAL (%s) > 0", c.PollMaxWait, c.PollInterval)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be within 1..100")
	}
	if c.DisplayTick <= 0 || c.DisplayTick > 100*time.Millisecond {
		return fmt.Errorf("DISPLAY_TICK must be within (0, 100ms]")
	}
	switch c.StoreBackend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("250ms") or plain seconds ("3").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
