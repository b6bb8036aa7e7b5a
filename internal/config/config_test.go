package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DETECTION_INTERVAL", "CAMERA_SOURCES", "STORE_BACKEND", "DETECTION_API_URL"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Port)
	}
	if cfg.DetectionInterval != 3*time.Second {
		t.Errorf("Expected 3s interval, got %s", cfg.DetectionInterval)
	}
	if len(cfg.CameraSources) != 1 || cfg.CameraSources[0] != "http://192.168.1.5:8080/video" {
		t.Errorf("Unexpected default sources: %v", cfg.CameraSources)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate, got %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DETECTION_INTERVAL", "5")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("CAMERA_SOURCES", "1@dshow, 0@dshow ,0")
	t.Setenv("DETECTION_API_URL", "http://detector:5000/")

	cfg := Load()

	if cfg.DetectionInterval != 5*time.Second {
		t.Errorf("Expected 5s, got %s", cfg.DetectionInterval)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %s", cfg.PollInterval)
	}
	expected := []string{"1@dshow", "0@dshow", "0"}
	if len(cfg.CameraSources) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, cfg.CameraSources)
	}
	for i := range expected {
		if cfg.CameraSources[i] != expected[i] {
			t.Errorf("Source %d: expected %q, got %q", i, expected[i], cfg.CameraSources[i])
		}
	}
	if cfg.DetectionAPIURL != "http://detector:5000" {
		t.Errorf("Trailing slash should be trimmed, got %q", cfg.DetectionAPIURL)
	}
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"interval too short", func(c *Config) { c.DetectionInterval = 500 * time.Millisecond }},
		{"interval too long", func(c *Config) { c.DetectionInterval = 11 * time.Second }},
		{"zero submit queue", func(c *Config) { c.SubmitQueueSize = 0 }},
		{"no workers", func(c *Config) { c.ProcessingWorkers = 0 }},
		{"max wait below poll", func(c *Config) { c.PollMaxWait = time.Second; c.PollInterval = 2 * time.Second }},
		{"bad quality", func(c *Config) { c.JPEGQuality = 101 }},
		{"slow display tick", func(c *Config) { c.DisplayTick = time.Second }},
		{"unknown store", func(c *Config) { c.StoreBackend = "redis" }},
		{"no sources", func(c *Config) { c.CameraSources = nil }},
	}

	for _, tt := range tests {
		cfg := Load()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
