package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("no usable video source")
	ErrSourceLost        = errors.New("video source lost")
	ErrInvalidConfidence = errors.New("confidence out of range [0,1]")
)

// UnknownValue fills optional descriptive fields the service left out.
const UnknownValue = "Unknown"

type VehicleDetection struct {
	Type         string  `json:"vehicle_type"`
	Confidence   float64 `json:"confidence"`
	Color        string  `json:"color"`
	LicensePlate *string `json:"license_plate,omitempty"`
}

type ObjectDetection struct {
	Type         string  `json:"object_type"`
	Confidence   float64 `json:"confidence"`
	Location     string  `json:"location"`
	SizeCategory string  `json:"size_category"`
}

// DetectionResult holds the detections returned for one submitted frame.
type DetectionResult struct {
	JobID      string             `json:"job_id"`
	FrameSeq   uint64             `json:"frame_seq"`
	Source     string             `json:"source"`
	Vehicles   []VehicleDetection `json:"vehicles"`
	Objects    []ObjectDetection  `json:"other_objects"`
	TimedOut   bool               `json:"timed_out"`
	ReceivedAt time.Time          `json:"received_at"`
}

// Empty reports whether the result carries no detections.
func (r DetectionResult) Empty() bool {
	return len(r.Vehicles) == 0 && len(r.Objects) == 0
}

// ValidConfidence reports whether c lies within [0,1].
func ValidConfidence(c float64) bool {
	return c >= 0 && c <= 1
}

// CheckConfidence returns ErrInvalidConfidence wrapped with context when c is out of range.
func CheckConfidence(kind string, c float64) error {
	if !ValidConfidence(c) {
		return fmt.Errorf("%s confidence %v: %w", kind, c, ErrInvalidConfidence)
	}
	return nil
}
