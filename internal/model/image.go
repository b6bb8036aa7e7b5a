package model

import (
	"time"

	"github.com/google/uuid"
)

// Image is a decoded frame buffer owned by whoever holds it; Close frees it.
type Image interface {
	Clone() Image
	Empty() bool
	Close() error
}

// FrameSample is a frame selected for remote detection.
type FrameSample struct {
	Image      Image
	CapturedAt time.Time
	Seq        uint64
	TraceID    string
}

// NewFrameSample wraps an already cloned image with its sequence id.
func NewFrameSample(img Image, seq uint64, capturedAt time.Time) FrameSample {
	return FrameSample{
		Image:      img,
		CapturedAt: capturedAt,
		Seq:        seq,
		TraceID:    uuid.NewString(),
	}
}

// Release closes the image buffer if present.
func (f FrameSample) Release() {
	if f.Image != nil {
		f.Image.Close()
	}
}
