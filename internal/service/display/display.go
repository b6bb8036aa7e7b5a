package display

import (
	"encoding/json"
	"sync/atomic"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/store"
)

// Broadcaster is the viewer fan-out (the websocket hub).
type Broadcaster interface {
	Broadcast(message []byte) bool
	GetClientCount() int
}

type frameMessage struct {
	Type   string `json:"type"`
	Source string `json:"source"`
	Image  []byte `json:"image"` // base64 in JSON
}

type detectionMessage struct {
	Type     string                   `json:"type"`
	Seq      uint64                   `json:"seq"`
	Source   string                   `json:"source"`
	TimedOut bool                     `json:"timed_out"`
	Vehicles []model.VehicleDetection `json:"vehicles"`
	Objects  []model.ObjectDetection  `json:"other_objects"`
	Rejected int                      `json:"rejected"`
}

// Sink pushes live frames and detection events to connected viewers.
type Sink struct {
	hub     Broadcaster
	encoder video.Encoder
	source  string
	logger  *logger.Logger

	frames  atomic.Uint64
	skipped atomic.Uint64
}

func NewSink(hub Broadcaster, encoder video.Encoder, source string, logger *logger.Logger) *Sink {
	return &Sink{hub: hub, encoder: encoder, source: source, logger: logger}
}

// Render encodes img and hands it to the hub. With no viewers it does nothing.
func (s *Sink) Render(img model.Image) {
	if s.hub.GetClientCount() == 0 {
		return
	}

	data, err := s.encoder.EncodeJPEG(img)
	if err != nil {
		s.logger.Error("Failed to encode preview frame: %v", err)
		return
	}

	msg, err := json.Marshal(frameMessage{Type: "frame", Source: s.source, Image: data})
	if err != nil {
		s.logger.Error("Failed to marshal preview frame: %v", err)
		return
	}

	if s.hub.Broadcast(msg) {
		s.frames.Add(1)
	} else {
		s.skipped.Add(1)
	}
}

// DetectionsAppended broadcasts a detection event after the store accepted a result.
func (s *Sink) DetectionsAppended(result model.DetectionResult, stats store.AppendStats) {
	msg, err := json.Marshal(detectionMessage{
		Type:     "detections",
		Seq:      result.FrameSeq,
		Source:   result.Source,
		TimedOut: result.TimedOut,
		Vehicles: result.Vehicles,
		Objects:  result.Objects,
		Rejected: stats.Rejected,
	})
	if err != nil {
		s.logger.Error("Failed to marshal detection event: %v", err)
		return
	}
	if !s.hub.Broadcast(msg) {
		s.logger.Warning("⚠️  Viewer buffer full - detection event for frame %d dropped", result.FrameSeq)
	}
}

// Frames returns how many preview frames were sent and skipped.
func (s *Sink) Frames() (sent, skipped uint64) {
	return s.frames.Load(), s.skipped.Load()
}
