package store

import (
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
)

// Store is the session-scoped, append-only detection log.
type Store interface {
	// Append records every valid detection of result in order. Entries with
	// confidence outside [0,1] are skipped and counted in AppendStats.Rejected.
	Append(result model.DetectionResult) (AppendStats, error)
	Summary() (Summary, error)
	// Recent returns the last limit entries of each category, oldest first.
	Recent(limit int) (Recent, error)
	Reset() error
	Close() error
}

type VehicleRecord struct {
	model.VehicleDetection
	FrameSeq   uint64    `json:"frame_seq"`
	Source     string    `json:"source"`
	DetectedAt time.Time `json:"detected_at"`
}

type ObjectRecord struct {
	model.ObjectDetection
	FrameSeq   uint64    `json:"frame_seq"`
	Source     string    `json:"source"`
	DetectedAt time.Time `json:"detected_at"`
}

type AppendStats struct {
	Vehicles int
	Objects  int
	Rejected int
}

type Summary struct {
	Vehicles             int            `json:"vehicles"`
	Objects              int            `json:"objects"`
	VehicleTypes         map[string]int `json:"vehicle_types"`
	ObjectTypes          map[string]int `json:"object_types"`
	AvgVehicleConfidence float64        `json:"avg_vehicle_confidence"`
	AvgObjectConfidence  float64        `json:"avg_object_confidence"`
}

type Recent struct {
	Vehicles []VehicleRecord `json:"vehicles"`
	Objects  []ObjectRecord  `json:"other_objects"`
}

// Split validates result and converts it into records, dropping out-of-range entries.
func Split(result model.DetectionResult) ([]VehicleRecord, []ObjectRecord, int) {
	at := result.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	rejected := 0
	vehicles := make([]VehicleRecord, 0, len(result.Vehicles))
	for _, v := range result.Vehicles {
		if !model.ValidConfidence(v.Confidence) {
			rejected++
			continue
		}
		vehicles = append(vehicles, VehicleRecord{VehicleDetection: v, FrameSeq: result.FrameSeq, Source: result.Source, DetectedAt: at})
	}

	objects := make([]ObjectRecord, 0, len(result.Objects))
	for _, o := range result.Objects {
		if !model.ValidConfidence(o.Confidence) {
			rejected++
			continue
		}
		objects = append(objects, ObjectRecord{ObjectDetection: o, FrameSeq: result.FrameSeq, Source: result.Source, DetectedAt: at})
	}
	return vehicles, objects, rejected
}
