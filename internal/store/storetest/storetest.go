// Package storetest holds behaviour checks shared by every store.Store implementation.
package storetest

import (
	"math"
	"testing"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/store"
)

// Run exercises newStore against the detection log contract.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("AppendPreservesOrder", func(t *testing.T) { testAppendOrder(t, newStore(t)) })
	t.Run("RejectsOutOfRangeConfidence", func(t *testing.T) { testRejects(t, newStore(t)) })
	t.Run("Summary", func(t *testing.T) { testSummary(t, newStore(t)) })
	t.Run("RecentLimit", func(t *testing.T) { testRecent(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
}

func plate(s string) *string { return &s }

func result(seq uint64, vehicles []model.VehicleDetection, objects []model.ObjectDetection) model.DetectionResult {
	return model.DetectionResult{
		JobID:      "job",
		FrameSeq:   seq,
		Source:     "ivcam_live",
		Vehicles:   vehicles,
		Objects:    objects,
		ReceivedAt: time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC),
	}
}

func testAppendOrder(t *testing.T, s store.Store) {
	defer s.Close()

	stats, err := s.Append(result(1, []model.VehicleDetection{
		{Type: "sedan", Confidence: 0.92, Color: "blue", LicensePlate: plate("KR 1234")},
		{Type: "truck", Confidence: 0.65, Color: "Unknown"},
	}, nil))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if stats.Vehicles != 2 || stats.Rejected != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	recent, err := s.Recent(0)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent.Vehicles) != 2 {
		t.Fatalf("Expected 2 vehicles, got %d", len(recent.Vehicles))
	}
	if recent.Vehicles[0].Type != "sedan" || recent.Vehicles[1].Type != "truck" {
		t.Errorf("Expected [sedan truck], got [%s %s]", recent.Vehicles[0].Type, recent.Vehicles[1].Type)
	}
	if p := recent.Vehicles[0].LicensePlate; p == nil || *p != "KR 1234" {
		t.Errorf("License plate lost: %v", p)
	}
	if recent.Vehicles[1].LicensePlate != nil {
		t.Error("Missing plate should stay nil")
	}
	if recent.Vehicles[0].FrameSeq != 1 || recent.Vehicles[0].Source != "ivcam_live" {
		t.Errorf("Frame metadata lost: %+v", recent.Vehicles[0])
	}
}

func testRejects(t *testing.T, s store.Store) {
	defer s.Close()

	stats, err := s.Append(result(2,
		[]model.VehicleDetection{{Type: "bus", Confidence: 1.5}, {Type: "van", Confidence: 0.8}},
		[]model.ObjectDetection{{Type: "person", Confidence: -0.1}, {Type: "dog", Confidence: 0.4}},
	))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if stats.Rejected != 2 || stats.Vehicles != 1 || stats.Objects != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	recent, _ := s.Recent(0)
	for _, v := range recent.Vehicles {
		if !model.ValidConfidence(v.Confidence) {
			t.Errorf("Store contains out-of-range vehicle %+v", v)
		}
	}
	for _, o := range recent.Objects {
		if !model.ValidConfidence(o.Confidence) {
			t.Errorf("Store contains out-of-range object %+v", o)
		}
	}
}

func testSummary(t *testing.T, s store.Store) {
	defer s.Close()

	s.Append(result(1, []model.VehicleDetection{
		{Type: "sedan", Confidence: 0.9},
		{Type: "sedan", Confidence: 0.7},
		{Type: "truck", Confidence: 0.5},
	}, []model.ObjectDetection{
		{Type: "person", Confidence: 0.6, Location: "left", SizeCategory: "small"},
	}))

	sum, err := s.Summary()
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.Vehicles != 3 || sum.Objects != 1 {
		t.Errorf("Unexpected counts %+v", sum)
	}
	if sum.VehicleTypes["sedan"] != 2 || sum.VehicleTypes["truck"] != 1 {
		t.Errorf("Unexpected distribution %v", sum.VehicleTypes)
	}
	if sum.ObjectTypes["person"] != 1 {
		t.Errorf("Unexpected object distribution %v", sum.ObjectTypes)
	}
	if math.Abs(sum.AvgVehicleConfidence-0.7) > 1e-9 {
		t.Errorf("Expected avg 0.7, got %v", sum.AvgVehicleConfidence)
	}
	if math.Abs(sum.AvgObjectConfidence-0.6) > 1e-9 {
		t.Errorf("Expected avg 0.6, got %v", sum.AvgObjectConfidence)
	}
}

func testRecent(t *testing.T, s store.Store) {
	defer s.Close()

	for i := 1; i <= 5; i++ {
		s.Append(result(uint64(i), []model.VehicleDetection{{Type: "car", Confidence: 0.5}}, nil))
	}

	recent, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent.Vehicles) != 2 {
		t.Fatalf("Expected 2, got %d", len(recent.Vehicles))
	}
	if recent.Vehicles[0].FrameSeq != 4 || recent.Vehicles[1].FrameSeq != 5 {
		t.Errorf("Expected frames [4 5], got [%d %d]", recent.Vehicles[0].FrameSeq, recent.Vehicles[1].FrameSeq)
	}
	if len(recent.Objects) != 0 {
		t.Errorf("Expected no objects, got %d", len(recent.Objects))
	}
}

func testReset(t *testing.T, s store.Store) {
	defer s.Close()

	s.Append(result(1, []model.VehicleDetection{{Type: "car", Confidence: 0.5}}, []model.ObjectDetection{{Type: "cat", Confidence: 0.3}}))
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	sum, _ := s.Summary()
	if sum.Vehicles != 0 || sum.Objects != 0 {
		t.Errorf("Expected empty store after reset, got %+v", sum)
	}

	s.Append(result(2, []model.VehicleDetection{{Type: "bus", Confidence: 0.5}}, nil))
	sum, _ = s.Summary()
	if sum.Vehicles != 1 {
		t.Errorf("Store should accept appends after reset, got %d", sum.Vehicles)
	}
}
