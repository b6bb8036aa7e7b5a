package store_test

import (
	"sync"
	"testing"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/store"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return store.NewMemoryStore() })
}

func TestMemoryStore_ConcurrentAppend(t *testing.T) {
	s := store.NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Append(model.DetectionResult{
					FrameSeq: uint64(seq),
					Vehicles: []model.VehicleDetection{{Type: "car", Confidence: 0.5}},
				})
			}
		}(i)
	}
	wg.Wait()

	sum, _ := s.Summary()
	if sum.Vehicles != 400 {
		t.Errorf("Expected 400 vehicles, got %d", sum.Vehicles)
	}
}

func TestMemoryStore_RecentIsACopy(t *testing.T) {
	s := store.NewMemoryStore()
	s.Append(model.DetectionResult{Vehicles: []model.VehicleDetection{{Type: "car", Confidence: 0.5}}})

	recent, _ := s.Recent(0)
	recent.Vehicles[0].Type = "mutated"

	again, _ := s.Recent(0)
	if again.Vehicles[0].Type != "car" {
		t.Error("Recent must not expose internal storage")
	}
}
