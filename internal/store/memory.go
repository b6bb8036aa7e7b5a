package store

import (
	"sync"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
)

// MemoryStore keeps detections in two slices guarded by a RWMutex.
type MemoryStore struct {
	vehicles []VehicleRecord
	objects  []ObjectRecord
	mu       sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(result model.DetectionResult) (AppendStats, error) {
	vehicles, objects, rejected := Split(result)

	s.mu.Lock()
	s.vehicles = append(s.vehicles, vehicles...)
	s.objects = append(s.objects, objects...)
	s.mu.Unlock()

	return AppendStats{Vehicles: len(vehicles), Objects: len(objects), Rejected: rejected}, nil
}

func (s *MemoryStore) Summary() (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := Summary{
		Vehicles:     len(s.vehicles),
		Objects:      len(s.objects),
		VehicleTypes: make(map[string]int),
		ObjectTypes:  make(map[string]int),
	}

	var total float64
	for _, v := range s.vehicles {
		sum.VehicleTypes[v.Type]++
		total += v.Confidence
	}
	if len(s.vehicles) > 0 {
		sum.AvgVehicleConfidence = total / float64(len(s.vehicles))
	}

	total = 0
	for _, o := range s.objects {
		sum.ObjectTypes[o.Type]++
		total += o.Confidence
	}
	if len(s.objects) > 0 {
		sum.AvgObjectConfidence = total / float64(len(s.objects))
	}
	return sum, nil
}

func (s *MemoryStore) Recent(limit int) (Recent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Recent{
		Vehicles: append([]VehicleRecord(nil), tail(s.vehicles, limit)...),
		Objects:  append([]ObjectRecord(nil), tail(s.objects, limit)...),
	}, nil
}

func (s *MemoryStore) Reset() error {
	s.mu.Lock()
	s.vehicles = nil
	s.objects = nil
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func tail[T any](items []T, n int) []T {
	if n <= 0 || n >= len(items) {
		return items
	}
	return items[len(items)-n:]
}
