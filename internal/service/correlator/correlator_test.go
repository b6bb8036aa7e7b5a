package correlator

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/store"
)

type recordingNotifier struct {
	mu    sync.Mutex
	seqs  []uint64
	stats []store.AppendStats
}

func (r *recordingNotifier) DetectionsAppended(result model.DetectionResult, stats store.AppendStats) {
	r.mu.Lock()
	r.seqs = append(r.seqs, result.FrameSeq)
	r.stats = append(r.stats, stats)
	r.mu.Unlock()
}

type failingStore struct{ store.Store }

func (failingStore) Append(model.DetectionResult) (store.AppendStats, error) {
	return store.AppendStats{}, errors.New("disk full")
}

func discardLogger() *logger.Logger {
	return logger.NewWithWriter(io.Discard, false)
}

func TestDrain_AppendsInOrder(t *testing.T) {
	results := make(chan model.DetectionResult, 4)
	st := store.NewMemoryStore()
	c := New(results, st, nil, discardLogger())

	before, _ := st.Summary()
	results <- model.DetectionResult{FrameSeq: 1, Vehicles: []model.VehicleDetection{
		{Type: "sedan", Confidence: 0.92, Color: "blue"},
		{Type: "truck", Confidence: 0.65, Color: "Unknown"},
	}}

	if n := c.Drain(); n != 1 {
		t.Fatalf("Expected 1 drained result, got %d", n)
	}

	after, _ := st.Summary()
	if after.Vehicles-before.Vehicles != 2 {
		t.Errorf("Expected vehicle count to rise by 2, got %d", after.Vehicles-before.Vehicles)
	}
	recent, _ := st.Recent(2)
	if recent.Vehicles[0].Type != "sedan" || recent.Vehicles[1].Type != "truck" {
		t.Errorf("Expected [sedan truck], got [%s %s]", recent.Vehicles[0].Type, recent.Vehicles[1].Type)
	}
}

func TestDrain_NonBlockingOnEmptyQueue(t *testing.T) {
	c := New(make(chan model.DetectionResult, 1), store.NewMemoryStore(), nil, discardLogger())

	done := make(chan int, 1)
	go func() { done <- c.Drain() }()

	select {
	case n := <-done:
		if n != 0 {
			t.Errorf("Expected 0, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Drain blocked on an empty queue")
	}
}

func TestDrain_DrainOrderAcrossResults(t *testing.T) {
	results := make(chan model.DetectionResult, 4)
	st := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	c := New(results, st, notifier, discardLogger())

	for seq := uint64(1); seq <= 3; seq++ {
		results <- model.DetectionResult{FrameSeq: seq, Objects: []model.ObjectDetection{{Type: "person", Confidence: 0.5}}}
	}
	c.Drain()

	recent, _ := st.Recent(0)
	for i, o := range recent.Objects {
		if o.FrameSeq != uint64(i+1) {
			t.Errorf("Object %d from frame %d, expected %d", i, o.FrameSeq, i+1)
		}
	}
	if len(notifier.seqs) != 3 || notifier.seqs[2] != 3 {
		t.Errorf("Notifier saw %v", notifier.seqs)
	}
}

func TestDrain_CountsRejectedAndEmptyResults(t *testing.T) {
	results := make(chan model.DetectionResult, 4)
	c := New(results, store.NewMemoryStore(), nil, discardLogger())

	results <- model.DetectionResult{FrameSeq: 1, Vehicles: []model.VehicleDetection{{Type: "bus", Confidence: 1.3}}}
	results <- model.DetectionResult{FrameSeq: 2, TimedOut: true}
	c.Drain()

	s := c.Stats()
	if s.Results != 2 || s.Rejected != 1 || s.Vehicles != 0 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestDrain_StoreErrorDoesNotStopDraining(t *testing.T) {
	results := make(chan model.DetectionResult, 2)
	c := New(results, failingStore{}, nil, discardLogger())

	results <- model.DetectionResult{FrameSeq: 1}
	results <- model.DetectionResult{FrameSeq: 2}
	if n := c.Drain(); n != 2 {
		t.Errorf("Expected 2 drained, got %d", n)
	}
	if c.Stats().Errors != 2 {
		t.Errorf("Expected 2 errors, got %d", c.Stats().Errors)
	}
}

func TestRun_FinalDrainOnStop(t *testing.T) {
	results := make(chan model.DetectionResult, 2)
	st := store.NewMemoryStore()
	c := New(results, st, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, time.Hour)
		close(done)
	}()

	results <- model.DetectionResult{FrameSeq: 9, Vehicles: []model.VehicleDetection{{Type: "van", Confidence: 0.8}}}
	cancel()
	<-done

	sum, _ := st.Summary()
	if sum.Vehicles != 1 {
		t.Errorf("Expected the queued result to be drained on stop, got %d vehicles", sum.Vehicles)
	}
}
