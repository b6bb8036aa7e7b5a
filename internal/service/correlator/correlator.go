package correlator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/store"
)

// Notifier is told about every result that reached the store.
type Notifier interface {
	DetectionsAppended(result model.DetectionResult, stats store.AppendStats)
}

type Stats struct {
	Results  uint64 `json:"results"`
	Vehicles uint64 `json:"vehicles"`
	Objects  uint64 `json:"objects"`
	Rejected uint64 `json:"rejected"`
	Errors   uint64 `json:"errors"`
}

// Correlator folds completed detection results into the store.
type Correlator struct {
	results  <-chan model.DetectionResult
	store    store.Store
	notifier Notifier
	logger   *logger.Logger

	drained  atomic.Uint64
	vehicles atomic.Uint64
	objects  atomic.Uint64
	rejected atomic.Uint64
	errors   atomic.Uint64
}

// New creates a Correlator. notifier may be nil.
func New(results <-chan model.DetectionResult, st store.Store, notifier Notifier, logger *logger.Logger) *Correlator {
	return &Correlator{
		results:  results,
		store:    st,
		notifier: notifier,
		logger:   logger,
	}
}

// Run drains on every tick until ctx is done, then drains once more.
func (c *Correlator) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Drain()
			return
		case <-ticker.C:
			c.Drain()
		}
	}
}

// Drain appends every result currently queued, without blocking, and
// returns how many results it consumed.
func (c *Correlator) Drain() int {
	n := 0
	for {
		select {
		case result, ok := <-c.results:
			if !ok {
				return n
			}
			c.append(result)
			n++
		default:
			return n
		}
	}
}

func (c *Correlator) append(result model.DetectionResult) {
	c.drained.Add(1)

	stats, err := c.store.Append(result)
	if err != nil {
		c.errors.Add(1)
		c.logger.Error("Failed to store detections for frame %d: %v", result.FrameSeq, err)
		return
	}

	c.vehicles.Add(uint64(stats.Vehicles))
	c.objects.Add(uint64(stats.Objects))
	if stats.Rejected > 0 {
		c.rejected.Add(uint64(stats.Rejected))
		c.logger.Warning("⚠️  Frame %d: rejected %d detection(s) with confidence outside [0,1]", result.FrameSeq, stats.Rejected)
	}

	if c.notifier != nil {
		c.notifier.DetectionsAppended(result, stats)
	}
}

func (c *Correlator) Stats() Stats {
	return Stats{
		Results:  c.drained.Load(),
		Vehicles: c.vehicles.Load(),
		Objects:  c.objects.Load(),
		Rejected: c.rejected.Load(),
		Errors:   c.errors.Load(),
	}
}
