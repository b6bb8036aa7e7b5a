package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video"
)

// DefaultMaxEmptyReads is how many consecutive empty reads count as a lost source.
const DefaultMaxEmptyReads = 50

// Sink receives every captured frame for display. Render must not block on
// network I/O and must not keep img after returning.
type Sink interface {
	Render(img model.Image)
}

type Options struct {
	Interval      time.Duration
	MaxEmptyReads int
	// Now is the clock used for throttling. Nil means time.Now.
	Now func() time.Time
}

type Stats struct {
	Captured uint64 `json:"captured"`
	Rendered uint64 `json:"rendered"`
	Enqueued uint64 `json:"enqueued"`
	Dropped  uint64 `json:"dropped"`
	LastSeq  uint64 `json:"last_seq"`
}

// Loop reads frames at display cadence and forwards a throttled subset to the
// submission queue. The queue is never blocked on: when it is full the new
// frame is dropped.
type Loop struct {
	handle  video.Handle
	sink    Sink
	queue   chan<- model.FrameSample
	active  *atomic.Bool
	release func()
	logger  *logger.Logger

	interval      atomic.Int64
	maxEmptyReads int
	now           func() time.Time

	seq        uint64
	lastSubmit time.Time

	captured atomic.Uint64
	rendered atomic.Uint64
	enqueued atomic.Uint64
	dropped  atomic.Uint64
	lastSeq  atomic.Uint64
}

// NewLoop creates a capture loop. active is shared with the controller that
// starts and stops detection; release frees the source handle and must be
// safe to call more than once.
func NewLoop(handle video.Handle, sink Sink, queue chan<- model.FrameSample, active *atomic.Bool, release func(), opts Options, logger *logger.Logger) *Loop {
	l := &Loop{
		handle:        handle,
		sink:          sink,
		queue:         queue,
		active:        active,
		release:       release,
		logger:        logger,
		maxEmptyReads: opts.MaxEmptyReads,
		now:           opts.Now,
	}
	if l.maxEmptyReads <= 0 {
		l.maxEmptyReads = DefaultMaxEmptyReads
	}
	if l.now == nil {
		l.now = time.Now
	}
	l.interval.Store(int64(opts.Interval))
	return l
}

// SetInterval changes the throttle interval while the loop runs.
func (l *Loop) SetInterval(d time.Duration) {
	l.interval.Store(int64(d))
}

func (l *Loop) Interval() time.Duration {
	return time.Duration(l.interval.Load())
}

func (l *Loop) Stats() Stats {
	return Stats{
		Captured: l.captured.Load(),
		Rendered: l.rendered.Load(),
		Enqueued: l.enqueued.Load(),
		Dropped:  l.dropped.Load(),
		LastSeq:  l.lastSeq.Load(),
	}
}

// Run loops until active is cleared, ctx is done or the source fails. A
// failing source clears active, releases the handle and yields model.ErrSourceLost.
func (l *Loop) Run(ctx context.Context) error {
	emptyReads := 0

	for l.active.Load() {
		if ctx.Err() != nil {
			return nil
		}

		img, err := l.handle.Read()
		if err != nil && !errors.Is(err, video.ErrEmptyFrame) {
			return l.lost(err)
		}
		if img == nil || img.Empty() {
			if img != nil {
				img.Close()
			}
			emptyReads++
			if emptyReads >= l.maxEmptyReads {
				return l.lost(fmt.Errorf("%d consecutive empty frames", emptyReads))
			}
			continue
		}
		emptyReads = 0
		l.captured.Add(1)

		if l.sink != nil {
			l.sink.Render(img)
			l.rendered.Add(1)
		}

		now := l.now()
		if now.Sub(l.lastSubmit) >= l.Interval() {
			l.lastSubmit = now
			l.submit(img.Clone(), now)
		}
		img.Close()
	}
	return nil
}

func (l *Loop) submit(frame model.Image, now time.Time) {
	l.seq++
	sample := model.NewFrameSample(frame, l.seq, now)

	select {
	case l.queue <- sample:
		l.enqueued.Add(1)
		l.lastSeq.Store(sample.Seq)
		l.logger.Debug("📹 Frame %d queued for detection (trace %s)", sample.Seq, sample.TraceID)
	default:
		sample.Release()
		l.dropped.Add(1)
		l.logger.Warning("⚠️  Submission queue full - dropping frame %d", sample.Seq)
	}
}

func (l *Loop) lost(cause error) error {
	l.active.Store(false)
	if l.release != nil {
		l.release()
	}
	l.logger.Error("Video source lost: %v", cause)
	return fmt.Errorf("%w: %v", model.ErrSourceLost, cause)
}
