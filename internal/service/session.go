package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/capture"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/correlator"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/worker"
)

// Session is one run of capture, submission and correlation on a connected source.
type Session struct {
	ID        string
	StartedAt time.Time

	manager    *Manager
	conn       *connection
	frames     chan model.FrameSample
	results    chan model.DetectionResult
	active     atomic.Bool
	loop       *capture.Loop
	counters   *worker.Counters
	correlator *correlator.Correlator

	cancelCapture    context.CancelFunc
	cancelWorkers    context.CancelFunc
	cancelCorrelator context.CancelFunc
	captureDone      chan struct{}
	correlatorDone   chan struct{}
	workers          sync.WaitGroup

	mu         sync.Mutex
	captureErr error
	stoppedAt  time.Time
}

func newSession(m *Manager, conn *connection) *Session {
	s := &Session{
		ID:             uuid.NewString(),
		StartedAt:      time.Now(),
		manager:        m,
		conn:           conn,
		frames:         make(chan model.FrameSample, m.cfg.SubmitQueueSize),
		results:        make(chan model.DetectionResult, m.cfg.ResultQueueSize),
		counters:       &worker.Counters{},
		captureDone:    make(chan struct{}),
		correlatorDone: make(chan struct{}),
	}

	var sink capture.Sink
	var notifier correlator.Notifier
	if m.viewer != nil {
		sink = m.viewer
		notifier = m.viewer
	}

	release := func() {
		conn.release(m.logger)
		m.markLost(conn)
	}
	s.loop = capture.NewLoop(conn.handle, sink, s.frames, &s.active, release, capture.Options{Interval: m.Interval()}, m.logger)
	s.correlator = correlator.New(s.results, m.store, notifier, m.logger)
	return s
}

func (s *Session) start() {
	m := s.manager
	s.active.Store(true)

	captureCtx, cancelCapture := context.WithCancel(context.Background())
	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	correlatorCtx, cancelCorrelator := context.WithCancel(context.Background())
	s.cancelCapture = cancelCapture
	s.cancelWorkers = cancelWorkers
	s.cancelCorrelator = cancelCorrelator

	go func() {
		defer close(s.captureDone)
		if err := s.loop.Run(captureCtx); err != nil {
			s.mu.Lock()
			s.captureErr = err
			s.mu.Unlock()
			if errors.Is(err, model.ErrSourceLost) {
				m.logger.Error("❌ Session %s: %v", s.ID, err)
			}
		}
	}()

	tag := m.cfg.SourceTag
	for i := 1; i <= m.cfg.ProcessingWorkers; i++ {
		w := worker.New(i, m.detector, m.encoder, s.frames, s.results, m.workerOptions(tag), s.counters, m.logger)
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			w.Run(workersCtx)
		}()
	}

	go func() {
		defer close(s.correlatorDone)
		s.correlator.Run(correlatorCtx, m.cfg.DisplayTick)
	}()
}

func (s *Session) stop() {
	s.active.Store(false)
	s.cancelCapture()
	<-s.captureDone

	s.cancelWorkers()
	s.workers.Wait()

	// Frames queued but never picked up by a worker.
	for drained := false; !drained; {
		select {
		case sample := <-s.frames:
			sample.Release()
		default:
			drained = true
		}
	}

	s.cancelCorrelator()
	<-s.correlatorDone

	s.mu.Lock()
	s.stoppedAt = time.Now()
	s.mu.Unlock()
}

// Capturing reports whether the capture loop is still reading frames.
func (s *Session) Capturing() bool {
	return s.active.Load()
}

// SessionStats is a point-in-time view of a session.
type SessionStats struct {
	ID          string           `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	StoppedAt   *time.Time       `json:"stopped_at,omitempty"`
	Capturing   bool             `json:"capturing"`
	CaptureErr  string           `json:"capture_error,omitempty"`
	Interval    string           `json:"interval"`
	Capture     capture.Stats    `json:"capture"`
	Workers     worker.Stats     `json:"workers"`
	Correlator  correlator.Stats `json:"correlator"`
	QueueDepth  int              `json:"queue_depth"`
	ResultDepth int              `json:"result_depth"`
}

func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	captureErr := s.captureErr
	stoppedAt := s.stoppedAt
	s.mu.Unlock()

	stats := SessionStats{
		ID:          s.ID,
		StartedAt:   s.StartedAt,
		Capturing:   s.active.Load(),
		Interval:    s.loop.Interval().String(),
		Capture:     s.loop.Stats(),
		Workers:     s.counters.Snapshot(),
		Correlator:  s.correlator.Stats(),
		QueueDepth:  len(s.frames),
		ResultDepth: len(s.results),
	}
	if captureErr != nil {
		stats.CaptureErr = captureErr.Error()
	}
	if !stoppedAt.IsZero() {
		stats.StoppedAt = &stoppedAt
	}
	return stats
}

// Status is the manager state reported to the dashboard.
type Status struct {
	Connected   bool          `json:"connected"`
	Source      string        `json:"source,omitempty"`
	ConnectedAt *time.Time    `json:"connected_at,omitempty"`
	Running     bool          `json:"running"`
	Interval    string        `json:"interval"`
	Session     *SessionStats `json:"session,omitempty"`
	LastSession *SessionStats `json:"last_session,omitempty"`
	Uploads     uint64        `json:"uploads"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	conn, session, last := m.conn, m.session, m.last
	m.mu.Unlock()

	status := Status{
		Running:  session != nil,
		Interval: m.Interval().String(),
		Uploads:  m.uploadSeq.Load(),
	}
	if conn != nil {
		connectedAt := conn.connectedAt
		status.Connected = true
		status.Source = conn.desc.String()
		status.ConnectedAt = &connectedAt
	}
	if session != nil {
		stats := session.Stats()
		status.Session = &stats
	}
	if last != nil {
		stats := last.Stats()
		status.LastSession = &stats
	}
	return status
}
