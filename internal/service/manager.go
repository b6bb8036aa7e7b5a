package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/client"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/config"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/retry"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/capture"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/correlator"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/source"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/worker"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/store"
)

// ManualUploadSource tags frames submitted through the upload endpoint.
const ManualUploadSource = "manual_upload"

var (
	ErrNotConnected    = errors.New("no video source connected")
	ErrAlreadyRunning  = errors.New("detection already running")
	ErrNotRunning      = errors.New("detection not running")
	ErrConnecting      = errors.New("source connection in progress")
	ErrInvalidInterval = errors.New("detection interval out of range")
	ErrEmptyImage      = errors.New("empty image")
)

// Viewer renders live frames and is told about stored detections.
type Viewer interface {
	capture.Sink
	correlator.Notifier
}

// Manager owns the connected source and at most one running detection session.
type Manager struct {
	cfg        *config.Config
	prober     *source.Prober
	encoder    video.Encoder
	detector   client.Detector
	store      store.Store
	viewer     Viewer
	uploader   *worker.Worker
	candidates []model.SourceDescriptor
	logger     *logger.Logger

	mu         sync.Mutex
	conn       *connection
	session    *Session
	stopping   bool
	connecting bool
	last       *Session // last finished session, kept for stats

	interval  atomic.Int64
	uploadSeq atomic.Uint64
}

type connection struct {
	handle      video.Handle
	desc        model.SourceDescriptor
	connectedAt time.Time
	once        sync.Once
}

// release frees the handle exactly once, whoever calls it first.
func (c *connection) release(logger *logger.Logger) {
	c.once.Do(func() {
		if err := c.handle.Release(); err != nil {
			logger.Error("Failed to release source %s: %v", c.desc, err)
			return
		}
		logger.Info("📷 Source %s released", c.desc)
	})
}

func NewManager(cfg *config.Config, opener video.Opener, encoder video.Encoder, detector client.Detector, st store.Store, viewer Viewer, logger *logger.Logger) (*Manager, error) {
	candidates, err := model.ParseDescriptors(cfg.CameraSources)
	if err != nil {
		return nil, fmt.Errorf("invalid CAMERA_SOURCES: %w", err)
	}

	hints := video.Hints{Width: cfg.CameraWidth, Height: cfg.CameraHeight, FPS: cfg.CameraFPS}
	prober := source.NewProber(opener, retry.FixedPolicy(cfg.ProbeAttempts, cfg.ProbeDelay), hints, logger)

	manager := &Manager{
		cfg:        cfg,
		prober:     prober,
		encoder:    encoder,
		detector:   detector,
		store:      st,
		viewer:     viewer,
		candidates: candidates,
		logger:     logger,
	}
	manager.uploader = worker.New(0, detector, encoder, nil, nil, manager.workerOptions(ManualUploadSource), &worker.Counters{}, logger)
	manager.interval.Store(int64(cfg.DetectionInterval))

	logger.Info("🎬 Manager ready - %d candidate source(s), interval %s, %d worker(s)", len(candidates), cfg.DetectionInterval, cfg.ProcessingWorkers)
	return manager, nil
}

func (m *Manager) workerOptions(sourceTag string) worker.Options {
	return worker.Options{
		Source:           sourceTag,
		PollInterval:     m.cfg.PollInterval,
		MaxWait:          m.cfg.PollMaxWait,
		RequestTimeout:   m.cfg.RequestTimeout,
		FailureThreshold: m.cfg.FailureThreshold,
		Backoff:          retry.ExponentialPolicy(0, m.cfg.FailureBackoff, m.cfg.FailureBackoffMax),
	}
}

// Candidates returns the configured candidate list.
func (m *Manager) Candidates() []model.SourceDescriptor {
	return append([]model.SourceDescriptor(nil), m.candidates...)
}

// Connect probes candidates (or the configured list when empty) and keeps the
// first working source. A previously connected source is released first.
// Only one Connect runs at a time; a concurrent call gets ErrConnecting.
func (m *Manager) Connect(ctx context.Context, candidates []model.SourceDescriptor) (model.SourceDescriptor, error) {
	if len(candidates) == 0 {
		candidates = m.candidates
	}

	m.mu.Lock()
	if m.connecting {
		m.mu.Unlock()
		return model.SourceDescriptor{}, ErrConnecting
	}
	if m.stopping || (m.session != nil && m.session.active.Load()) {
		m.mu.Unlock()
		return model.SourceDescriptor{}, ErrAlreadyRunning
	}
	stale := m.session != nil
	m.connecting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
	}()

	// The capture of a stale session already ended with a lost source.
	if stale {
		if err := m.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
			return model.SourceDescriptor{}, err
		}
	}

	m.mu.Lock()
	old := m.conn
	m.conn = nil
	m.mu.Unlock()
	if old != nil {
		old.release(m.logger)
	}

	handle, desc, err := m.prober.Probe(ctx, candidates)
	if err != nil {
		m.logger.Warning("📷 No usable source: %v", err)
		return model.SourceDescriptor{}, err
	}

	m.mu.Lock()
	old = m.conn
	m.conn = &connection{handle: handle, desc: desc, connectedAt: time.Now()}
	m.mu.Unlock()
	if old != nil {
		old.release(m.logger)
	}
	return desc, nil
}

// Disconnect stops any running session and releases the source.
func (m *Manager) Disconnect() error {
	if err := m.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	conn.release(m.logger)
	return nil
}

// Start begins capture, submission workers and result correlation.
func (m *Manager) Start() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil || m.stopping {
		return nil, ErrAlreadyRunning
	}
	if m.connecting {
		return nil, ErrConnecting
	}
	if m.conn == nil {
		return nil, ErrNotConnected
	}

	s := newSession(m, m.conn)
	m.session = s
	s.start()

	m.logger.Info("▶️  Session %s started on %s (interval %s)", s.ID, s.conn.desc, m.Interval())
	return s, nil
}

// Stop ends the running session: capture stops first, workers finish their
// in-flight jobs, then remaining results are drained into the store.
func (m *Manager) Stop() error {
	m.mu.Lock()
	s := m.session
	if s == nil || m.stopping {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.stopping = true
	m.mu.Unlock()

	s.stop()

	m.mu.Lock()
	m.session = nil
	m.last = s
	m.stopping = false
	m.mu.Unlock()

	m.logger.Info("⏹️  Session %s stopped", s.ID)
	return nil
}

// Close stops detection and releases the source, for shutdown.
func (m *Manager) Close() {
	if err := m.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		m.logger.Error("Shutdown: %v", err)
	}
}

// SetInterval changes the throttle interval, also for a running session.
func (m *Manager) SetInterval(d time.Duration) error {
	if d < config.MinDetectionInterval || d > config.MaxDetectionInterval {
		return fmt.Errorf("%w: %s not within [%s, %s]", ErrInvalidInterval, d, config.MinDetectionInterval, config.MaxDetectionInterval)
	}
	m.interval.Store(int64(d))

	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s != nil {
		s.loop.SetInterval(d)
	}
	m.logger.Info("⏱️  Detection interval set to %s", d)
	return nil
}

func (m *Manager) Interval() time.Duration {
	return time.Duration(m.interval.Load())
}

// Reset clears the detection log.
func (m *Manager) Reset() error {
	if err := m.store.Reset(); err != nil {
		return err
	}
	m.logger.Info("🧹 Detection log cleared")
	return nil
}

func (m *Manager) Summary() (store.Summary, error) {
	return m.store.Summary()
}

func (m *Manager) Recent(limit int) (store.Recent, error) {
	return m.store.Recent(limit)
}

// UploadResult is the outcome of a one-shot detection.
type UploadResult struct {
	JobID    string                 `json:"job_id"`
	State    string                 `json:"state"`
	Result   *model.DetectionResult `json:"result,omitempty"`
	Appended store.AppendStats      `json:"appended"`
}

// DetectImage runs one detection job for an uploaded JPEG and stores the result.
func (m *Manager) DetectImage(ctx context.Context, image []byte) (*UploadResult, error) {
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}

	seq := m.uploadSeq.Add(1)
	job, result := m.uploader.Execute(ctx, image, seq, uuid.NewString(), ManualUploadSource)
	if job.State == model.JobFailed {
		return nil, fmt.Errorf("detection job %s failed: %w", job.ID, job.Err)
	}

	out := &UploadResult{JobID: job.ID, State: job.State.String(), Result: result}
	stats, err := m.store.Append(*result)
	if err != nil {
		return nil, fmt.Errorf("failed to store detections: %w", err)
	}
	out.Appended = stats
	if m.viewer != nil {
		m.viewer.DetectionsAppended(*result, stats)
	}
	return out, nil
}

// markLost forgets conn after the capture loop released it.
func (m *Manager) markLost(conn *connection) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}
