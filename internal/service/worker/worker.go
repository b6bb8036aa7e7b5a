package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/client"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/retry"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video"
)

type Options struct {
	Source           string
	PollInterval     time.Duration
	MaxWait          time.Duration
	RequestTimeout   time.Duration
	FailureThreshold int
	// Backoff paces the pause after FailureThreshold consecutive failed jobs.
	Backoff retry.Policy
}

// Counters are shared by every worker of a session.
type Counters struct {
	processed atomic.Uint64
	completed atomic.Uint64
	timedOut  atomic.Uint64
	failed    atomic.Uint64
	inFlight  atomic.Int64
}

type Stats struct {
	Processed uint64 `json:"processed"`
	Completed uint64 `json:"completed"`
	TimedOut  uint64 `json:"timed_out"`
	Failed    uint64 `json:"failed"`
	InFlight  int64  `json:"in_flight"`
}

func (c *Counters) Snapshot() Stats {
	return Stats{
		Processed: c.processed.Load(),
		Completed: c.completed.Load(),
		TimedOut:  c.timedOut.Load(),
		Failed:    c.failed.Load(),
		InFlight:  c.inFlight.Load(),
	}
}

// Worker takes frames off the submission queue, runs one detection job at a
// time against the remote service and pushes finished results downstream.
type Worker struct {
	id       int
	detector client.Detector
	encoder  video.Encoder
	in       <-chan model.FrameSample
	out      chan<- model.DetectionResult
	opts     Options
	counters *Counters
	logger   *logger.Logger

	consecutiveFailures int
}

func New(id int, detector client.Detector, encoder video.Encoder, in <-chan model.FrameSample, out chan<- model.DetectionResult, opts Options, counters *Counters, logger *logger.Logger) *Worker {
	if counters == nil {
		counters = &Counters{}
	}
	return &Worker{
		id:       id,
		detector: detector,
		encoder:  encoder,
		in:       in,
		out:      out,
		opts:     opts,
		counters: counters,
		logger:   logger,
	}
}

// Run processes frames until ctx is cancelled or the input channel is closed.
// A job already in flight when ctx is cancelled is finished first; no new job
// starts after that, queued frames are left to the owner of the queue.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("🔧 Detection worker %d started", w.id)
	defer w.logger.Info("🔧 Detection worker %d stopped", w.id)

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-w.in:
			if !ok {
				return
			}
			// select picks randomly when both cases are ready.
			if ctx.Err() != nil {
				sample.Release()
				return
			}
			w.handle(ctx, sample)
		}
	}
}

func (w *Worker) handle(ctx context.Context, sample model.FrameSample) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.MaxWait+w.opts.RequestTimeout)
	defer cancel()

	data, err := w.encoder.EncodeJPEG(sample.Image)
	sample.Release()
	if err != nil {
		w.logger.Error("Worker %d: frame %d: %v", w.id, sample.Seq, err)
		w.counters.failed.Add(1)
		w.failure(ctx)
		return
	}

	job, result := w.Execute(jobCtx, data, sample.Seq, sample.TraceID, w.opts.Source)
	if job.State == model.JobFailed {
		w.failure(ctx)
		return
	}
	w.consecutiveFailures = 0

	select {
	case w.out <- *result:
	case <-jobCtx.Done():
		w.logger.Error("Worker %d: result for frame %d not delivered: %v", w.id, sample.Seq, jobCtx.Err())
	}
}

// failure records a failed job and backs off once the threshold is reached.
// The pause is cut short by ctx.
func (w *Worker) failure(ctx context.Context) {
	w.consecutiveFailures++
	if w.opts.FailureThreshold <= 0 || w.consecutiveFailures < w.opts.FailureThreshold {
		return
	}

	delay := w.opts.Backoff.Backoff(w.consecutiveFailures - w.opts.FailureThreshold + 1)
	w.logger.Warning("⚠️  Worker %d: %d consecutive failures, backing off %s", w.id, w.consecutiveFailures, delay)
	w.opts.Backoff.Wait(ctx, delay)
}

// Execute submits one encoded frame and polls it to a terminal state.
// Completed and TimedOut jobs return a result; Failed jobs return nil.
func (w *Worker) Execute(ctx context.Context, image []byte, seq uint64, traceID, source string) (*model.DetectionJob, *model.DetectionResult) {
	w.counters.inFlight.Add(1)
	defer w.counters.inFlight.Add(-1)

	job := &model.DetectionJob{
		ID:          traceID,
		FrameSeq:    seq,
		TraceID:     traceID,
		Source:      source,
		SubmittedAt: time.Now(),
		State:       model.JobSubmitted,
	}

	submitted, err := w.detector.Submit(ctx, image, source)
	if err != nil {
		return w.fail(job, fmt.Errorf("submit: %w", err)), nil
	}
	if submitted.JobID != "" {
		job.ID = submitted.JobID
	}

	if submitted.Detections != nil {
		w.transition(job, model.JobCompleted)
		return w.complete(job, submitted.Detections)
	}

	w.transition(job, model.JobPolling)
	w.logger.Debug("Worker %d: frame %d submitted as job %s", w.id, seq, job.ID)

	pacing := retry.FixedPolicy(0, w.opts.PollInterval)
	deadline := job.SubmittedAt.Add(w.opts.MaxWait)
	for {
		if !time.Now().Before(deadline) {
			w.transition(job, model.JobTimedOut)
			w.counters.processed.Add(1)
			w.counters.timedOut.Add(1)
			w.logger.Warning("⏱️  Job %s (frame %d) timed out after %d poll(s)", job.ID, seq, job.Polls)
			return job, &model.DetectionResult{
				JobID:      job.ID,
				FrameSeq:   seq,
				Source:     source,
				TimedOut:   true,
				ReceivedAt: time.Now(),
			}
		}

		wait := pacing.Backoff(job.Polls + 1)
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if err := pacing.Wait(ctx, wait); err != nil {
			return w.fail(job, fmt.Errorf("poll wait: %w", err)), nil
		}
		if !time.Now().Before(deadline) {
			continue
		}

		status, err := w.detector.Poll(ctx, job.ID)
		job.Polls++
		if err != nil {
			return w.fail(job, fmt.Errorf("poll %d: %w", job.Polls, err)), nil
		}

		switch status.Status {
		case client.StatusSuccess:
			w.transition(job, model.JobCompleted)
			return w.complete(job, status.Detections)
		case client.StatusFailure:
			return w.fail(job, fmt.Errorf("%w: %s", client.ErrRemoteFailure, status.Error)), nil
		}
	}
}

func (w *Worker) complete(job *model.DetectionJob, detections *client.Detections) (*model.DetectionJob, *model.DetectionResult) {
	w.counters.processed.Add(1)
	w.counters.completed.Add(1)

	result := &model.DetectionResult{
		JobID:      job.ID,
		FrameSeq:   job.FrameSeq,
		Source:     job.Source,
		Vehicles:   detections.Vehicles,
		Objects:    detections.Objects,
		ReceivedAt: time.Now(),
	}
	w.logger.Info("✅ Job %s (frame %d): %d vehicle(s), %d other object(s)", job.ID, job.FrameSeq, len(result.Vehicles), len(result.Objects))
	return job, result
}

// transition applies a state move, logging one the job state machine refuses.
func (w *Worker) transition(job *model.DetectionJob, next model.JobState) {
	if err := job.Transition(next, time.Now()); err != nil {
		w.logger.Error("Worker %d: %v", w.id, err)
	}
}

func (w *Worker) fail(job *model.DetectionJob, err error) *model.DetectionJob {
	if tErr := job.Fail(err, time.Now()); tErr != nil {
		w.logger.Error("Worker %d: %v (cause: %v)", w.id, tErr, err)
	}
	w.counters.failed.Add(1)

	switch {
	case errors.Is(err, client.ErrMalformed):
		w.logger.Error("Job %s (frame %d): malformed response: %v", job.ID, job.FrameSeq, err)
	case errors.Is(err, client.ErrRemoteFailure):
		w.logger.Error("Job %s (frame %d): service failure: %v", job.ID, job.FrameSeq, err)
	default:
		w.logger.Error("Job %s (frame %d): %v", job.ID, job.FrameSeq, err)
	}
	return job
}
