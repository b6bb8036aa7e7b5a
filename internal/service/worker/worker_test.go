package worker

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/client"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/retry"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video/videotest"
)

// fakeDetector answers polls from a script: one entry per poll, the last one repeats.
type fakeDetector struct {
	mu        sync.Mutex
	submitErr error
	sync      *client.Detections
	polls     []client.PollResult
	pollErr   error
	submitted []string
	pollCount int
}

func (f *fakeDetector) Submit(ctx context.Context, image []byte, source string) (*client.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, string(image)+"|"+source)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &client.SubmitResult{JobID: "job-1", Detections: f.sync}, nil
}

func (f *fakeDetector) Poll(ctx context.Context, jobID string) (*client.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCount++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	i := f.pollCount - 1
	if i >= len(f.polls) {
		i = len(f.polls) - 1
	}
	res := f.polls[i]
	return &res, nil
}

func (f *fakeDetector) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCount
}

func testOptions() Options {
	return Options{
		Source:           "ivcam_live",
		PollInterval:     5 * time.Millisecond,
		MaxWait:          200 * time.Millisecond,
		RequestTimeout:   time.Second,
		FailureThreshold: 3,
		Backoff:          retry.ExponentialPolicy(0, time.Millisecond, 10*time.Millisecond),
	}
}

func newTestWorker(det client.Detector, opts Options, in chan model.FrameSample, out chan model.DetectionResult) (*Worker, *Counters) {
	counters := &Counters{}
	return New(1, det, videotest.Encoder{}, in, out, opts, counters, logger.NewWithWriter(io.Discard, false)), counters
}

func sedanAndTruck() *client.Detections {
	return &client.Detections{Vehicles: []model.VehicleDetection{
		{Type: "sedan", Confidence: 0.92, Color: "blue"},
		{Type: "truck", Confidence: 0.65, Color: "Unknown"},
	}}
}

func TestExecute_CompletesAfterPolling(t *testing.T) {
	det := &fakeDetector{polls: []client.PollResult{
		{Status: client.StatusRunning},
		{Status: client.StatusSuccess, Detections: sedanAndTruck()},
	}}
	w, counters := newTestWorker(det, testOptions(), nil, nil)

	job, result := w.Execute(context.Background(), []byte("jpeg"), 7, "trace", "ivcam_live")

	if job.State != model.JobCompleted {
		t.Fatalf("Expected Completed, got %s (%v)", job.State, job.Err)
	}
	if job.Polls != 2 || job.ID != "job-1" {
		t.Errorf("Unexpected job %+v", job)
	}
	if result == nil || len(result.Vehicles) != 2 || result.FrameSeq != 7 {
		t.Fatalf("Unexpected result %+v", result)
	}
	if s := counters.Snapshot(); s.Completed != 1 || s.Processed != 1 || s.InFlight != 0 {
		t.Errorf("Unexpected counters %+v", s)
	}
}

func TestExecute_FailedAfterTwoPollsYieldsNoResult(t *testing.T) {
	det := &fakeDetector{polls: []client.PollResult{
		{Status: client.StatusRunning},
		{Status: client.StatusFailure, Error: "inference crashed"},
	}}
	in := make(chan model.FrameSample, 1)
	out := make(chan model.DetectionResult, 4)
	w, counters := newTestWorker(det, testOptions(), in, out)

	in <- model.NewFrameSample(videotest.NewImage("jpeg"), 1, time.Now())
	close(in)
	w.Run(context.Background())

	if det.Polls() != 2 {
		t.Errorf("Expected 2 polls, got %d", det.Polls())
	}
	if len(out) != 0 {
		t.Errorf("Failed job must not emit a result, got %d", len(out))
	}
	if s := counters.Snapshot(); s.Failed != 1 || s.Processed != 0 {
		t.Errorf("Unexpected counters %+v", s)
	}
}

func TestExecute_TimeoutEmitsEmptyResult(t *testing.T) {
	det := &fakeDetector{polls: []client.PollResult{{Status: client.StatusRunning}}}
	opts := testOptions()
	opts.MaxWait = 30 * time.Millisecond

	job, result := newTestWorkerOnly(det, opts).Execute(context.Background(), []byte("jpeg"), 3, "trace", "ivcam_live")

	if job.State != model.JobTimedOut {
		t.Fatalf("Expected TimedOut, got %s", job.State)
	}
	if result == nil || !result.TimedOut || !result.Empty() {
		t.Errorf("Expected empty timed-out result, got %+v", result)
	}
	if job.Polls == 0 {
		t.Error("Expected at least one poll before timing out")
	}
}

func newTestWorkerOnly(det client.Detector, opts Options) *Worker {
	w, _ := newTestWorker(det, opts, nil, nil)
	return w
}

func TestExecute_SynchronousAnswerSkipsPolling(t *testing.T) {
	det := &fakeDetector{sync: sedanAndTruck()}
	job, result := newTestWorkerOnly(det, testOptions()).Execute(context.Background(), []byte("jpeg"), 1, "trace", "manual_upload")

	if job.State != model.JobCompleted || result == nil {
		t.Fatalf("Expected completed job, got %s", job.State)
	}
	if det.Polls() != 0 {
		t.Errorf("Expected no polls, got %d", det.Polls())
	}
	if det.submitted[0] != "jpeg|manual_upload" {
		t.Errorf("Unexpected submission %q", det.submitted[0])
	}
}

func TestExecute_MalformedPollFails(t *testing.T) {
	det := &fakeDetector{pollErr: client.ErrMalformed}
	job, result := newTestWorkerOnly(det, testOptions()).Execute(context.Background(), []byte("jpeg"), 1, "trace", "ivcam_live")

	if job.State != model.JobFailed || result != nil {
		t.Fatalf("Expected Failed without result, got %s / %+v", job.State, result)
	}
	if !errors.Is(job.Err, client.ErrMalformed) {
		t.Errorf("Expected malformed cause, got %v", job.Err)
	}
}

func TestRun_PushesResultsInOrder(t *testing.T) {
	det := &fakeDetector{sync: sedanAndTruck()}
	in := make(chan model.FrameSample, 3)
	out := make(chan model.DetectionResult, 3)
	w, _ := newTestWorker(det, testOptions(), in, out)

	frames := []*videotest.Image{videotest.NewImage("a"), videotest.NewImage("b"), videotest.NewImage("c")}
	for i, f := range frames {
		in <- model.NewFrameSample(f, uint64(i+1), time.Now())
	}
	close(in)
	w.Run(context.Background())

	if len(out) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(out))
	}
	for i := 1; i <= 3; i++ {
		if r := <-out; r.FrameSeq != uint64(i) {
			t.Errorf("Expected frame %d, got %d", i, r.FrameSeq)
		}
	}
	for i, f := range frames {
		if !f.Closed() {
			t.Errorf("Frame %d buffer not released", i)
		}
	}
}

func TestRun_ContinuesAfterTransportErrorsAndBacksOff(t *testing.T) {
	det := &fakeDetector{submitErr: errors.New("connection refused")}
	in := make(chan model.FrameSample, 5)
	out := make(chan model.DetectionResult, 5)

	var waits []time.Duration
	opts := testOptions()
	opts.Backoff.Sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	w, counters := newTestWorker(det, opts, in, out)

	for i := 1; i <= 5; i++ {
		in <- model.NewFrameSample(videotest.NewImage("x"), uint64(i), time.Now())
	}
	close(in)
	w.Run(context.Background())

	if s := counters.Snapshot(); s.Failed != 5 {
		t.Errorf("Expected 5 failed jobs, got %+v", s)
	}
	// Threshold 3: failures 3, 4 and 5 each back off, with growing delay.
	if len(waits) != 3 {
		t.Fatalf("Expected 3 back-off waits, got %v", waits)
	}
	if !(waits[0] < waits[1] && waits[1] < waits[2]) {
		t.Errorf("Expected exponential back-off, got %v", waits)
	}
	if len(out) != 0 {
		t.Errorf("Expected no results, got %d", len(out))
	}
}

func TestRun_FinishesInFlightJobAfterStop(t *testing.T) {
	release := make(chan struct{})
	det := &blockingDetector{release: release, started: make(chan struct{})}
	in := make(chan model.FrameSample, 1)
	out := make(chan model.DetectionResult, 1)
	w, _ := newTestWorker(det, testOptions(), in, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	in <- model.NewFrameSample(videotest.NewImage("x"), 1, time.Now())
	<-det.started
	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker did not stop after finishing its in-flight job")
	}
	if len(out) != 1 {
		t.Errorf("In-flight job result should be delivered, got %d", len(out))
	}
}

type blockingDetector struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (b *blockingDetector) Submit(ctx context.Context, image []byte, source string) (*client.SubmitResult, error) {
	b.calls.Add(1)
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &client.SubmitResult{JobID: "slow", Detections: &client.Detections{}}, nil
}

func (b *blockingDetector) Poll(ctx context.Context, jobID string) (*client.PollResult, error) {
	return &client.PollResult{Status: client.StatusRunning}, nil
}

func TestRun_StartsNoJobAfterStop(t *testing.T) {
	for run := 0; run < 20; run++ {
		release := make(chan struct{})
		det := &blockingDetector{release: release, started: make(chan struct{})}
		in := make(chan model.FrameSample, 8)
		out := make(chan model.DetectionResult, 8)
		w, _ := newTestWorker(det, testOptions(), in, out)

		images := make([]*videotest.Image, 8)
		for i := range images {
			images[i] = videotest.NewImage("frame")
			in <- model.NewFrameSample(images[i], uint64(i+1), time.Now())
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			w.Run(ctx)
			close(done)
		}()

		<-det.started
		cancel()
		close(release)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Worker did not stop after its in-flight job")
		}
		if calls := det.calls.Load(); calls != 1 {
			t.Fatalf("Run %d: expected 1 job, worker ran %d", run, calls)
		}
		if len(out) != 1 {
			t.Errorf("Run %d: expected the in-flight result, got %d", run, len(out))
		}
		// At most the frame taken together with the stop signal is consumed.
		if left := len(in); left < 6 {
			t.Errorf("Run %d: expected queued frames to stay queued, %d left", run, left)
		}
		for _, img := range images[1 : 8-len(in)] {
			if !img.Closed() {
				t.Errorf("Run %d: frame taken after stop was not released", run)
			}
		}
	}
}

// syncBuffer collects log output written from the worker goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_WaitsForRoomInResultQueue(t *testing.T) {
	det := &fakeDetector{sync: sedanAndTruck()}
	in := make(chan model.FrameSample, 1)
	out := make(chan model.DetectionResult, 1)
	logs := &syncBuffer{}
	counters := &Counters{}
	w := New(1, det, videotest.Encoder{}, in, out, testOptions(), counters, logger.NewWithWriter(logs, false))

	out <- model.DetectionResult{FrameSeq: 1}
	in <- model.NewFrameSample(videotest.NewImage("frame"), 2, time.Now())
	close(in)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for counters.Snapshot().Completed == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if counters.Snapshot().Completed != 1 {
		t.Fatal("Job did not complete")
	}

	select {
	case <-done:
		t.Fatal("Worker returned while its result was still waiting for room")
	case <-time.After(50 * time.Millisecond):
	}

	if first := <-out; first.FrameSeq != 1 {
		t.Fatalf("Expected queued result 1 first, got %d", first.FrameSeq)
	}
	select {
	case second := <-out:
		if second.FrameSeq != 2 || len(second.Vehicles) != 2 {
			t.Errorf("Unexpected delivered result %+v", second)
		}
	case <-time.After(time.Second):
		t.Fatal("Result was not delivered once the queue had room")
	}

	<-done
	if strings.Contains(logs.String(), "not delivered") {
		t.Errorf("Delivered result logged as lost: %s", logs.String())
	}
}

func TestRun_ReportsResultLostAtJobDeadline(t *testing.T) {
	det := &fakeDetector{sync: sedanAndTruck()}
	opts := testOptions()
	opts.MaxWait = 20 * time.Millisecond
	opts.RequestTimeout = 20 * time.Millisecond
	in := make(chan model.FrameSample, 1)
	out := make(chan model.DetectionResult, 1)
	logs := &syncBuffer{}
	w := New(1, det, videotest.Encoder{}, in, out, opts, nil, logger.NewWithWriter(logs, false))

	out <- model.DetectionResult{FrameSeq: 1}
	in <- model.NewFrameSample(videotest.NewImage("frame"), 2, time.Now())
	close(in)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker stayed blocked past the job deadline")
	}

	if !strings.Contains(logs.String(), "result for frame 2 not delivered") {
		t.Errorf("Expected lost result to be logged, got %q", logs.String())
	}
	if len(out) != 1 || (<-out).FrameSeq != 1 {
		t.Error("Queued result should be untouched")
	}
}

func TestExecute_PollsPacedByInterval(t *testing.T) {
	det := &fakeDetector{polls: []client.PollResult{
		{Status: client.StatusRunning},
		{Status: client.StatusRunning},
		{Status: client.StatusSuccess, Detections: sedanAndTruck()},
	}}
	opts := testOptions()
	opts.PollInterval = 20 * time.Millisecond
	w, _ := newTestWorker(det, opts, nil, nil)

	start := time.Now()
	job, _ := w.Execute(context.Background(), []byte("jpeg"), 1, "trace", "ivcam_live")
	if job.State != model.JobCompleted {
		t.Fatalf("Expected Completed, got %s", job.State)
	}
	if elapsed := time.Since(start); elapsed < 3*opts.PollInterval {
		t.Errorf("Three polls should take at least %s, took %s", 3*opts.PollInterval, elapsed)
	}
}

func TestTransition_LogsIllegalMove(t *testing.T) {
	logs := &syncBuffer{}
	w := New(1, &fakeDetector{}, videotest.Encoder{}, nil, nil, testOptions(), nil, logger.NewWithWriter(logs, false))
	job := &model.DetectionJob{ID: "job-9", State: model.JobCompleted}

	w.transition(job, model.JobPolling)
	w.fail(job, errors.New("late failure"))

	if job.State != model.JobCompleted {
		t.Errorf("Terminal job moved to %s", job.State)
	}
	if got := strings.Count(logs.String(), "illegal transition"); got != 2 {
		t.Errorf("Expected 2 illegal transitions logged, got %d: %s", got, logs.String())
	}
}
