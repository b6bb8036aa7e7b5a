package model

import (
	"fmt"
	"time"
)

type JobState int

const (
	JobSubmitted JobState = iota
	JobPolling
	JobCompleted
	JobTimedOut
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobSubmitted:
		return "submitted"
	case JobPolling:
		return "polling"
	case JobCompleted:
		return "completed"
	case JobTimedOut:
		return "timed_out"
	case JobFailed:
		return "failed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobTimedOut || s == JobFailed
}

var jobTransitions = map[JobState][]JobState{
	JobSubmitted: {JobPolling, JobCompleted, JobFailed},
	JobPolling:   {JobCompleted, JobTimedOut, JobFailed},
}

// DetectionJob tracks one submit/poll lifecycle against the detection service.
type DetectionJob struct {
	ID          string
	FrameSeq    uint64
	TraceID     string
	Source      string
	SubmittedAt time.Time
	FinishedAt  time.Time
	State       JobState
	Polls       int
	Err         error
}

// Transition moves the job to next, rejecting illegal moves.
func (j *DetectionJob) Transition(next JobState, at time.Time) error {
	for _, allowed := range jobTransitions[j.State] {
		if allowed == next {
			j.State = next
			if next.Terminal() {
				j.FinishedAt = at
			}
			return nil
		}
	}
	return fmt.Errorf("job %s: illegal transition %s -> %s", j.ID, j.State, next)
}

// Fail moves the job to Failed and records the cause.
func (j *DetectionJob) Fail(err error, at time.Time) error {
	if tErr := j.Transition(JobFailed, at); tErr != nil {
		return tErr
	}
	j.Err = err
	return nil
}
