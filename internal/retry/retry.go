package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Strategy int

const (
	// Fixed waits Delay between every attempt.
	Fixed Strategy = iota
	// Exponential waits Delay * 2^(attempt-1), capped at MaxDelay.
	Exponential
)

// ErrExhausted is returned by Do when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy is a bounded retry policy shared by source probing and job submission.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Strategy    Strategy

	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// FixedPolicy returns a policy with a constant delay.
func FixedPolicy(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay, MaxDelay: delay, Strategy: Fixed}
}

// ExponentialPolicy returns a policy doubling delay up to maxDelay.
func ExponentialPolicy(attempts int, delay, maxDelay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Delay: delay, MaxDelay: maxDelay, Strategy: Exponential}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Strategy == Fixed {
		return p.Delay
	}

	// Cap the shift so huge attempt counts cannot overflow.
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := p.Delay * time.Duration(1<<uint(shift))
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay <= 0) {
		delay = p.MaxDelay
	}
	return delay
}

// Wait blocks for d, returning early with ctx.Err() if ctx is cancelled.
func (p Policy) Wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Do calls fn until it succeeds, attempts run out or ctx is done.
// fn receives the 1-based attempt number.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(attempt); lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := p.Wait(ctx, p.Backoff(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempts, lastErr)
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
