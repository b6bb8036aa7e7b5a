package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/logger"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/model"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/retry"
	"github.com/gkaranyadav/vehicle-analytics-ivcam/internal/service/video"
)

// Prober finds the first candidate source that delivers a frame.
type Prober struct {
	opener video.Opener
	policy retry.Policy
	hints  video.Hints
	logger *logger.Logger
}

// NewProber creates a Prober. policy bounds the reads per candidate.
func NewProber(opener video.Opener, policy retry.Policy, hints video.Hints, logger *logger.Logger) *Prober {
	return &Prober{
		opener: opener,
		policy: policy,
		hints:  hints,
		logger: logger,
	}
}

// Probe tries candidates strictly in order and returns the first handle that
// yields a non-empty frame. Every handle opened for a failed candidate is
// released before the next one is tried. When nothing works it returns
// model.ErrNotFound and holds no handle.
func (p *Prober) Probe(ctx context.Context, candidates []model.SourceDescriptor) (video.Handle, model.SourceDescriptor, error) {
	for _, desc := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, model.SourceDescriptor{}, err
		}

		handle, err := p.opener.Open(desc)
		if err != nil {
			p.logger.Warning("📷 Source %s: open failed: %v", desc, err)
			continue
		}

		handle.Configure(p.hints)

		err = p.policy.Do(ctx, func(attempt int) error {
			return readOne(handle)
		})
		if err == nil {
			p.logger.Info("📷 Source %s: connected", desc)
			return handle, desc, nil
		}

		if releaseErr := handle.Release(); releaseErr != nil {
			p.logger.Error("Source %s: release failed: %v", desc, releaseErr)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, model.SourceDescriptor{}, err
		}
		p.logger.Warning("📷 Source %s: opened but no frame: %v", desc, err)
	}

	return nil, model.SourceDescriptor{}, fmt.Errorf("%w among %d candidate(s)", model.ErrNotFound, len(candidates))
}

// readOne reads a single frame and discards it.
func readOne(handle video.Handle) error {
	img, err := handle.Read()
	if err != nil {
		return err
	}
	if img == nil {
		return video.ErrEmptyFrame
	}
	defer img.Close()
	if img.Empty() {
		return video.ErrEmptyFrame
	}
	return nil
}
