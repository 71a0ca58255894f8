package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/you-humble/linkassist/internal/domain"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 120
)

// Snapshot is one status response for a task.
type Snapshot struct {
	Completed bool
	Frames    []domain.Frame
}

type StatusFetcher interface {
	Status(ctx context.Context, taskID string) (Snapshot, error)
}

type Poller struct {
	fetcher     StatusFetcher
	interval    time.Duration
	maxAttempts int
}

func New(fetcher StatusFetcher, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Poller{
		fetcher:     fetcher,
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

// Budget is the longest Poll can wait between requests in total.
func (p *Poller) Budget() time.Duration {
	return time.Duration(p.maxAttempts) * p.interval
}

// Poll queries the task status until it reports completion. A failed request
// is not retried.
func (p *Poller) Poll(ctx context.Context, taskID string) ([]domain.Frame, error) {
	l := slog.With(slog.String("task_id", taskID))

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap, err := p.fetcher.Status(ctx, taskID)
		if err != nil {
			return nil, &domain.PollError{TaskID: taskID, Attempt: attempt, Err: err}
		}

		if snap.Completed {
			l.Debug("task completed",
				slog.Int("attempt", attempt),
				slog.Int("frames", len(snap.Frames)),
			)
			return snap.Frames, nil
		}

		if attempt == p.maxAttempts {
			break
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	l.Warn("polling budget exhausted", slog.Int("attempts", p.maxAttempts))
	return nil, &domain.TimeoutError{TaskID: taskID, Attempts: p.maxAttempts}
}
