// Package worker runs the server's background loops.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sweepable checks every paid account for expiration.
type Sweepable interface {
	SweepAll(ctx context.Context) (int, error)
}

// Sweeper runs the expiration sweep once at start and then on every tick.
type Sweeper struct {
	lifecycle Sweepable
	interval  time.Duration
	logger    *slog.Logger
}

func NewSweeper(lifecycle Sweepable, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{lifecycle: lifecycle, interval: interval, logger: logger.With("worker", "sweeper")}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval)
	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. A panic inside the sweep is logged and
// does not stop the loop.
func (s *Sweeper) RunOnce(ctx context.Context) (downgraded int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
			s.logger.Error("sweep panicked", "panic", r)
		}
	}()

	start := time.Now()
	downgraded, err = s.lifecycle.SweepAll(ctx)
	if err != nil {
		s.logger.Error("sweep finished with errors", "downgraded", downgraded, "error", err, "duration", time.Since(start))
		return downgraded, err
	}
	s.logger.Info("sweep complete", "downgraded", downgraded, "duration", time.Since(start))
	return downgraded, nil
}
