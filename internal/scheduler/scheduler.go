package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"acc_linker/internal/domain"
)

// Reconciler defines the interface for one reconciliation cycle.
type Reconciler interface {
	Reconcile(ctx context.Context) (*domain.CycleStats, error)
}

type Scheduler struct {
	reconciler   Reconciler
	interval     time.Duration
	cycleTimeout time.Duration
	logger       *slog.Logger
}

func NewScheduler(reconciler Reconciler, interval, cycleTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		reconciler:   reconciler,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		logger:       logger,
	}
}

// Start runs a cycle immediately and then on every tick until ctx is done.
// Cycles never overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	if _, err := s.reconciler.Reconcile(cycleCtx); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		s.logger.Error("reconcile failed", "error", err)
	}
}
