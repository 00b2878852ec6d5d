package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"safestock/core/lock"
)

const (
	sweepLockKey = "verify:lock"
	sweepLockTTL = 5 * time.Minute
)

// Scheduler runs the verifier on a fixed interval, single-flighted
// across instances through the distributed lock. Each settlement is
// individually version-gated, so a missed single-flight only wastes
// work.
type Scheduler struct {
	verifier *Verifier
	locks    *lock.Lock
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler wires the periodic sweep.
func NewScheduler(verifier *Verifier, locks *lock.Lock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		verifier: verifier,
		locks:    locks,
		interval: time.Duration(verifier.cfg.IntervalSeconds) * time.Second,
		logger:   logger,
	}
}

// Run sweeps until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	err := s.locks.WithLock(ctx, sweepLockKey, sweepLockTTL, func(ctx context.Context) error {
		return s.verifier.RunOnce(ctx)
	})
	switch {
	case err == nil:
	case errors.Is(err, lock.ErrUnavailable):
		s.logger.Debug("verification sweep running elsewhere")
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Error("verification sweep failed", zap.Error(err))
	}
}
