package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lemmeyg/howtube2-sub000/internal/domain"
	red "github.com/Lemmeyg/howtube2-sub000/internal/infra/redis"
)

const staleJobLockKey = "lock:sched:stale_jobs"

// Reaper fails running jobs that stopped making progress.
type Reaper interface {
	ReapStale(ctx context.Context, idle time.Duration) (int, error)
}

// StaleJobWorker periodically reaps stale jobs. With several instances running,
// the Redis lock keeps a single reaper per round.
type StaleJobWorker struct {
	interval time.Duration
	idle     time.Duration
	jobs     Reaper
	locker   red.Locker
	log      *zerolog.Logger
}

// NewStaleJobWorker builds the worker. locker may be nil for single-instance setups.
func NewStaleJobWorker(interval, idle time.Duration, jobs Reaper, locker red.Locker, logger *zerolog.Logger) *StaleJobWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "StaleJobWorker").Logger()
	return &StaleJobWorker{interval: interval, idle: idle, jobs: jobs, locker: locker, log: &l}
}

// Run reaps once at startup, which catches jobs orphaned by a previous process,
// and then on every tick until ctx is done.
func (w *StaleJobWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("idle", w.idle).Msg("Starting stale job worker")
	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stale job worker")
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *StaleJobWorker) runOnce(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, staleJobLockKey, w.interval)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				w.log.Warn().Err(err).Msg("stale job lock unavailable")
			}
			return
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), staleJobLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("release stale job lock")
			}
		}()
	}

	n, err := w.jobs.ReapStale(ctx, w.idle)
	if err != nil {
		w.log.Error().Err(err).Msg("stale job worker error")
		return
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("stale jobs failed")
	}
}
