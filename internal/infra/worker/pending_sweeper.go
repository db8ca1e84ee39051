package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Requeuer re-dispatches jobs that were admitted while the queue was full.
type Requeuer interface {
	RequeuePending(ctx context.Context, idle time.Duration) (int, error)
}

// PendingSweeper periodically hands idle pending jobs back to the pool.
type PendingSweeper struct {
	jobs     Requeuer
	interval time.Duration
	idle     time.Duration
	log      *zerolog.Logger
}

func NewPendingSweeper(jobs Requeuer, interval, idle time.Duration, logger *zerolog.Logger) *PendingSweeper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "PendingSweeper").Logger()
	return &PendingSweeper{jobs: jobs, interval: interval, idle: idle, log: &l}
}

// Start blocks until ctx is done. Run it in a goroutine.
func (s *PendingSweeper) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("pending sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("pending sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *PendingSweeper) sweep(ctx context.Context) {
	n, err := s.jobs.RequeuePending(ctx, s.idle)
	if err != nil {
		s.log.Error().Err(err).Msg("requeue pending jobs")
		return
	}
	if n > 0 {
		s.log.Info().Int("count", n).Msg("pending jobs dispatched")
	}
}
