// Package scheduler wakes the pipeline on a fixed interval.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/dkorolev/feedrelay/internal/pipeline"
)

// Stats is the store subset the scheduler maintains between cycles.
type Stats interface {
	PurgeStatsOlderThan(ctx context.Context, days int) error
}

// Scheduler runs check-and-publish cycles periodically.
type Scheduler struct {
	orch          *pipeline.Orchestrator
	stats         Stats
	interval      time.Duration
	retentionDays int
	logger        *log.Logger
}

// New creates a scheduler.
func New(orch *pipeline.Orchestrator, stats Stats, interval time.Duration, retentionDays int, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Scheduler{
		orch:          orch,
		stats:         stats,
		interval:      interval,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Run blocks until ctx is cancelled. The first cycle runs immediately; the
// idle wait between cycles is interruptible, so shutdown never waits out a
// full interval.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Printf("scheduler: running (check every %s)", s.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("scheduler: stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if err := s.stats.PurgeStatsOlderThan(ctx, s.retentionDays); err != nil {
			s.logger.Printf("scheduler: purge stats: %v", err)
		}

		// Cycle outcomes never stop the loop; the next check always runs.
		s.orch.RunCycle(ctx)

		s.logger.Printf("scheduler: next check in %s", s.interval)
		timer.Reset(s.interval)
	}
}
