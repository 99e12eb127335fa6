// Package maintenance runs the scheduled expiry sweep over the spool.
// The dispatch loop already prunes before every pop; the sweep covers
// the idle case, where expired jobs would otherwise linger until the
// next submission arrives.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/posprint/bridge/internal/report"
	"github.com/posprint/bridge/internal/spool"
)

// Sweeper prunes expired spool entries on a cron schedule and reports
// their disposal.
type Sweeper struct {
	spool    spool.Spool
	reporter report.Publisher
	logger   *slog.Logger
	schedule string
	cron     *cron.Cron
}

// New creates a sweeper with a cron schedule such as "@every 1m".
func New(sp spool.Spool, reporter report.Publisher, schedule string, logger *slog.Logger) *Sweeper {
	if schedule == "" {
		schedule = "@every 1m"
	}

	return &Sweeper{
		spool:    sp,
		reporter: reporter,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the sweep job and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Expiry sweeper started",
		slog.String("schedule", s.schedule),
	)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Expiry sweeper stopped")
}

// Sweep removes expired entries and publishes an expired status for
// each. Store unavailability is logged and left to the next run.
func (s *Sweeper) Sweep(ctx context.Context) {
	pruned, err := s.spool.PruneExpired(ctx, time.Now())
	if err != nil {
		if errors.Is(err, spool.ErrStoreUnavailable) {
			s.logger.Warn("Expiry sweep skipped, spool store unavailable",
				slog.Any("error", err),
			)
			return
		}
		s.logger.Error("Expiry sweep failed",
			slog.Any("error", err),
		)
		return
	}

	if len(pruned) == 0 {
		return
	}

	queueLen, err := s.spool.Len(ctx)
	if err != nil {
		queueLen = 0
	}

	s.logger.Info("Expiry sweep pruned jobs",
		slog.Int("pruned", len(pruned)),
		slog.Int("queue_len", queueLen),
	)

	for i := range pruned {
		st := report.New(pruned[i].JobID, report.StatusExpired, "job expired before printing", queueLen, 0)
		if err := s.reporter.Publish(ctx, st); err != nil {
			s.logger.Error("Failed to publish expired status",
				slog.String("job_id", pruned[i].JobID),
				slog.Any("error", err),
			)
		}
	}
}
