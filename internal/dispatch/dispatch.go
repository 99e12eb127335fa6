// Package dispatch runs the single consumer of the spool: it pops the
// highest-priority entry, drives one print attempt with a wall-clock
// budget, and publishes exactly one terminal status per popped entry.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/posprint/bridge/internal/device"
	"github.com/posprint/bridge/internal/job"
	"github.com/posprint/bridge/internal/report"
	"github.com/posprint/bridge/internal/spool"
)

const maxStoreBackoff = 30 * time.Second

// Config holds the dispatch loop tuning knobs.
type Config struct {
	// PollInterval bounds how long an enqueued job can sit unnoticed if
	// the wake signal is missed.
	PollInterval time.Duration

	// PrintTimeout is the wall-clock budget for one print attempt. A
	// driver that exceeds it costs the job a "timeout" status even if
	// the hardware eventually finishes.
	PrintTimeout time.Duration

	// StoreRetryDelay seeds the exponential backoff used when the spool
	// store is unavailable.
	StoreRetryDelay time.Duration
}

// Engine is the spool's sole consumer. Exactly one Run loop may be
// active; the one-at-a-time print ordering guarantee depends on it.
type Engine struct {
	spool    spool.Spool
	gate     *device.Gate
	reporter report.Publisher
	status   *device.StatusCache
	logger   *slog.Logger
	config   Config

	wake     chan struct{}
	degraded atomic.Bool
}

// New creates a dispatch engine.
func New(sp spool.Spool, gate *device.Gate, reporter report.Publisher, status *device.StatusCache, config Config, logger *slog.Logger) *Engine {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.PrintTimeout <= 0 {
		config.PrintTimeout = 30 * time.Second
	}
	if config.StoreRetryDelay <= 0 {
		config.StoreRetryDelay = 200 * time.Millisecond
	}

	return &Engine{
		spool:    sp,
		gate:     gate,
		reporter: reporter,
		status:   status,
		logger:   logger,
		config:   config,
		wake:     make(chan struct{}, 1),
	}
}

// Wake nudges an idle loop to pop immediately instead of waiting out the
// poll interval. Safe to call from any goroutine; extra signals coalesce.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Degraded reports whether the engine is currently backing off from an
// unavailable spool store. The heartbeat publisher folds this into its
// liveness marker.
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

// Run drives the dispatch loop until the context is canceled. It must
// not be started more than once per process.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Dispatch engine started",
		slog.Duration("poll_interval", e.config.PollInterval),
		slog.Duration("print_timeout", e.config.PrintTimeout),
	)

	storeFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			e.logger.Info("Dispatch engine stopped")
			return nil
		}

		processed, err := e.cycle(ctx)
		if err != nil {
			if errors.Is(err, spool.ErrStoreUnavailable) {
				e.degraded.Store(true)
				delay := backoff(e.config.StoreRetryDelay, storeFailures)
				storeFailures++

				e.logger.Warn("Spool store unavailable, backing off",
					slog.Int("consecutive_failures", storeFailures),
					slog.Duration("retry_after", delay),
					slog.Any("error", err),
				)

				if !sleep(ctx, delay) {
					return nil
				}
				continue
			}
			// Non-store errors are logged and the loop presses on; the
			// failing entry already received its terminal status.
			e.logger.Error("Dispatch cycle failed",
				slog.Any("error", err),
			)
		}

		if storeFailures > 0 {
			e.logger.Info("Spool store recovered",
				slog.Int("failures_seen", storeFailures),
			)
		}
		storeFailures = 0
		e.degraded.Store(false)

		if processed {
			continue
		}

		// Empty spool: sleep until woken or the poll interval elapses.
		select {
		case <-ctx.Done():
			e.logger.Info("Dispatch engine stopped")
			return nil
		case <-e.wake:
		case <-time.After(e.config.PollInterval):
		}
	}
}

// cycle prunes expired entries, then pops and dispatches at most one
// job. It returns true when an entry was popped.
func (e *Engine) cycle(ctx context.Context) (bool, error) {
	now := time.Now()

	pruned, err := e.spool.PruneExpired(ctx, now)
	if err != nil {
		return false, fmt.Errorf("prune expired: %w", err)
	}
	for i := range pruned {
		e.reportExpired(ctx, &pruned[i])
	}

	entry, err := e.spool.PopMin(ctx)
	if err != nil {
		return false, fmt.Errorf("pop: %w", err)
	}
	if entry == nil {
		return false, nil
	}

	e.dispatch(ctx, entry)
	return true, nil
}

// dispatch resolves one popped entry to exactly one terminal status.
func (e *Engine) dispatch(ctx context.Context, entry *spool.Entry) {
	j, err := job.Decode(entry.Payload)
	if err != nil {
		e.logger.Error("Corrupt spool entry",
			slog.String("job_id", entry.JobID),
			slog.Int64("seq", entry.Seq),
			slog.Any("error", err),
		)
		e.report(ctx, entry.JobID, report.StatusFailure,
			fmt.Sprintf("corrupt spool entry: %v", err))
		return
	}

	// The prune sweep and this check can both miss a deadline that lands
	// mid-cycle; the check is the authoritative last look.
	if j.Expired(time.Now()) {
		e.logger.Info("Job expired before dispatch",
			slog.String("job_id", j.JobID),
			slog.Int("priority", j.Priority),
		)
		e.report(ctx, j.JobID, report.StatusExpired, "job expired before printing")
		return
	}

	e.logger.Info("Dispatching job",
		slog.String("job_id", j.JobID),
		slog.Int("priority", j.Priority),
		slog.Int("elements", len(j.Elements)),
	)

	printCtx, cancel := context.WithTimeout(ctx, e.config.PrintTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.gate.Print(printCtx, j)
	}()

	select {
	case err := <-done:
		if err != nil {
			e.logger.Error("Print attempt failed",
				slog.String("job_id", j.JobID),
				slog.Any("error", err),
			)
			e.report(ctx, j.JobID, report.StatusFailure, err.Error())
			return
		}

		e.logger.Info("Job printed",
			slog.String("job_id", j.JobID),
		)
		e.report(ctx, j.JobID, report.StatusSuccess, "printed")

	case <-printCtx.Done():
		// The print goroutine may still hold the device gate; it will
		// release it whenever the driver returns. The job's outcome is
		// decided now regardless.
		e.logger.Error("Print attempt timed out",
			slog.String("job_id", j.JobID),
			slog.Duration("budget", e.config.PrintTimeout),
		)
		e.report(ctx, j.JobID, report.StatusTimeout,
			fmt.Sprintf("print attempt exceeded %s budget", e.config.PrintTimeout))
	}
}

func (e *Engine) reportExpired(ctx context.Context, entry *spool.Entry) {
	e.logger.Info("Pruned expired job",
		slog.String("job_id", entry.JobID),
		slog.Int("priority", entry.Priority),
	)
	e.report(ctx, entry.JobID, report.StatusExpired, "job expired before printing")
}

// report publishes a terminal status. Publish failures are logged, never
// retried here; the transport client already retries internally.
func (e *Engine) report(ctx context.Context, jobID string, code report.Code, detail string) {
	queueLen, err := e.spool.Len(ctx)
	if err != nil {
		queueLen = 0
	}

	st := report.New(jobID, code, detail, queueLen, e.status.Get())
	if err := e.reporter.Publish(ctx, st); err != nil {
		e.logger.Error("Failed to publish job status",
			slog.String("job_id", jobID),
			slog.String("status", string(code)),
			slog.Any("error", err),
		)
	}
}

// backoff returns the bounded exponential delay for the given attempt.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt > 20 {
		return maxStoreBackoff
	}
	d := time.Duration(float64(base) * float64(uint(1)<<uint(attempt)))
	if d > maxStoreBackoff {
		return maxStoreBackoff
	}
	return d
}

// sleep waits for d or until the context is canceled; it reports false
// on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
