// Package ingress owns job intake: it validates inbound payloads,
// stamps submission time, enqueues into the spool and acknowledges the
// outcome. It is the only component that enqueues.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/posprint/bridge/internal/device"
	"github.com/posprint/bridge/internal/job"
	"github.com/posprint/bridge/internal/report"
	"github.com/posprint/bridge/internal/spool"
)

// Config holds intake tuning knobs.
type Config struct {
	// StoreRetries bounds the enqueue retries when the spool store is
	// unavailable; the delivery is requeued once they are exhausted.
	StoreRetries    int
	StoreRetryDelay time.Duration
}

// Adapter validates and enqueues submissions from any front door (the
// message consumer, the admin API). Each submission yields exactly one
// ack: accepted or rejected.
type Adapter struct {
	spool    spool.Spool
	reporter report.Publisher
	status   *device.StatusCache
	wake     func()
	logger   *slog.Logger
	config   Config
}

// New creates an intake adapter. wake nudges the dispatch loop after a
// successful enqueue; it may be nil.
func New(sp spool.Spool, reporter report.Publisher, status *device.StatusCache, wake func(), config Config, logger *slog.Logger) *Adapter {
	if config.StoreRetries <= 0 {
		config.StoreRetries = 5
	}
	if config.StoreRetryDelay <= 0 {
		config.StoreRetryDelay = 200 * time.Millisecond
	}

	return &Adapter{
		spool:    sp,
		reporter: reporter,
		status:   status,
		wake:     wake,
		logger:   logger,
		config:   config,
	}
}

// Submit processes one raw submission. A schema violation yields a
// rejected ack and a nil error: the submission is settled, nothing was
// enqueued. A non-nil error means the spool store stayed unavailable
// through all retries and the caller should redeliver the payload.
func (a *Adapter) Submit(ctx context.Context, raw []byte) (*report.Status, error) {
	now := time.Now()

	j, err := job.Validate(raw, now)
	if err != nil {
		var verr *job.ValidationError
		jobID := ""
		detail := err.Error()
		if errors.As(err, &verr) {
			detail = fmt.Sprintf("%s: %s", verr.Field, verr.Reason)
		}

		a.logger.Warn("Rejected job submission",
			slog.String("detail", detail),
		)

		st := a.ack(ctx, jobID, report.StatusRejected, detail)
		return st, nil
	}

	j.SubmittedAt = now

	if err := a.enqueue(ctx, j); err != nil {
		// The job must not be dropped: no ack goes out, the caller
		// requeues the delivery and the submission is retried whole.
		return nil, err
	}

	a.logger.Info("Job accepted",
		slog.String("job_id", j.JobID),
		slog.Int("priority", j.Priority),
		slog.Int("elements", len(j.Elements)),
	)

	st := a.ack(ctx, j.JobID, report.StatusAccepted, "queued for printing")
	if a.wake != nil {
		a.wake()
	}
	return st, nil
}

// enqueue persists the job, retrying with exponential backoff while the
// store reports itself unavailable.
func (a *Adapter) enqueue(ctx context.Context, j *job.Job) error {
	var lastErr error
	for attempt := 0; attempt < a.config.StoreRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(a.config.StoreRetryDelay) * float64(uint(1)<<uint(attempt-1)))
			a.logger.Warn("Spool store unavailable, retrying enqueue",
				slog.String("job_id", j.JobID),
				slog.Int("attempt", attempt+1),
				slog.Duration("retry_after", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		_, err := a.spool.Enqueue(ctx, j)
		if err == nil {
			return nil
		}
		if !errors.Is(err, spool.ErrStoreUnavailable) {
			return fmt.Errorf("enqueue job %s: %w", j.JobID, err)
		}
		lastErr = err
	}

	return fmt.Errorf("enqueue job %s after %d attempts: %w", j.JobID, a.config.StoreRetries, lastErr)
}

// ack publishes an intake acknowledgement. Publish failures are logged;
// the intake outcome stands either way.
func (a *Adapter) ack(ctx context.Context, jobID string, code report.Code, detail string) *report.Status {
	queueLen, err := a.spool.Len(ctx)
	if err != nil {
		queueLen = 0
	}

	st := report.New(jobID, code, detail, queueLen, a.status.Get())
	if err := a.reporter.Publish(ctx, st); err != nil {
		a.logger.Error("Failed to publish intake ack",
			slog.String("job_id", jobID),
			slog.String("status", string(code)),
			slog.Any("error", err),
		)
	}
	return st
}
