// Package heartbeat periodically publishes a liveness status so POS
// clients can tell an idle bridge from a dead one.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/posprint/bridge/internal/device"
	"github.com/posprint/bridge/internal/report"
	"github.com/posprint/bridge/internal/spool"
)

// Config holds heartbeat tuning knobs.
type Config struct {
	// Interval between heartbeats.
	Interval time.Duration

	// ProbeTimeout bounds the device status probe. A probe stuck behind
	// a long print falls back to the cached status so the heartbeat is
	// never late.
	ProbeTimeout time.Duration
}

// Publisher emits periodic liveness statuses. It observes the system
// without mutating it: the spool length it reports is a read-only
// snapshot and the device probe goes through the same gate as printing.
type Publisher struct {
	spool    spool.Spool
	gate     *device.Gate
	reporter report.Publisher
	status   *device.StatusCache
	degraded func() bool
	logger   *slog.Logger
	config   Config
}

// New creates a heartbeat publisher. degraded reports whether the
// dispatch engine is currently cut off from the spool store.
func New(sp spool.Spool, gate *device.Gate, reporter report.Publisher, status *device.StatusCache, degraded func() bool, config Config, logger *slog.Logger) *Publisher {
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 2 * time.Second
	}

	return &Publisher{
		spool:    sp,
		gate:     gate,
		reporter: reporter,
		status:   status,
		degraded: degraded,
		logger:   logger,
		config:   config,
	}
}

// Run publishes heartbeats until the context is canceled. The first
// heartbeat goes out immediately so a freshly started bridge announces
// itself without waiting a full interval.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("Heartbeat publisher started",
		slog.Duration("interval", p.config.Interval),
	)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.beat(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Heartbeat publisher stopped")
			return nil
		case <-ticker.C:
			p.beat(ctx)
		}
	}
}

// beat publishes one liveness status. Failures are logged and the next
// tick tries again; a missed heartbeat must never stop the publisher.
func (p *Publisher) beat(ctx context.Context) {
	printerStatus, probeOK := p.probe(ctx)

	queueLen, lenErr := p.spool.Len(ctx)
	if lenErr != nil {
		p.logger.Warn("Heartbeat could not read queue length",
			slog.Any("error", lenErr),
		)
		queueLen = 0
	}

	code := report.StatusAlive
	detail := "bridge alive"
	switch {
	case p.degraded() || lenErr != nil:
		code = report.StatusDegraded
		detail = "spool store unavailable"
	case !probeOK:
		code = report.StatusDegraded
		detail = "device status probe failed"
	}

	st := report.New("", code, detail, queueLen, printerStatus)
	if err := p.reporter.Publish(ctx, st); err != nil {
		p.logger.Error("Failed to publish heartbeat",
			slog.Any("error", err),
		)
		return
	}

	p.logger.Debug("Heartbeat published",
		slog.String("status", string(code)),
		slog.Int("queue_len", queueLen),
		slog.Int("printer_status", printerStatus),
	)
}

// probe asks the device for its status with a bounded wait. When the
// gate is held by a print past the deadline the cached value stands in;
// the probe goroutine updates the cache whenever it finally returns.
// The second return is false when the probe itself failed.
func (p *Publisher) probe(ctx context.Context) (int, bool) {
	type result struct {
		code int
		ok   bool
	}

	done := make(chan result, 1)
	go func() {
		code, err := p.gate.Status()
		if err != nil {
			p.logger.Warn("Device status probe failed",
				slog.Any("error", err),
			)
			done <- result{p.status.Get(), false}
			return
		}
		p.status.Set(code)
		done <- result{code, true}
	}()

	select {
	case r := <-done:
		return r.code, r.ok
	case <-time.After(p.config.ProbeTimeout):
		// A slow probe is not a failed probe; the device is just busy.
		return p.status.Get(), true
	case <-ctx.Done():
		return p.status.Get(), true
	}
}
