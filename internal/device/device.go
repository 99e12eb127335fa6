// Package device defines the printer driver boundary. Rendering is the
// driver's concern; the bridge only sequences jobs onto it.
package device

import (
	"context"
	"sync"

	"github.com/posprint/bridge/internal/job"
)

// Driver renders a job's elements onto the physical device and answers a
// lightweight status probe. Implementations are not assumed to be safe
// for concurrent calls; all access goes through a Gate.
type Driver interface {
	// Print renders the job's elements in order with its paper width and
	// trailing feed. A returned error is terminal for that job.
	Print(ctx context.Context, j *job.Job) error

	// Status returns the device's status code. 0 means healthy.
	Status() (int, error)
}

// Gate serializes every print and probe call onto a single device
// handle. The dispatch loop and the heartbeat publisher both go through
// the same Gate, so probe and print never overlap regardless of the
// driver's own thread-safety claims.
type Gate struct {
	mu  sync.Mutex
	drv Driver
}

// NewGate wraps a driver in an access gate.
func NewGate(drv Driver) *Gate {
	return &Gate{drv: drv}
}

// Print runs a print attempt while holding the device.
func (g *Gate) Print(ctx context.Context, j *job.Job) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.drv.Print(ctx, j)
}

// Status probes the device while holding it. A probe issued during a
// long print blocks until the print finishes; callers bound their wait
// with a context deadline around the call site.
func (g *Gate) Status() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.drv.Status()
}
