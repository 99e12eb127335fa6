package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posprint/bridge/internal/device"
	"github.com/posprint/bridge/internal/job"
	"github.com/posprint/bridge/internal/report"
	"github.com/posprint/bridge/internal/spool"
)

type fakeDriver struct {
	mu      sync.Mutex
	printed []string
	errs    map[string]error
	block   time.Duration
}

func (d *fakeDriver) Print(ctx context.Context, j *job.Job) error {
	if d.block > 0 {
		select {
		case <-time.After(d.block):
		case <-ctx.Done():
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.printed = append(d.printed, j.JobID)
	if err, ok := d.errs[j.JobID]; ok {
		return err
	}
	return nil
}

func (d *fakeDriver) Status() (int, error) { return 0, nil }

func (d *fakeDriver) printedIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.printed...)
}

type capturingPublisher struct {
	mu       sync.Mutex
	statuses []report.Status
}

func (p *capturingPublisher) Publish(_ context.Context, st *report.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, *st)
	return nil
}

func (p *capturingPublisher) snapshot() []report.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]report.Status(nil), p.statuses...)
}

func (p *capturingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.statuses)
}

func newTestJob(id string, priority int, expiresAt *time.Time) *job.Job {
	return &job.Job{
		JobID:       id,
		Priority:    priority,
		PaperWidth:  job.DefaultPaperWidth,
		ExpiresAt:   expiresAt,
		SubmittedAt: time.Now(),
		Elements: []job.Element{
			{
				Type: job.ElementText,
				Text: &job.Text{
					Content:     "receipt line",
					Orientation: job.OrientationLeft,
					Font:        job.FontA,
					Size:        1,
				},
			},
		},
	}
}

func newTestEngine(sp spool.Spool, drv device.Driver, pub report.Publisher, printTimeout time.Duration) *Engine {
	return New(sp, device.NewGate(drv), pub, &device.StatusCache{}, Config{
		PollInterval:    10 * time.Millisecond,
		PrintTimeout:    printTimeout,
		StoreRetryDelay: 5 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnginePriorityOrdering(t *testing.T) {
	sp := spool.NewMemory()
	drv := &fakeDriver{}
	pub := &capturingPublisher{}
	ctx := context.Background()

	// Arrival order B, A, C: A is more urgent, B beats C on arrival.
	for _, j := range []*job.Job{
		newTestJob("job-b", 5, nil),
		newTestJob("job-a", 2, nil),
		newTestJob("job-c", 5, nil),
	} {
		_, err := sp.Enqueue(ctx, j)
		require.NoError(t, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine := newTestEngine(sp, drv, pub, time.Second)
	go engine.Run(runCtx)

	require.Eventually(t, func() bool {
		return pub.count() == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, []string{"job-a", "job-b", "job-c"}, drv.printedIDs())

	for _, st := range pub.snapshot() {
		assert.Equal(t, report.StatusSuccess, st.Status)
	}
}

func TestEngineExpiredJobNeverPrinted(t *testing.T) {
	sp := spool.NewMemory()
	drv := &fakeDriver{}
	pub := &capturingPublisher{}
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, err := sp.Enqueue(ctx, newTestJob("job-expired", 0, &past))
	require.NoError(t, err)
	_, err = sp.Enqueue(ctx, newTestJob("job-live", 5, nil))
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine := newTestEngine(sp, drv, pub, time.Second)
	go engine.Run(runCtx)

	require.Eventually(t, func() bool {
		return pub.count() == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, []string{"job-live"}, drv.printedIDs())

	byID := map[string]report.Status{}
	for _, st := range pub.snapshot() {
		byID[st.JobID] = st
	}
	assert.Equal(t, report.StatusExpired, byID["job-expired"].Status)
	assert.Equal(t, report.StatusSuccess, byID["job-live"].Status)
}

func TestEnginePrintTimeout(t *testing.T) {
	sp := spool.NewMemory()
	drv := &fakeDriver{block: 500 * time.Millisecond}
	pub := &capturingPublisher{}
	ctx := context.Background()

	_, err := sp.Enqueue(ctx, newTestJob("job-slow", 5, nil))
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine := newTestEngine(sp, drv, pub, 30*time.Millisecond)
	go engine.Run(runCtx)

	require.Eventually(t, func() bool {
		return pub.count() == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	st := pub.snapshot()[0]
	assert.Equal(t, "job-slow", st.JobID)
	assert.Equal(t, report.StatusTimeout, st.Status)
	assert.Contains(t, st.Detail, "budget")
}

func TestEngineDriverFailure(t *testing.T) {
	sp := spool.NewMemory()
	drv := &fakeDriver{errs: map[string]error{
		"job-bad": errors.New("printer cover open"),
	}}
	pub := &capturingPublisher{}
	ctx := context.Background()

	_, err := sp.Enqueue(ctx, newTestJob("job-bad", 5, nil))
	require.NoError(t, err)
	_, err = sp.Enqueue(ctx, newTestJob("job-good", 5, nil))
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine := newTestEngine(sp, drv, pub, time.Second)
	go engine.Run(runCtx)

	require.Eventually(t, func() bool {
		return pub.count() == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	byID := map[string]report.Status{}
	for _, st := range pub.snapshot() {
		byID[st.JobID] = st
	}

	// The failing job gets a failure status and the loop moves on.
	assert.Equal(t, report.StatusFailure, byID["job-bad"].Status)
	assert.Equal(t, "printer cover open", byID["job-bad"].Detail)
	assert.Equal(t, report.StatusSuccess, byID["job-good"].Status)
}

func TestEngineCorruptEntry(t *testing.T) {
	sp := spool.NewMemory()
	drv := &fakeDriver{}
	pub := &capturingPublisher{}

	sp.Seed(spool.Entry{
		JobID:       "job-corrupt",
		Priority:    0,
		Payload:     []byte("{not json"),
		SubmittedAt: time.Now(),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := newTestEngine(sp, drv, pub, time.Second)
	go engine.Run(runCtx)

	require.Eventually(t, func() bool {
		return pub.count() == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	st := pub.snapshot()[0]
	assert.Equal(t, "job-corrupt", st.JobID)
	assert.Equal(t, report.StatusFailure, st.Status)
	assert.Contains(t, st.Detail, "corrupt spool entry")
	assert.Empty(t, drv.printedIDs())
}

func TestEngineExactlyOneStatusPerEntry(t *testing.T) {
	sp := spool.NewMemory()
	drv := &fakeDriver{}
	pub := &capturingPublisher{}
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		_, err := sp.Enqueue(ctx, newTestJob(fmt.Sprintf("job-%02d", i), i%10, nil))
		require.NoError(t, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine := newTestEngine(sp, drv, pub, time.Second)
	go engine.Run(runCtx)

	require.Eventually(t, func() bool {
		return pub.count() >= n
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	statuses := pub.snapshot()
	require.Len(t, statuses, n)

	seen := map[string]int{}
	for _, st := range statuses {
		seen[st.JobID]++
	}
	for id, c := range seen {
		assert.Equal(t, 1, c, "job %s reported %d times", id, c)
	}
}

// flakySpool fails every store call until recovered.
type flakySpool struct {
	*spool.Memory
	failing atomic.Bool
}

func (f *flakySpool) PruneExpired(ctx context.Context, now time.Time) ([]spool.Entry, error) {
	if f.failing.Load() {
		return nil, fmt.Errorf("%w: connection refused", spool.ErrStoreUnavailable)
	}
	return f.Memory.PruneExpired(ctx, now)
}

func TestEngineDegradedOnStoreUnavailable(t *testing.T) {
	sp := &flakySpool{Memory: spool.NewMemory()}
	sp.failing.Store(true)
	drv := &fakeDriver{}
	pub := &capturingPublisher{}
	ctx := context.Background()

	_, err := sp.Enqueue(ctx, newTestJob("job-waiting", 5, nil))
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine := newTestEngine(sp, drv, pub, time.Second)
	go engine.Run(runCtx)

	require.Eventually(t, engine.Degraded, time.Second, time.Millisecond,
		"engine should flag degraded while the store is down")
	assert.Empty(t, pub.snapshot(), "no job may be dropped while the store is down")

	sp.failing.Store(false)

	require.Eventually(t, func() bool {
		return pub.count() == 1 && !engine.Degraded()
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	st := pub.snapshot()[0]
	assert.Equal(t, "job-waiting", st.JobID)
	assert.Equal(t, report.StatusSuccess, st.Status)
}

func TestEngineWake(t *testing.T) {
	sp := spool.NewMemory()
	drv := &fakeDriver{}
	pub := &capturingPublisher{}
	ctx := context.Background()

	engine := New(sp, device.NewGate(drv), pub, &device.StatusCache{}, Config{
		PollInterval:    time.Hour, // only the wake signal can unblock
		PrintTimeout:    time.Second,
		StoreRetryDelay: 5 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go engine.Run(runCtx)

	// Let the loop drain the empty spool and park.
	time.Sleep(50 * time.Millisecond)

	_, err := sp.Enqueue(ctx, newTestJob("job-wake", 5, nil))
	require.NoError(t, err)
	engine.Wake()

	require.Eventually(t, func() bool {
		return pub.count() == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	assert.Equal(t, []string{"job-wake"}, drv.printedIDs())
}
