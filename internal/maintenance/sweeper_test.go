package maintenance

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posprint/bridge/internal/job"
	"github.com/posprint/bridge/internal/report"
	"github.com/posprint/bridge/internal/spool"
)

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

func testJob(id string, expiresAt *time.Time) *job.Job {
	return &job.Job{
		JobID:       id,
		Priority:    5,
		SubmittedAt: time.Now(),
		ExpiresAt:   expiresAt,
		Elements: []job.Element{
			{Type: job.ElementText, Text: &job.Text{Content: "x", Orientation: job.OrientationLeft, Font: job.FontA, Size: 1}},
		},
	}
}

func TestSweepPrunesOnlyExpired(t *testing.T) {
	sp := spool.NewMemory()
	pub := &capturingPublisher{}
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	_, err := sp.Enqueue(ctx, testJob("job-old", &past))
	require.NoError(t, err)
	_, err = sp.Enqueue(ctx, testJob("job-fresh", &future))
	require.NoError(t, err)
	_, err = sp.Enqueue(ctx, testJob("job-forever", nil))
	require.NoError(t, err)

	s := New(sp, pub, "@every 1m", slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Sweep(ctx)

	n, err := sp.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	statuses := pub.snapshot()
	require.Len(t, statuses, 1)
	assert.Equal(t, "job-old", statuses[0].JobID)
	assert.Equal(t, report.StatusExpired, statuses[0].Status)
	assert.Equal(t, 2, statuses[0].QueueLen)
}

func TestSweepEmptySpoolPublishesNothing(t *testing.T) {
	sp := spool.NewMemory()
	pub := &capturingPublisher{}

	s := New(sp, pub, "@every 1m", slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Sweep(context.Background())

	assert.Empty(t, pub.snapshot())
}

func TestSweeperSchedule(t *testing.T) {
	sp := spool.NewMemory()
	pub := &capturingPublisher{}
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	_, err := sp.Enqueue(ctx, testJob("job-old", &past))
	require.NoError(t, err)

	s := New(sp, pub, "@every 100ms", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return len(pub.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
