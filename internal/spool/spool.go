// Package spool holds the durable, priority-ordered queue of jobs
// awaiting dispatch. Entries are ordered by a single score combining
// priority and arrival sequence, so priority dominates and arrival order
// breaks ties (FIFO). Popping is a single atomic remove-and-return;
// there is no popped-but-unacknowledged state.
package spool

import (
	"context"
	"errors"
	"time"

	"github.com/posprint/bridge/internal/job"
)

// SequenceSpace separates priority bands in the score. It exceeds any
// sequence number the spool can assign in its lifetime, so no amount of
// arrivals can promote an entry across priorities.
const SequenceSpace int64 = 1_000_000_000_000

// ErrStoreUnavailable marks a transient store failure. Callers retry
// enqueue/pop with backoff instead of dropping the job.
var ErrStoreUnavailable = errors.New("spool store unavailable")

// Entry is the spool's internal representation of a queued job.
type Entry struct {
	Seq         int64      `db:"seq"`
	JobID       string     `db:"job_id"`
	Priority    int        `db:"priority"`
	Payload     []byte     `db:"payload"`
	SubmittedAt time.Time  `db:"submitted_at"`
	ExpiresAt   *time.Time `db:"expires_at"`
}

// Score returns the entry's sortable ordering value.
func (e *Entry) Score() int64 {
	return Score(e.Priority, e.Seq)
}

// Score combines priority and sequence into a total, stable order: no
// two entries ever compare equal because sequences are never reused.
func Score(priority int, seq int64) int64 {
	return int64(priority)*SequenceSpace + seq
}

// Expired reports whether the entry's deadline has passed.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// Spool is the narrow interface over the shared durable store. All
// mutation is atomic at the store level; implementations must be safe
// under concurrent callers and across process restarts.
type Spool interface {
	// Enqueue assigns the next sequence number, persists the entry and
	// returns the sequence. Sequences are monotonic and never reused.
	Enqueue(ctx context.Context, j *job.Job) (int64, error)

	// PopMin atomically removes and returns the entry with the lowest
	// score, or (nil, nil) when the spool is empty. No two callers ever
	// receive the same entry.
	PopMin(ctx context.Context) (*Entry, error)

	// Len returns the current entry count. Read-only, used for
	// reporting, never for correctness decisions.
	Len(ctx context.Context) (int, error)

	// PruneExpired removes entries whose deadline has passed without
	// dispatching them and returns the pruned entries so their disposal
	// can be reported.
	PruneExpired(ctx context.Context, now time.Time) ([]Entry, error)
}
