package spool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/posprint/bridge/internal/job"
)

// Memory is an in-process Spool with the same ordering and atomicity
// contract as Postgres. It is used by tests and by single-host dev
// deployments that have no database; it is not durable and must not be
// shared between processes.
type Memory struct {
	mu      sync.Mutex
	nextSeq int64
	entries []Entry
}

// NewMemory creates an empty in-memory spool.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Enqueue(_ context.Context, j *job.Job) (int64, error) {
	payload, err := j.Encode()
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSeq++
	e := Entry{
		Seq:         m.nextSeq,
		JobID:       j.JobID,
		Priority:    j.Priority,
		Payload:     payload,
		SubmittedAt: j.SubmittedAt,
		ExpiresAt:   j.ExpiresAt,
	}

	// Keep the slice sorted by score so PopMin is a head removal.
	idx := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Score() > e.Score()
	})
	m.entries = append(m.entries, Entry{})
	copy(m.entries[idx+1:], m.entries[idx:])
	m.entries[idx] = e

	return e.Seq, nil
}

func (m *Memory) PopMin(_ context.Context) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) == 0 {
		return nil, nil
	}
	e := m.entries[0]
	m.entries = m.entries[1:]
	return &e, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *Memory) PruneExpired(_ context.Context, now time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []Entry
	var pruned []Entry
	for _, e := range m.entries {
		if e.Expired(now) {
			pruned = append(pruned, e)
		} else {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return pruned, nil
}

// Seed inserts a raw entry directly, bypassing job encoding. Tests use
// it to simulate corrupted stored payloads.
func (m *Memory) Seed(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Seq == 0 {
		m.nextSeq++
		e.Seq = m.nextSeq
	} else if e.Seq > m.nextSeq {
		m.nextSeq = e.Seq
	}
	idx := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Score() > e.Score()
	})
	m.entries = append(m.entries, Entry{})
	copy(m.entries[idx+1:], m.entries[idx:])
	m.entries[idx] = e
}
