package spool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/posprint/bridge/internal/job"
)

// The score column is generated in the database so ordering survives any
// writer, not just this process. SKIP LOCKED keeps concurrent poppers
// from blocking on each other while still handing each entry to exactly
// one of them.
const schema = `
CREATE TABLE IF NOT EXISTS spool_entries (
	seq          BIGSERIAL PRIMARY KEY,
	job_id       TEXT NOT NULL,
	priority     INT NOT NULL CHECK (priority BETWEEN 0 AND 9),
	score        BIGINT GENERATED ALWAYS AS (priority::bigint * 1000000000000 + seq) STORED,
	payload      BYTEA NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS spool_entries_score_idx
	ON spool_entries (score);

CREATE INDEX IF NOT EXISTS spool_entries_expires_idx
	ON spool_entries (expires_at) WHERE expires_at IS NOT NULL;
`

// Postgres is the production Spool backed by a shared PostgreSQL
// database, safe across multiple bridge processes.
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres creates a Postgres spool on an existing connection pool.
func NewPostgres(db *sqlx.DB, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// EnsureSchema creates the spool table and indexes if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure spool schema: %w", err)
	}
	return nil
}

func (p *Postgres) Enqueue(ctx context.Context, j *job.Job) (int64, error) {
	payload, err := j.Encode()
	if err != nil {
		return 0, fmt.Errorf("failed to encode job %s: %w", j.JobID, err)
	}

	query := `
		INSERT INTO spool_entries (job_id, priority, payload, submitted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`

	var seq int64
	err = p.db.QueryRowContext(ctx, query, j.JobID, j.Priority, payload, j.SubmittedAt, j.ExpiresAt).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: enqueue: %v", ErrStoreUnavailable, err)
	}

	p.logger.Debug("Job enqueued",
		slog.String("job_id", j.JobID),
		slog.Int("priority", j.Priority),
		slog.Int64("seq", seq),
	)

	return seq, nil
}

func (p *Postgres) PopMin(ctx context.Context) (*Entry, error) {
	query := `
		DELETE FROM spool_entries
		WHERE seq = (
			SELECT seq FROM spool_entries
			ORDER BY score
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING seq, job_id, priority, payload, submitted_at, expires_at
	`

	var e Entry
	var expiresAt sql.NullTime
	err := p.db.QueryRowContext(ctx, query).Scan(
		&e.Seq, &e.JobID, &e.Priority, &e.Payload, &e.SubmittedAt, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: pop: %v", ErrStoreUnavailable, err)
	}
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Time
	}

	return &e, nil
}

func (p *Postgres) Len(ctx context.Context) (int, error) {
	var count int
	if err := p.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM spool_entries"); err != nil {
		return 0, fmt.Errorf("%w: len: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

func (p *Postgres) PruneExpired(ctx context.Context, now time.Time) ([]Entry, error) {
	query := `
		DELETE FROM spool_entries
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		RETURNING seq, job_id, priority, payload, submitted_at, expires_at
	`

	rows, err := p.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%w: prune: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var pruned []Entry
	for rows.Next() {
		var e Entry
		var expiresAt sql.NullTime
		if err := rows.Scan(&e.Seq, &e.JobID, &e.Priority, &e.Payload, &e.SubmittedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan pruned entry: %w", err)
		}
		if expiresAt.Valid {
			e.ExpiresAt = &expiresAt.Time
		}
		pruned = append(pruned, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: prune: %v", ErrStoreUnavailable, err)
	}

	if len(pruned) > 0 {
		p.logger.Info("Pruned expired spool entries",
			slog.Int("count", len(pruned)),
		)
	}

	return pruned, nil
}
