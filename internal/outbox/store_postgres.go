package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"actions/pkg/domain"
	"actions/pkg/platform/sentinel"
)

// PostgresStore reads and settles outbox entries in PostgreSQL. Writes into
// the table happen inside the action store's transactions; this side only
// fetches and updates delivery bookkeeping.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// FetchBatch returns up to limit due entries, oldest first. Two replicas may
// fetch the same entry; the resulting duplicate publish is within the
// at-least-once contract and downstream consumers dedupe on action ID and
// timestamp.
func (s *PostgresStore) FetchBatch(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, action_id, payload, status, attempts, next_attempt_at, created_at, published_at
		FROM action_outbox
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`, string(StatusQueued), now, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox batch: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			actionID uuid.UUID
			status   string
		)
		err := rows.Scan(&entry.ID, &actionID, &entry.Payload, &status, &entry.Attempts, &entry.NextAttemptAt, &entry.CreatedAt, &entry.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entry.ActionID = domain.ActionID(actionID)
		entry.Status = Status(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox batch: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.settle(ctx, `
		UPDATE action_outbox
		SET status = $1, published_at = $2
		WHERE id = $3
	`, id, string(StatusPublished), at, id)
}

func (s *PostgresStore) RecordFailure(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	return s.settle(ctx, `
		UPDATE action_outbox
		SET attempts = attempts + 1, next_attempt_at = $1
		WHERE id = $2
	`, id, nextAttemptAt, id)
}

func (s *PostgresStore) Park(ctx context.Context, id uuid.UUID) error {
	return s.settle(ctx, `
		UPDATE action_outbox
		SET status = $1, attempts = attempts + 1
		WHERE id = $2
	`, id, string(StatusParked), id)
}

func (s *PostgresStore) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.settle(ctx, `
		UPDATE action_outbox
		SET status = $1, attempts = 0, next_attempt_at = $2
		WHERE id = $3 AND status = $4
	`, id, string(StatusQueued), now, id, string(StatusParked))
}

func (s *PostgresStore) settle(ctx context.Context, query string, id uuid.UUID, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update outbox entry %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox entry %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}
