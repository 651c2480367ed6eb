package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"actions/internal/outbox"
	"actions/internal/platform/metrics"
	"actions/pkg/domain"
	"actions/pkg/platform/sentinel"
)

// PostgresStore persists actions in PostgreSQL. State writes are single-row
// conditional updates; the audit entry and outbox notification are written in
// the same transaction so a committed transition always has its notification
// queued.
type PostgresStore struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

func NewPostgresStore(pool *pgxpool.Pool, metrics *metrics.Metrics) *PostgresStore {
	return &PostgresStore{pool: pool, metrics: metrics}
}

const actionColumns = `id, trainee_id, action_type, state, trigger_key, due_by, created_at, completed_at, last_modified_at`

func (s *PostgresStore) Upsert(ctx context.Context, draft Draft, now time.Time) (*Action, bool, error) {
	if draft.TraineeID.IsNil() {
		return nil, false, fmt.Errorf("draft trainee ID is required")
	}

	id := draft.ActionID()
	state := InitialState(draft.DueBy, now)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO actions (id, trainee_id, action_type, state, trigger_key, due_by, created_at, last_modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(id), draft.TraineeID.String(), string(draft.Type), string(state), draft.TriggerKey, draft.DueBy, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert action: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Duplicate delivery: the action already exists, return it unchanged.
		existing, err := s.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if err := s.appendAuditTx(ctx, tx, id, "", state, draft.Cause, now); err != nil {
		return nil, false, err
	}
	notification := outbox.Notification{
		ActionID:   id,
		TraineeID:  draft.TraineeID,
		ActionType: string(draft.Type),
		FromState:  "",
		ToState:    string(state),
		Cause:      draft.Cause,
		Timestamp:  now,
	}
	if err := s.queueTx(ctx, tx, notification, now); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit upsert: %w", err)
	}

	act := &Action{
		ID:             id,
		TraineeID:      draft.TraineeID,
		Type:           draft.Type,
		State:          state,
		TriggerKey:     draft.TriggerKey,
		DueBy:          draft.DueBy,
		CreatedAt:      now,
		LastModifiedAt: now,
		Audit:          []TransitionRecord{{From: "", To: state, Cause: draft.Cause, At: now}},
	}
	return act, true, nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.ActionID) (*Action, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE id = $1
	`, uuid.UUID(id))

	act, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get action: %w", err)
	}

	audit, err := s.auditTrail(ctx, id)
	if err != nil {
		return nil, err
	}
	act.Audit = audit
	return act, nil
}

func (s *PostgresStore) FindIncompleteByTrainee(ctx context.Context, traineeID domain.TraineeID) ([]Action, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE trainee_id = $1 AND state NOT IN ($2, $3)
		ORDER BY due_by ASC NULLS LAST, created_at ASC
	`, traineeID.String(), string(StateComplete), string(StateNotRequired))
	if err != nil {
		return nil, fmt.Errorf("query trainee actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

func (s *PostgresStore) FindByState(ctx context.Context, state State, limit int) ([]Action, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE state = $1
		ORDER BY last_modified_at DESC
		LIMIT $2
	`, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("query actions by state: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

func (s *PostgresStore) FindByTrigger(ctx context.Context, traineeID domain.TraineeID, triggerKey string) ([]Action, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE trainee_id = $1 AND trigger_key = $2
		ORDER BY created_at ASC
	`, traineeID.String(), triggerKey)
	if err != nil {
		return nil, fmt.Errorf("query actions by trigger: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

func (s *PostgresStore) FindDueElapsed(ctx context.Context, states []State, cutoff time.Time, limit int) ([]Action, error) {
	names := make([]string, len(states))
	for i, state := range states {
		names[i] = string(state)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+actionColumns+`
		FROM actions
		WHERE state = ANY($1) AND due_by IS NOT NULL AND due_by <= $2
		ORDER BY due_by ASC
		LIMIT $3
	`, names, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query due elapsed actions: %w", err)
	}
	defer rows.Close()

	return scanActions(rows)
}

func (s *PostgresStore) Transition(ctx context.Context, id domain.ActionID, from, to State, cause string, at time.Time) (*Action, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	// The WHERE state = $from clause is the whole concurrency story: if
	// another instance already advanced the action, zero rows match and the
	// caller re-evaluates against fresh state.
	row := tx.QueryRow(ctx, `
		UPDATE actions
		SET state = $1,
		    last_modified_at = $2,
		    completed_at = CASE WHEN $1 = $3 THEN $2 ELSE completed_at END
		WHERE id = $4 AND state = $5
		RETURNING `+actionColumns+`
	`, string(to), at, string(StateComplete), uuid.UUID(id), string(from))

	act, err := scanAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.classifyMiss(ctx, id, from)
		}
		return nil, fmt.Errorf("transition action: %w", err)
	}

	if err := s.appendAuditTx(ctx, tx, id, from, to, cause, at); err != nil {
		return nil, err
	}
	notification := outbox.Notification{
		ActionID:   act.ID,
		TraineeID:  act.TraineeID,
		ActionType: string(act.Type),
		FromState:  string(from),
		ToState:    string(to),
		Cause:      cause,
		Timestamp:  at,
	}
	if err := s.queueTx(ctx, tx, notification, at); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordTransition(string(to))
	}
	return act, nil
}

// classifyMiss distinguishes a missing action from a lost conditional write.
func (s *PostgresStore) classifyMiss(ctx context.Context, id domain.ActionID, expected State) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT state FROM actions WHERE id = $1`, uuid.UUID(id)).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read action state: %w", err)
	}
	return fmt.Errorf("action %s is %s, expected %s: %w", id, current, expected, sentinel.ErrStaleState)
}

func (s *PostgresStore) appendAuditTx(ctx context.Context, tx pgx.Tx, id domain.ActionID, from, to State, cause string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO action_audit (action_id, from_state, to_state, cause, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(id), string(from), string(to), cause, at)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) queueTx(ctx context.Context, tx pgx.Tx, notification outbox.Notification, at time.Time) error {
	payload, err := outbox.EncodePayload(notification)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO action_outbox (id, action_id, payload, status, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
	`, uuid.New(), uuid.UUID(notification.ActionID), payload, string(outbox.StatusQueued), at)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) auditTrail(ctx context.Context, id domain.ActionID) ([]TransitionRecord, error) {
	// Insertion order, not occurred_at: upstream completion timestamps can
	// predate earlier entries, and the trail must still read in the order
	// the transitions were applied.
	rows, err := s.pool.Query(ctx, `
		SELECT from_state, to_state, cause, occurred_at
		FROM action_audit
		WHERE action_id = $1
		ORDER BY id ASC
	`, uuid.UUID(id))
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var trail []TransitionRecord
	for rows.Next() {
		var (
			record   TransitionRecord
			from, to string
		)
		if err := rows.Scan(&from, &to, &record.Cause, &record.At); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		record.From = State(from)
		record.To = State(to)
		trail = append(trail, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit trail: %w", err)
	}
	return trail, nil
}

func scanAction(row pgx.Row) (*Action, error) {
	var (
		act         Action
		id          uuid.UUID
		traineeID   string
		actionType  string
		state       string
		dueBy       *time.Time
		completedAt *time.Time
	)
	err := row.Scan(&id, &traineeID, &actionType, &state, &act.TriggerKey, &dueBy, &act.CreatedAt, &completedAt, &act.LastModifiedAt)
	if err != nil {
		return nil, err
	}
	act.ID = domain.ActionID(id)
	act.TraineeID = domain.TraineeID(traineeID)
	act.Type = Type(actionType)
	act.State = State(state)
	act.DueBy = dueBy
	act.CompletedAt = completedAt
	return &act, nil
}

func scanActions(rows pgx.Rows) ([]Action, error) {
	var found []Action
	for rows.Next() {
		act, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		found = append(found, *act)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return found, nil
}
