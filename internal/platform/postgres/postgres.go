package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// requiredRelations are the tables and indexes migrations must have created
// before the service accepts traffic. Migration tooling itself is external;
// this check is the explicit startup precondition.
var requiredRelations = []string{
	"actions",
	"action_audit",
	"action_outbox",
	"actions_trainee_state_idx",
	"actions_due_scan_idx",
	"action_outbox_poll_idx",
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return pool, nil
}

// VerifySchema confirms every required relation exists. It must pass before
// the consumer, sweep, or publisher start.
func VerifySchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, relation := range requiredRelations {
		var regclass *string
		err := pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, relation).Scan(&regclass)
		if err != nil {
			return fmt.Errorf("check relation %s: %w", relation, err)
		}
		if regclass == nil {
			return fmt.Errorf("required relation %s is missing; run migrations first", relation)
		}
	}
	return nil
}
