// Package dedupe tracks which source messages have already been applied and
// how often a message has failed, backed by Redis with a TTL.
//
// The dedupe marker is best-effort: the deterministic action identity makes
// reapplying an event harmless, so a lost marker costs a redundant no-op, not
// a duplicate action.
package dedupe

import (
	"context"
	"time"
)

// Store records processed source-message IDs and failure counts.
type Store interface {
	// AlreadyProcessed reports whether the message was applied before.
	AlreadyProcessed(ctx context.Context, sourceMessageID string) (bool, error)

	// MarkProcessed records a successful application.
	MarkProcessed(ctx context.Context, sourceMessageID string) error

	// RecordFailure increments and returns the failure count for a message.
	// Used to budget redeliveries of payloads that keep failing.
	RecordFailure(ctx context.Context, sourceMessageID string) (int, error)
}

// Config for the Redis-backed store.
type Config struct {
	// TTL bounds how long markers are kept. Must comfortably exceed the
	// transport's redelivery horizon.
	TTL time.Duration
}
