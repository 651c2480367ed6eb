package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the durable queue of pending notifications. Entries are written by
// the action store in the same transaction as the transition they describe;
// this interface covers the publisher's side of the table.
type Store interface {
	// FetchBatch returns up to limit queued entries whose next attempt time
	// has arrived, oldest first.
	FetchBatch(ctx context.Context, now time.Time, limit int) ([]Entry, error)

	// MarkPublished records a successful publish.
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error

	// RecordFailure increments the attempt counter and schedules the next
	// attempt. The entry stays queued.
	RecordFailure(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error

	// Park moves an entry out of the queue after its attempts are exhausted.
	Park(ctx context.Context, id uuid.UUID) error

	// Requeue returns a parked entry to the queue with a reset attempt
	// counter. Operator-driven recovery.
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error
}
