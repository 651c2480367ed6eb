package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"actions/pkg/domain"
	"actions/pkg/platform/circuit"
	"actions/pkg/platform/clock"
)

type fakeBroker struct {
	mu        sync.Mutex
	published [][]byte
	keys      []string
	fail      bool
}

func (b *fakeBroker) Publish(_ context.Context, key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("broker unavailable")
	}
	b.keys = append(b.keys, string(key))
	b.published = append(b.published, value)
	return nil
}

func (b *fakeBroker) setFail(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = fail
}

func (b *fakeBroker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func testNotification() Notification {
	return Notification{
		ActionID:   domain.DeriveActionID("trainee-1", "REVIEW_PROGRAMME", "pm-1"),
		TraineeID:  "trainee-1",
		ActionType: "REVIEW_PROGRAMME",
		FromState:  "UNSCHEDULED",
		ToState:    "DUE",
		Cause:      "DUE_DATE_REACHED",
		Timestamp:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func newTestPublisher(store Store, broker Broker, breaker *circuit.Breaker, clk clock.Clock, maxAttempts int) *Publisher {
	return NewPublisher(store, broker, breaker, clk, slog.New(slog.DiscardHandler), nil, PublisherConfig{
		PollInterval: time.Second,
		BatchSize:    10,
		MaxAttempts:  maxAttempts,
		BaseBackoff:  time.Second,
	})
}

func TestDrainOncePublishesAndSettles(t *testing.T) {
	store := NewMemoryStore()
	broker := &fakeBroker{}
	clk := clock.NewFake(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	pub := newTestPublisher(store, broker, nil, clk, 5)

	note := testNotification()
	id, err := store.Add(note, clk.Now())
	require.NoError(t, err)

	require.NoError(t, pub.DrainOnce(context.Background()))

	require.Equal(t, 1, broker.count())
	require.Equal(t, note.ActionID.String(), broker.keys[0])

	decoded, err := DecodePayload(broker.published[0])
	require.NoError(t, err)
	require.Equal(t, note, decoded)

	entry, ok := store.Entry(id)
	require.True(t, ok)
	require.Equal(t, StatusPublished, entry.Status)
	require.NotNil(t, entry.PublishedAt)

	// Settled entries are not fetched again.
	require.NoError(t, pub.DrainOnce(context.Background()))
	require.Equal(t, 1, broker.count())
}

func TestDrainOnceBacksOffOnFailure(t *testing.T) {
	store := NewMemoryStore()
	broker := &fakeBroker{fail: true}
	clk := clock.NewFake(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	pub := newTestPublisher(store, broker, nil, clk, 5)

	id, err := store.Add(testNotification(), clk.Now())
	require.NoError(t, err)

	require.NoError(t, pub.DrainOnce(context.Background()))

	entry, ok := store.Entry(id)
	require.True(t, ok)
	require.Equal(t, StatusQueued, entry.Status)
	require.Equal(t, 1, entry.Attempts)
	require.Equal(t, clk.Now().Add(time.Second), entry.NextAttemptAt)

	// Not due yet: the entry is skipped.
	require.NoError(t, pub.DrainOnce(context.Background()))
	entry, _ = store.Entry(id)
	require.Equal(t, 1, entry.Attempts)

	// Second failure doubles the backoff.
	clk.Advance(2 * time.Second)
	require.NoError(t, pub.DrainOnce(context.Background()))
	entry, _ = store.Entry(id)
	require.Equal(t, 2, entry.Attempts)
	require.Equal(t, clk.Now().Add(2*time.Second), entry.NextAttemptAt)

	// Broker recovers: the entry eventually publishes.
	broker.setFail(false)
	clk.Advance(time.Minute)
	require.NoError(t, pub.DrainOnce(context.Background()))
	entry, _ = store.Entry(id)
	require.Equal(t, StatusPublished, entry.Status)
}

func TestParksAfterExhaustedAttempts(t *testing.T) {
	store := NewMemoryStore()
	broker := &fakeBroker{fail: true}
	clk := clock.NewFake(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	pub := newTestPublisher(store, broker, nil, clk, 2)

	id, err := store.Add(testNotification(), clk.Now())
	require.NoError(t, err)

	require.NoError(t, pub.DrainOnce(context.Background()))
	clk.Advance(time.Minute)
	require.NoError(t, pub.DrainOnce(context.Background()))

	entry, ok := store.Entry(id)
	require.True(t, ok)
	require.Equal(t, StatusParked, entry.Status)

	// Parked entries are no longer drained.
	broker.setFail(false)
	clk.Advance(time.Minute)
	require.NoError(t, pub.DrainOnce(context.Background()))
	require.Equal(t, 0, broker.count())

	// Requeue recovers it.
	require.NoError(t, store.Requeue(context.Background(), id, clk.Now()))
	require.NoError(t, pub.DrainOnce(context.Background()))
	entry, _ = store.Entry(id)
	require.Equal(t, StatusPublished, entry.Status)
}

func TestOpenCircuitSkipsBatch(t *testing.T) {
	store := NewMemoryStore()
	broker := &fakeBroker{fail: true}
	clk := clock.NewFake(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))
	breaker := circuit.New(1, time.Hour)
	pub := newTestPublisher(store, broker, breaker, clk, 10)

	id, err := store.Add(testNotification(), clk.Now())
	require.NoError(t, err)

	// First drain fails and opens the circuit.
	require.NoError(t, pub.DrainOnce(context.Background()))
	require.True(t, breaker.IsOpen())

	entry, _ := store.Entry(id)
	require.Equal(t, 1, entry.Attempts)

	// While open, drains do not touch the entry even when it is due.
	clk.Advance(time.Minute)
	require.NoError(t, pub.DrainOnce(context.Background()))
	entry, _ = store.Entry(id)
	require.Equal(t, 1, entry.Attempts)
}
