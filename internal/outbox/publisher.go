package outbox

import (
	"context"
	"log/slog"
	"time"

	"actions/internal/platform/metrics"
	"actions/pkg/platform/circuit"
	"actions/pkg/platform/clock"
)

// Broker publishes one notification payload keyed for partition ordering.
type Broker interface {
	Publish(ctx context.Context, key, value []byte) error
}

// PublisherConfig tunes the outbox drain loop.
type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// BaseBackoff is doubled per failed attempt: base, 2*base, 4*base...
	BaseBackoff time.Duration
}

// Publisher drains the outbox to the broker. It never deletes work: entries
// that keep failing back off exponentially and are eventually parked for
// operator attention, so a broker outage delays notifications but cannot
// lose them.
type Publisher struct {
	store   Store
	broker  Broker
	breaker *circuit.Breaker
	clk     clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     PublisherConfig
}

func NewPublisher(store Store, broker Broker, breaker *circuit.Breaker, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics, cfg PublisherConfig) *Publisher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	return &Publisher{
		store:   store,
		broker:  broker,
		breaker: breaker,
		clk:     clk,
		logger:  logger,
		metrics: m,
		cfg:     cfg,
	}
}

// Run polls until the context is cancelled. Batch errors are logged and the
// next tick retries; the outbox is durable so nothing is lost by waiting.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.DrainOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

// DrainOnce publishes one batch of due entries. When the circuit is open the
// whole batch is skipped; entries stay queued and their next-attempt times
// are untouched.
func (p *Publisher) DrainOnce(ctx context.Context) error {
	if p.breaker != nil && !p.breaker.Allow() {
		return nil
	}

	entries, err := p.store.FetchBatch(ctx, p.clk.Now(), p.cfg.BatchSize)
	if err != nil {
		return err
	}

	for i := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.publishOne(ctx, &entries[i])
	}
	return nil
}

func (p *Publisher) publishOne(ctx context.Context, entry *Entry) {
	err := p.broker.Publish(ctx, []byte(entry.ActionID.String()), entry.Payload)
	if err == nil {
		if p.breaker != nil {
			p.breaker.RecordSuccess()
		}
		p.metrics.RecordOutboxPublished()
		if err := p.store.MarkPublished(ctx, entry.ID, p.clk.Now()); err != nil {
			// The publish went through; on restart this entry is re-sent,
			// which the at-least-once contract allows.
			p.logger.Error("published but failed to settle outbox entry",
				"entry_id", entry.ID,
				"error", err,
			)
		}
		return
	}

	if p.breaker != nil {
		p.breaker.RecordFailure()
	}

	attempts := entry.Attempts + 1
	if attempts >= p.cfg.MaxAttempts {
		p.metrics.RecordOutboxParked()
		p.logger.Error("parking outbox entry after exhausting attempts",
			"entry_id", entry.ID,
			"action_id", entry.ActionID,
			"attempts", attempts,
			"error", err,
		)
		if perr := p.store.Park(ctx, entry.ID); perr != nil {
			p.logger.Error("failed to park outbox entry", "entry_id", entry.ID, "error", perr)
		}
		return
	}

	next := p.clk.Now().Add(p.backoff(entry.Attempts))
	p.metrics.RecordOutboxRetried()
	p.logger.Warn("outbox publish failed, rescheduling",
		"entry_id", entry.ID,
		"action_id", entry.ActionID,
		"attempts", attempts,
		"next_attempt_at", next,
		"error", err,
	)
	if rerr := p.store.RecordFailure(ctx, entry.ID, next); rerr != nil {
		p.logger.Error("failed to reschedule outbox entry", "entry_id", entry.ID, "error", rerr)
	}
}

func (p *Publisher) backoff(attempts int) time.Duration {
	d := p.cfg.BaseBackoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return d
}
