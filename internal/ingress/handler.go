// Package ingress turns transport messages into applied domain events. It
// owns the drop-or-redeliver decision for every failure mode so the consumer
// loop stays a dumb pump.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"actions/internal/event"
	"actions/internal/ingress/dedupe"
	"actions/internal/platform/kafka/consumer"
	"actions/internal/platform/metrics"
	"actions/pkg/platform/sentinel"
)

var tracer = otel.Tracer("actions/ingress")

// Applier applies one parsed event. Satisfied by the action service.
type Applier interface {
	Apply(ctx context.Context, ev event.Event) error
}

// Handler is the consumer-facing entry point. Outcomes per failure mode:
//
//	unknown event type    -> acknowledged and dropped; upstream topics carry
//	                         types this service does not track
//	malformed payload     -> redelivered up to the retry budget, then dropped;
//	                         malformation is usually permanent but a small
//	                         budget covers partial writes upstream
//	duplicate delivery    -> acknowledged without reapplying
//	application failure   -> redelivered; the store or engine said no and
//	                         retrying is the at-least-once answer
type Handler struct {
	svc         Applier
	seen        dedupe.Store
	logger      *slog.Logger
	metrics     *metrics.Metrics
	retryBudget int
}

func NewHandler(svc Applier, seen dedupe.Store, logger *slog.Logger, m *metrics.Metrics, malformedRetryBudget int) *Handler {
	if malformedRetryBudget <= 0 {
		malformedRetryBudget = 3
	}
	return &Handler{
		svc:         svc,
		seen:        seen,
		logger:      logger,
		metrics:     m,
		retryBudget: malformedRetryBudget,
	}
}

func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	ctx, span := tracer.Start(ctx, "ingress.handle", trace.WithAttributes(
		attribute.String("messaging.topic", msg.Topic),
		attribute.Int64("messaging.offset", msg.Offset),
	))
	defer span.End()

	ev, err := event.Parse(msg.Value)
	if err != nil {
		return h.handleParseFailure(ctx, msg, err)
	}
	span.SetAttributes(attribute.String("event.type", ev.Type))

	seen, err := h.seen.AlreadyProcessed(ctx, ev.SourceMessageID)
	if err != nil {
		// Dedupe is an optimization over the deterministic-identity upsert;
		// proceed without it rather than stalling the partition.
		h.logger.Warn("dedupe check failed, applying anyway",
			"source_message_id", ev.SourceMessageID,
			"error", err,
		)
	}
	if seen {
		h.metrics.RecordEventConsumed(ev.Type, "duplicate")
		h.logger.Debug("duplicate message acknowledged",
			"source_message_id", ev.SourceMessageID,
			"event_type", ev.Type,
		)
		return nil
	}

	if err := h.svc.Apply(ctx, ev); err != nil {
		h.metrics.RecordEventConsumed(ev.Type, "failed")
		return fmt.Errorf("apply event %s: %w", ev.SourceMessageID, err)
	}

	if err := h.seen.MarkProcessed(ctx, ev.SourceMessageID); err != nil {
		h.logger.Warn("failed to mark message processed",
			"source_message_id", ev.SourceMessageID,
			"error", err,
		)
	}

	h.metrics.RecordEventConsumed(ev.Type, "applied")
	return nil
}

func (h *Handler) handleParseFailure(ctx context.Context, msg *consumer.Message, err error) error {
	if errors.Is(err, sentinel.ErrUnknownEventType) {
		h.metrics.RecordEventConsumed("unknown", "unknown_type")
		h.logger.Info("unknown event type acknowledged",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	if errors.Is(err, sentinel.ErrMalformedPayload) {
		// No parsed source ID to key on; the transport coordinates identify
		// the exact message across redeliveries.
		key := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
		count, derr := h.seen.RecordFailure(ctx, key)
		if derr != nil {
			h.logger.Warn("failure count unavailable, dropping malformed message",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"error", derr,
			)
			count = h.retryBudget
		}
		if count >= h.retryBudget {
			h.metrics.RecordEventConsumed("unknown", "malformed_dropped")
			h.logger.Error("malformed message dropped after retry budget",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"attempts", count,
				"error", err,
			)
			return nil
		}
		h.metrics.RecordEventConsumed("unknown", "malformed_retry")
		return err
	}

	return err
}
