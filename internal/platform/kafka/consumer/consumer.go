package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is one inbound transport message, decoupled from the Kafka client
// so handlers stay testable.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes a single message. Returning nil acknowledges the message;
// returning an error leaves it unmarked so the transport redelivers it.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Config captures consumer group settings.
type Config struct {
	Brokers []string
	Group   string
	Topics  []string
	// ProcessingTimeout bounds a single handler invocation. On expiry the
	// message is left unmarked and comes back via redelivery.
	ProcessingTimeout time.Duration
}

// Consumer pulls records from Kafka and dispatches them to a Handler with
// at-least-once semantics: offsets are only marked for commit after the
// handler succeeds.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
	timeout time.Duration
}

// New creates a consumer joined to the configured group.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.AutoCommitMarks(),
		kgo.BlockRebalanceOnPoll(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	timeout := cfg.ProcessingTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Consumer{
		client:  client,
		handler: handler,
		logger:  logger,
		timeout: timeout,
	}, nil
}

// Client exposes the underlying kgo client for startup topic verification.
func (c *Consumer) Client() *kgo.Client {
	return c.client
}

type topicPartition struct {
	topic     string
	partition int32
}

// Run polls until the context is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error("fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		// A handler failure stalls its partition for the rest of the poll.
		// Marking any later offset on the same partition would advance the
		// commit head past the unmarked failure, committing over it; stalled
		// partitions are instead rewound to the failed offset so the next
		// poll retries from there.
		stalled := make(map[topicPartition]kgo.EpochOffset)

		fetches.EachRecord(func(rec *kgo.Record) {
			tp := topicPartition{rec.Topic, rec.Partition}
			if _, ok := stalled[tp]; ok {
				return
			}

			msg := &Message{
				Topic:     rec.Topic,
				Partition: rec.Partition,
				Offset:    rec.Offset,
				Key:       rec.Key,
				Value:     rec.Value,
				Timestamp: rec.Timestamp,
			}

			hctx, cancel := context.WithTimeout(ctx, c.timeout)
			err := c.handler.Handle(hctx, msg)
			cancel()

			if err != nil {
				stalled[tp] = kgo.EpochOffset{Epoch: rec.LeaderEpoch, Offset: rec.Offset}
				c.logger.Warn("message handling failed, rewinding partition for redelivery",
					"topic", rec.Topic,
					"partition", rec.Partition,
					"offset", rec.Offset,
					"error", err,
				)
				return
			}
			c.client.MarkCommitRecords(rec)
		})

		if len(stalled) > 0 {
			c.rewind(stalled)
		}

		c.client.AllowRebalance()
	}
}

// rewind seeks stalled partitions back to their failed offsets, discarding
// any buffered records past them.
func (c *Consumer) rewind(stalled map[topicPartition]kgo.EpochOffset) {
	offsets := make(map[string]map[int32]kgo.EpochOffset, len(stalled))
	for tp, at := range stalled {
		if offsets[tp.topic] == nil {
			offsets[tp.topic] = make(map[int32]kgo.EpochOffset)
		}
		offsets[tp.topic][tp.partition] = at
	}
	c.client.SetOffsets(offsets)
}

// Close leaves the group and releases the client.
func (c *Consumer) Close() {
	c.client.Close()
}
