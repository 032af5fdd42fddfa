// Package kafka provides the producer and consumer used to move facet
// documents to the indexer and taxonomy commit events to the searchers,
// backed by segmentio/kafka-go. Events are JSON encoded.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/resilience"
)

// MessageHandler is a callback invoked for each Kafka message. Returning an
// error retries the message; returning a resilience.Permanent error skips
// it.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	groupID     string
	startOffset int64
	retry       resilience.RetryConfig
}

// WithGroupID overrides cfg.ConsumerGroup. Searchers use one group per
// instance so every instance sees every taxonomy commit.
func WithGroupID(id string) ConsumerOption {
	return func(o *consumerOptions) { o.groupID = id }
}

// FromBeginning makes a new consumer group start at the oldest retained
// message instead of the newest.
func FromBeginning() ConsumerOption {
	return func(o *consumerOptions) { o.startOffset = kafka.FirstOffset }
}

// WithRetry sets the backoff for failed handler calls.
func WithRetry(cfg resilience.RetryConfig) ConsumerOption {
	return func(o *consumerOptions) { o.retry = cfg }
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler. A message is committed once handled or skipped, so a
// restart resumes after the last handled message.
type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	o := consumerOptions{
		groupID:     cfg.ConsumerGroup,
		startOffset: kafka.LastOffset,
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     o.groupID,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: o.startOffset,
	})
	c := newConsumer(r, handler, o.retry)
	c.logger = c.logger.With("topic", topic, "group", o.groupID)
	return c
}

func newConsumer(r messageReader, handler MessageHandler, retry resilience.RetryConfig) *Consumer {
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = 100 * time.Millisecond
	}
	if retry.MaxDelay < retry.InitialDelay {
		retry.MaxDelay = 10 * retry.InitialDelay
	}
	return &Consumer{
		reader:  r,
		logger:  slog.Default().With("component", "kafka-consumer"),
		handler: handler,
		retry:   retry,
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled. A message whose handler keeps failing after the retry
// budget is logged and committed so one bad message cannot stall the
// partition.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	fetchBackoff := c.retry.InitialDelay
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err, "backoff", fetchBackoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchBackoff):
			}
			fetchBackoff = min(2*fetchBackoff, c.retry.MaxDelay)
			continue
		}
		fetchBackoff = c.retry.InitialDelay

		c.logger.Debug("message received",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
			"value_size", len(msg.Value),
		)
		err = resilience.Retry(ctx, "handle kafka message", c.retry, func() error {
			return c.handler(ctx, msg.Key, msg.Value)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("skipping message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"permanent", resilience.IsPermanent(err),
				"error", err,
			)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a Kafka message value into T. Decode failures are
// marked resilience.Permanent since redelivery cannot fix them.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, resilience.Permanent(fmt.Errorf("decoding kafka message: %w", err))
	}
	return result, nil
}
