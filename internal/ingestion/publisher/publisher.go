// Package publisher announces taxonomy commits on Kafka so searchers can
// move to the new generation.
package publisher

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/resilience"
)

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher turns flush results into TaxonomyCommitEvents.
type Publisher struct {
	producer EventPublisher
	retry    resilience.RetryConfig
	logger   *slog.Logger
}

func New(producer EventPublisher) *Publisher {
	return &Publisher{
		producer: producer,
		retry: resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		logger: slog.Default().With("component", "commit-publisher"),
	}
}

// OnFlush is an indexer.FlushHook. Events are keyed by epoch so one
// partition sees every commit of an epoch in order. Failures are logged;
// searchers also refresh on a timer.
func (p *Publisher) OnFlush(ctx context.Context, res indexer.FlushResult) {
	event := kafka.Event{
		Key: strconv.FormatInt(res.TaxonomyEpoch, 16),
		Value: ingestion.TaxonomyCommitEvent{
			Generation:  res.TaxonomyGeneration,
			Epoch:       res.TaxonomyEpoch,
			Size:        res.TaxonomySize,
			Segment:     res.Segment,
			Documents:   res.Documents,
			CommittedAt: time.Now().UTC(),
		},
	}
	err := resilience.Retry(ctx, "publish-taxonomy-commit", p.retry, func() error {
		return p.producer.Publish(ctx, event)
	})
	if err != nil {
		p.logger.Error("failed to publish taxonomy commit, searchers will pick it up on their next refresh",
			"generation", res.TaxonomyGeneration,
			"segment", res.Segment,
			"error", err,
		)
		return
	}
	p.logger.Info("taxonomy commit published",
		"generation", res.TaxonomyGeneration,
		"epoch", res.TaxonomyEpoch,
		"segment", res.Segment,
	)
}
