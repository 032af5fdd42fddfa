// Package consumer reads facet document events from Kafka and indexes them
// via the indexer engine.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/kafka"
)

// Indexer is the part of indexer.Engine the consumer drives.
type Indexer interface {
	IndexDocument(ctx context.Context, docID string, categories []category.Path) error
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that indexes every facet
// document event. Events that can never be indexed are logged and
// acknowledged; indexing failures are returned so the message is retried.
func HandleMessage(engine Indexer) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.FacetDocumentEvent](value)
		if err != nil {
			logger.Error("failed to decode facet document event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		categories, err := ParseCategories(event.Categories)
		if err != nil {
			logger.Error("dropping document with invalid categories",
				"doc_id", event.DocumentID,
				"error", err,
			)
			return nil
		}
		if err := engine.IndexDocument(ctx, event.DocumentID, categories); err != nil {
			return fmt.Errorf("indexing document %s: %w", event.DocumentID, err)
		}
		logger.Debug("document indexed",
			"doc_id", event.DocumentID,
			"categories", len(categories),
		)
		return nil
	}
}

// ParseCategories parses '/'-separated category paths. Empty paths are
// rejected.
func ParseCategories(raw []string) ([]category.Path, error) {
	out := make([]category.Path, 0, len(raw))
	for _, s := range raw {
		p, err := category.Parse(s, '/')
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", s, err)
		}
		if p.IsRoot() {
			return nil, fmt.Errorf("category %q: empty path", s)
		}
		out = append(out, p)
	}
	return out, nil
}
