// Package refresher moves a searcher to the latest taxonomy generation and
// segment set, either when a commit event arrives or on a timer.
package refresher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/kafka"
)

// TaxonomySource is satisfied by *taxonomy.ReaderManager.
type TaxonomySource interface {
	MaybeRefresh(ctx context.Context) (bool, error)
}

// SegmentSource is satisfied by *segment.Catalog.
type SegmentSource interface {
	Refresh() (int, error)
}

// Invalidator is satisfied by *cache.FacetCache.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Result reports what one refresh changed.
type Result struct {
	TaxonomyChanged bool `json:"taxonomy_changed"`
	SegmentsAdded   int  `json:"segments_added"`
}

type Refresher struct {
	taxonomy TaxonomySource
	segments SegmentSource
	cache    Invalidator
	mu       sync.Mutex
	logger   *slog.Logger
}

// New builds a refresher. cache may be nil.
func New(taxonomy TaxonomySource, segments SegmentSource, cache Invalidator) *Refresher {
	return &Refresher{
		taxonomy: taxonomy,
		segments: segments,
		cache:    cache,
		logger:   slog.Default().With("component", "searcher-refresher"),
	}
}

// Refresh reopens the taxonomy before loading new segments, so every loaded
// segment was written against a generation the searcher can already see.
// Cached facet results are dropped when anything changed.
func (r *Refresher) Refresh(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result
	changed, err := r.taxonomy.MaybeRefresh(ctx)
	if err != nil {
		return res, fmt.Errorf("refreshing taxonomy: %w", err)
	}
	res.TaxonomyChanged = changed
	res.SegmentsAdded, err = r.segments.Refresh()
	if err != nil {
		return res, fmt.Errorf("refreshing segments: %w", err)
	}
	if !res.TaxonomyChanged && res.SegmentsAdded == 0 {
		return res, nil
	}
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx); err != nil {
			r.logger.Warn("facet cache invalidation failed", "error", err)
		}
	}
	r.logger.Info("searcher refreshed",
		"taxonomy_changed", res.TaxonomyChanged,
		"segments_added", res.SegmentsAdded,
	)
	return res, nil
}

// HandleMessage returns a Kafka MessageHandler refreshing on every taxonomy
// commit event. Undecodable events are logged and acknowledged.
func (r *Refresher) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[ingestion.TaxonomyCommitEvent](value)
		if err != nil {
			r.logger.Error("failed to decode taxonomy commit event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		r.logger.Debug("taxonomy commit received",
			"generation", event.Generation,
			"epoch", event.Epoch,
			"segment", event.Segment,
		)
		_, err = r.Refresh(ctx)
		return err
	}
}

// Start refreshes every interval until ctx is cancelled. A non-positive
// interval leaves refreshing to commit events.
func (r *Refresher) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.Refresh(ctx); err != nil {
					r.logger.Error("periodic refresh failed", "error", err)
				}
			}
		}
	}()
}
