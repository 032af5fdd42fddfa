// Package indexer buffers facet documents, flushes them to segments and
// keeps the taxonomy commit in step with every segment it writes.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/facet/params"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/facets"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/metrics"
)

// FlushResult describes one completed flush.
type FlushResult struct {
	Segment            string
	Documents          int
	TaxonomyEpoch      int64
	TaxonomyGeneration int64
	TaxonomySize       int32
}

// FlushHook runs after a flush made a new segment durable.
type FlushHook func(ctx context.Context, res FlushResult)

type Option func(*Engine)

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithFlushHook registers fn to run after every flush that wrote a segment.
func WithFlushHook(fn FlushHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, fn) }
}

type Engine struct {
	memIndex *index.MemoryIndex
	writer   *segment.Writer
	catalog  *segment.Catalog
	taxo     *taxonomy.Writer
	builder  *facets.Builder
	cfg      config.IndexerConfig
	flushMu  sync.Mutex
	hooks    []FlushHook
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewEngine indexes into cfg.DataDir, assigning ordinals with taxo. The
// caller keeps ownership of taxo and closes it after the engine.
func NewEngine(cfg config.IndexerConfig, taxo *taxonomy.Writer, ip params.IndexingParams, opts ...Option) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	catalog, err := segment.OpenCatalog(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	e := &Engine{
		memIndex: index.NewMemoryIndex(),
		writer:   segment.NewWriter(cfg.DataDir),
		catalog:  catalog,
		taxo:     taxo,
		builder:  facets.NewBuilder(ip, taxo),
		cfg:      cfg,
		logger:   slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// IndexDocument assigns ordinals to the document's categories and buffers
// it. The buffer is flushed once it holds cfg.MaxBufferedDocs documents.
func (e *Engine) IndexDocument(ctx context.Context, docID string, categories []category.Path) error {
	fields, err := e.builder.Build(ctx, categories)
	if err != nil {
		return fmt.Errorf("building facet fields for %s: %w", docID, err)
	}
	e.memIndex.AddDocument(index.Document{
		ID:       docID,
		Terms:    fields.Terms,
		Payloads: fields.Payloads,
	})
	e.metrics.ObserveDocsIndexed(1)
	e.logger.Debug("document indexed in memory",
		"doc_id", docID,
		"categories", len(categories),
		"mem_size", e.memIndex.Size(),
	)
	if e.cfg.MaxBufferedDocs > 0 && e.memIndex.DocCount() >= e.cfg.MaxBufferedDocs {
		e.logger.Info("memory index reached max size, flushing to disk",
			"docs", e.memIndex.DocCount(),
			"threshold", e.cfg.MaxBufferedDocs,
		)
		if _, err := e.Flush(ctx); err != nil {
			return fmt.Errorf("flushing memory index: %w", err)
		}
	}
	return nil
}

// Flush commits the taxonomy and then writes buffered documents to a new
// segment, so no segment ever references an uncommitted ordinal. On failure
// the documents stay buffered for the next attempt.
func (e *Engine) Flush(ctx context.Context) (FlushResult, error) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	snap := e.memIndex.Drain()
	res, err := e.flushSnapshot(ctx, snap)
	if len(snap.DocIDs) > 0 || err != nil {
		e.metrics.ObserveFlush(err)
	}
	if err != nil {
		e.memIndex.Requeue(snap)
		return FlushResult{}, err
	}
	if res.Segment == "" {
		return res, nil
	}
	e.logger.Info("segment flushed",
		"segment", res.Segment,
		"docs", res.Documents,
		"taxonomy_generation", res.TaxonomyGeneration,
		"taxonomy_size", res.TaxonomySize,
	)
	for _, hook := range e.hooks {
		hook(ctx, res)
	}
	return res, nil
}

func (e *Engine) flushSnapshot(ctx context.Context, snap index.Snapshot) (FlushResult, error) {
	if err := e.taxo.Commit(ctx); err != nil {
		return FlushResult{}, fmt.Errorf("committing taxonomy: %w", err)
	}
	if len(snap.DocIDs) == 0 {
		return FlushResult{}, nil
	}
	size, err := e.taxo.Size()
	if err != nil {
		return FlushResult{}, err
	}
	res := FlushResult{
		Documents:          len(snap.DocIDs),
		TaxonomyEpoch:      e.taxo.Epoch(),
		TaxonomyGeneration: e.taxo.Generation(),
		TaxonomySize:       size,
	}
	res.Segment, err = e.writer.Write(snap, segment.Info{
		TaxonomyEpoch:      res.TaxonomyEpoch,
		TaxonomyGeneration: res.TaxonomyGeneration,
	})
	if err != nil {
		return FlushResult{}, fmt.Errorf("writing segment: %w", err)
	}
	reader, err := segment.OpenReader(filepath.Join(e.cfg.DataDir, res.Segment))
	if err != nil {
		return FlushResult{}, fmt.Errorf("opening new segment for reading: %w", err)
	}
	e.catalog.Add(reader)
	return res, nil
}

// Stats summarises the engine for health checks and logs.
type Stats struct {
	BufferedDocs int    `json:"buffered_docs"`
	Segments     int    `json:"segments"`
	SegmentDocs  uint64 `json:"segment_docs"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		BufferedDocs: e.memIndex.DocCount(),
		Segments:     len(e.catalog.Readers()),
		SegmentDocs:  e.catalog.DocCount(),
	}
}

// StartFlushLoop flushes every cfg.FlushInterval until ctx is cancelled,
// then flushes once more.
func (e *Engine) StartFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.FlushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("flush loop stopping, performing final flush")
				if _, err := e.Flush(context.WithoutCancel(ctx)); err != nil {
					e.logger.Error("final flush failed", "error", err)
				}
				return
			case <-ticker.C:
				if e.memIndex.DocCount() > 0 {
					if _, err := e.Flush(ctx); err != nil {
						e.logger.Error("periodic flush failed", "error", err)
					}
				}
			}
		}
	}()
}

// Close flushes what is buffered and closes every segment.
func (e *Engine) Close(ctx context.Context) error {
	_, flushErr := e.Flush(ctx)
	if flushErr != nil {
		e.logger.Error("final flush on close failed", "error", flushErr)
	}
	return errors.Join(flushErr, e.catalog.Close())
}
