package indexer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/facet/params"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/store"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

type fixture struct {
	dir    string
	taxDir *store.MemoryDirectory
	taxo   *taxonomy.Writer
	engine *Engine
}

func newFixture(t *testing.T, maxBuffered int, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{dir: t.TempDir(), taxDir: store.NewMemoryDirectory()}
	var err error
	f.taxo, err = taxonomy.OpenWriter(context.Background(), f.taxDir, taxonomy.CreateOrAppend)
	require.NoError(t, err)
	f.engine, err = NewEngine(config.IndexerConfig{
		DataDir:         f.dir,
		MaxBufferedDocs: maxBuffered,
		FlushInterval:   time.Hour,
	}, f.taxo, params.DefaultFacetIndexingParams(), opts...)
	require.NoError(t, err)
	return f
}

func paths(ss ...string) []category.Path {
	out := make([]category.Path, len(ss))
	for i, s := range ss {
		p, err := category.Parse(s, '/')
		if err != nil {
			panic(err)
		}
		out[i] = p
	}
	return out
}

func TestEngineFlushCommitsTaxonomyFirst(t *testing.T) {
	ctx := context.Background()
	var flushed []FlushResult
	f := newFixture(t, 0, WithFlushHook(func(_ context.Context, res FlushResult) {
		flushed = append(flushed, res)
	}))

	require.NoError(t, f.engine.IndexDocument(ctx, "d1", paths("Author/Bob", "Year/2010")))
	require.NoError(t, f.engine.IndexDocument(ctx, "d2", paths("Author/Lisa")))
	assert.Equal(t, Stats{BufferedDocs: 2}, f.engine.Stats())

	res, err := f.engine.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)
	assert.NotEmpty(t, res.Segment)
	assert.Equal(t, int32(6), res.TaxonomySize)
	require.Len(t, flushed, 1)
	assert.Equal(t, res, flushed[0])
	assert.Equal(t, Stats{Segments: 1, SegmentDocs: 2}, f.engine.Stats())

	r, err := taxonomy.Open(ctx, f.taxDir)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, res.TaxonomyGeneration, r.Generation())
	bob, err := r.GetOrdinal(category.MustNew("Author", "Bob"))
	require.NoError(t, err)

	seg, err := segment.OpenReader(filepath.Join(f.dir, res.Segment))
	require.NoError(t, err)
	defer seg.Close()
	assert.Equal(t, segment.Info{TaxonomyEpoch: r.Epoch(), TaxonomyGeneration: r.Generation()}, seg.Info())
	assert.Equal(t, r.Epoch(), res.TaxonomyEpoch)
	clp := params.DefaultCategoryListParams()
	it := clp.CreateCategoryListIterator(0)
	require.True(t, it.SetSource(seg))
	ords, err := it.Ordinals(0, nil)
	require.NoError(t, err)
	assert.Contains(t, ords, bob)

	docs, err := seg.Search(index.TermKey(clp.Field(), "Author"))
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, docs.ToArray())

	require.NoError(t, f.engine.Close(ctx))
	require.NoError(t, f.taxo.Close(ctx))
}

func TestEngineEmptyFlush(t *testing.T) {
	hooks := 0
	f := newFixture(t, 0, WithFlushHook(func(context.Context, FlushResult) { hooks++ }))
	res, err := f.engine.Flush(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Segment)
	assert.Zero(t, hooks)
	assert.Empty(t, f.engine.catalog.Readers())
}

func TestEngineFlushesWhenBufferIsFull(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	require.NoError(t, f.engine.IndexDocument(ctx, "d1", paths("a/b")))
	assert.Equal(t, 1, f.engine.Stats().BufferedDocs)
	require.NoError(t, f.engine.IndexDocument(ctx, "d2", paths("a/c")))
	assert.Equal(t, Stats{Segments: 1, SegmentDocs: 2}, f.engine.Stats())
}

func TestEngineKeepsDocumentsWhenFlushFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	require.NoError(t, f.engine.IndexDocument(ctx, "d1", paths("a/b")))
	require.NoError(t, f.taxo.Rollback())

	_, err := f.engine.Flush(ctx)
	assert.ErrorIs(t, err, apperrors.ErrObjectClosed)
	assert.Equal(t, Stats{BufferedDocs: 1}, f.engine.Stats())
}

func TestEngineRejectsInvalidDocument(t *testing.T) {
	f := newFixture(t, 0)
	err := f.engine.IndexDocument(context.Background(), "d1", []category.Path{category.Root})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	assert.Zero(t, f.engine.Stats().BufferedDocs)
}

func TestEngineRecoversSegments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	require.NoError(t, f.engine.IndexDocument(ctx, "d1", paths("a/b")))
	require.NoError(t, f.engine.Close(ctx))

	again, err := NewEngine(config.IndexerConfig{DataDir: f.dir, FlushInterval: time.Hour}, f.taxo, params.DefaultFacetIndexingParams())
	require.NoError(t, err)
	defer again.Close(ctx)
	assert.Equal(t, Stats{Segments: 1, SegmentDocs: 1}, again.Stats())
}

func TestEngineFlushLoopFlushesOnStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, 0)
	require.NoError(t, f.engine.IndexDocument(ctx, "d1", paths("a/b")))
	f.engine.StartFlushLoop(ctx)
	cancel()
	assert.Eventually(t, func() bool {
		return f.engine.Stats().Segments == 1
	}, 2*time.Second, 10*time.Millisecond)
}
