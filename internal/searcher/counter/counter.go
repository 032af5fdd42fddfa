// Package counter aggregates facet counts over the documents matching a
// drill-down query and reports the top children of requested categories.
package counter

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/facet/params"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/facets"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// sparseFactor selects sparse counts when the taxonomy has more than
// sparseFactor ordinals per matching document.
const sparseFactor = 16

// Segment is one searchable unit. *segment.Reader satisfies it.
type Segment interface {
	params.PayloadSource
	Name() string
	Info() segment.Info
	Search(term string) (*roaring.Bitmap, error)
	AllDocs() *roaring.Bitmap
}

// Taxonomy is the read view the counter resolves ordinals with.
// *taxonomy.Reader satisfies it.
type Taxonomy interface {
	Epoch() int64
	Generation() int64
	GetOrdinal(p category.Path) (int32, error)
	GetPath(ordinal int32) (category.Path, bool, error)
	ParallelArrays() (*taxonomy.ParallelArrays, error)
}

// FacetRequest asks for the TopN children of Path. TopN <= 0 returns every
// child with a non-zero count.
type FacetRequest struct {
	Path category.Path
	TopN int
}

// Request counts the documents matching every DrillDown path.
type Request struct {
	DrillDown []category.Path
	Facets    []FacetRequest
}

type LabelCount struct {
	Label   string `json:"label"`
	Ordinal int32  `json:"ordinal"`
	Count   int64  `json:"count"`
}

// FacetResult holds the value of a requested category and its top
// children. Value is -1 when the dimension's count is not indexed.
type FacetResult struct {
	Path     string       `json:"path"`
	Ordinal  int32        `json:"ordinal"`
	Value    int64        `json:"value"`
	Children []LabelCount `json:"children"`
}

type Result struct {
	TaxonomyEpoch      int64         `json:"taxonomy_epoch"`
	TaxonomyGeneration int64         `json:"taxonomy_generation"`
	TotalHits          uint64        `json:"total_hits"`
	Segments           int           `json:"segments"`
	SkippedSegments    int           `json:"skipped_segments"`
	Facets             []FacetResult `json:"facets"`
}

type Option func(*Counter)

// WithParallelism bounds the number of segments counted at once.
func WithParallelism(n int) Option {
	return func(c *Counter) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

type Counter struct {
	ip          params.IndexingParams
	parallelism int
	logger      *slog.Logger
}

func New(ip params.IndexingParams, opts ...Option) *Counter {
	c := &Counter{
		ip:          ip,
		parallelism: runtime.GOMAXPROCS(0),
		logger:      slog.Default().With("component", "facet-counter"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type segmentHits struct {
	seg  Segment
	hits *roaring.Bitmap
}

// Count evaluates req against segs using the ordinals of tax. Segments
// written under another taxonomy epoch are skipped, and ordinals the
// taxonomy does not know yet are ignored.
func (c *Counter) Count(ctx context.Context, tax Taxonomy, segs []Segment, req Request) (*Result, error) {
	if len(req.Facets) == 0 {
		return nil, fmt.Errorf("%w: no facet requested", apperrors.ErrInvalidArgument)
	}
	terms := make([]string, 0, len(req.DrillDown))
	for _, p := range req.DrillDown {
		term, err := facets.DrillDownTerm(c.ip, p)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	ords := make([]int32, len(req.Facets))
	for i, fr := range req.Facets {
		if fr.Path.IsRoot() {
			return nil, fmt.Errorf("%w: facet path must not be empty", apperrors.ErrInvalidArgument)
		}
		ord, err := tax.GetOrdinal(fr.Path)
		if err != nil {
			return nil, err
		}
		if ord == taxonomy.InvalidOrdinal {
			return nil, fmt.Errorf("%w: category %s", apperrors.ErrNotFound, fr.Path)
		}
		ords[i] = ord
	}
	arrays, err := tax.ParallelArrays()
	if err != nil {
		return nil, err
	}
	size := int32(arrays.Size())

	res := &Result{
		TaxonomyEpoch:      tax.Epoch(),
		TaxonomyGeneration: tax.Generation(),
	}
	live := make([]Segment, 0, len(segs))
	for _, seg := range segs {
		if seg.Info().TaxonomyEpoch != res.TaxonomyEpoch {
			res.SkippedSegments++
			c.logger.Debug("skipping segment from another taxonomy epoch",
				"segment", seg.Name(),
				"segment_epoch", seg.Info().TaxonomyEpoch,
				"epoch", res.TaxonomyEpoch,
			)
			continue
		}
		live = append(live, seg)
	}
	res.Segments = len(live)

	matched, err := c.matchAll(ctx, live, terms)
	if err != nil {
		return nil, err
	}
	for _, m := range matched {
		res.TotalHits += m.hits.GetCardinality()
	}

	var total counts
	if uint64(size) > sparseFactor*res.TotalHits {
		total = newSparseCounts(int(res.TotalHits))
	} else {
		total = make(denseCounts, size)
	}
	if err := c.countAll(ctx, matched, req, size, total); err != nil {
		return nil, err
	}

	res.Facets = make([]FacetResult, len(req.Facets))
	for i, fr := range req.Facets {
		res.Facets[i], err = c.facetResult(tax, arrays, total, fr, ords[i])
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (c *Counter) matchAll(ctx context.Context, segs []Segment, terms []string) ([]segmentHits, error) {
	out := make([]segmentHits, len(segs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, seg := range segs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hits, err := match(seg, terms)
			if err != nil {
				return fmt.Errorf("matching segment %s: %w", seg.Name(), err)
			}
			out[i] = segmentHits{seg: seg, hits: hits}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func match(seg Segment, terms []string) (*roaring.Bitmap, error) {
	if len(terms) == 0 {
		return seg.AllDocs(), nil
	}
	postings := make([]*roaring.Bitmap, 0, len(terms))
	for _, term := range terms {
		bm, err := seg.Search(term)
		if err != nil {
			return nil, err
		}
		if bm.IsEmpty() {
			return bm, nil
		}
		postings = append(postings, bm)
	}
	return roaring.FastAnd(postings...), nil
}

// fieldIterators returns one iterator per physical field the requested
// facets can be stored in, across every partition of the taxonomy.
func (c *Counter) fieldIterators(req Request, size int32) []*params.CategoryListIterator {
	partitions := int((size-1)/c.ip.PartitionSize()) + 1
	seen := make(map[string]struct{})
	var out []*params.CategoryListIterator
	for _, fr := range req.Facets {
		clp := c.ip.CategoryListParams(fr.Path)
		for p := 0; p < partitions; p++ {
			it := clp.CreateCategoryListIterator(p)
			if _, ok := seen[it.Field()]; ok {
				continue
			}
			seen[it.Field()] = struct{}{}
			out = append(out, it)
		}
	}
	return out
}

func (c *Counter) countAll(ctx context.Context, matched []segmentHits, req Request, size int32, total counts) error {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for _, m := range matched {
		if m.hits.IsEmpty() {
			continue
		}
		g.Go(func() error {
			local := total.empty(int(m.hits.GetCardinality()))
			if err := countSegment(ctx, m, c.fieldIterators(req, size), size, local); err != nil {
				return fmt.Errorf("counting segment %s: %w", m.seg.Name(), err)
			}
			mu.Lock()
			defer mu.Unlock()
			local.each(total.add)
			return nil
		})
	}
	return g.Wait()
}

func countSegment(ctx context.Context, m segmentHits, iters []*params.CategoryListIterator, size int32, cnt counts) error {
	for _, it := range iters {
		it.SetSource(m.seg)
	}
	var (
		buf []int32
		err error
		n   int
	)
	docs := m.hits.Iterator()
	for docs.HasNext() {
		doc := docs.Next()
		if n++; n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for _, it := range iters {
			buf, err = it.Ordinals(doc, buf[:0])
			if err != nil {
				return err
			}
			for _, o := range buf {
				if o > taxonomy.RootOrdinal && o < size {
					cnt.add(o, 1)
				}
			}
		}
	}
	return nil
}

func (c *Counter) facetResult(tax Taxonomy, arrays *taxonomy.ParallelArrays, cnt counts, fr FacetRequest, ord int32) (FacetResult, error) {
	policy := c.ip.CategoryListParams(fr.Path).OrdinalPolicy(fr.Path.Dimension())
	children, siblings := arrays.Children(), arrays.Siblings()

	value := cnt.get
	if policy == params.NoParents {
		var rollup func(o int32) int64
		rollup = func(o int32) int64 {
			v := cnt.get(o)
			for ch := children[o]; ch != taxonomy.InvalidOrdinal; ch = siblings[ch] {
				v += rollup(ch)
			}
			return v
		}
		value = rollup
	}

	res := FacetResult{
		Path:     fr.Path.Delimited('/'),
		Ordinal:  ord,
		Value:    value(ord),
		Children: []LabelCount{},
	}
	if policy == params.AllButDimension && fr.Path.Len() == 1 {
		res.Value = -1
	}
	for ch := children[ord]; ch != taxonomy.InvalidOrdinal; ch = siblings[ch] {
		if v := value(ch); v > 0 {
			res.Children = append(res.Children, LabelCount{Ordinal: ch, Count: v})
		}
	}
	slices.SortFunc(res.Children, func(a, b LabelCount) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Ordinal, b.Ordinal)
	})
	if fr.TopN > 0 && len(res.Children) > fr.TopN {
		res.Children = res.Children[:fr.TopN]
	}
	for i := range res.Children {
		p, ok, err := tax.GetPath(res.Children[i].Ordinal)
		if err != nil {
			return FacetResult{}, err
		}
		if ok {
			res.Children[i].Label = p.Component(p.Len() - 1)
		}
	}
	return res, nil
}
