// Package facets turns the categories of a document into what the index
// stores for it: encoded ordinal lists per category list field and
// drill-down terms.
package facets

import (
	"context"
	"fmt"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/facet/params"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// TaxonomyWriter assigns ordinals. *taxonomy.Writer implements it.
type TaxonomyWriter interface {
	AddCategory(ctx context.Context, p category.Path) (int32, error)
	GetParent(ctx context.Context, ordinal int32) (int32, error)
}

// Fields is the indexed form of one document's categories.
type Fields struct {
	// Terms are index.TermKey values, one per category prefix.
	Terms []string
	// Payloads maps a physical field to its encoded ordinals.
	Payloads map[string][]byte
}

// Builder is safe for concurrent use when its TaxonomyWriter is.
type Builder struct {
	params params.IndexingParams
	taxo   TaxonomyWriter
}

func NewBuilder(ip params.IndexingParams, taxo TaxonomyWriter) *Builder {
	return &Builder{params: ip, taxo: taxo}
}

type fieldList struct {
	clp      params.CategoryListParams
	ordinals []int32
}

// Build adds every category to the taxonomy and lays out the document's
// ordinals according to each category's list params, ordinal policy and
// partition.
func (b *Builder) Build(ctx context.Context, categories []category.Path) (Fields, error) {
	lists := make(map[string]*fieldList)
	terms := make(map[string]struct{})
	parent := func(ord int32) (int32, error) { return b.taxo.GetParent(ctx, ord) }

	var scratch []int32
	for _, cp := range categories {
		if cp.IsRoot() {
			return Fields{}, fmt.Errorf("%w: a document cannot be assigned the root category", apperrors.ErrInvalidArgument)
		}
		ord, err := b.taxo.AddCategory(ctx, cp)
		if err != nil {
			return Fields{}, fmt.Errorf("adding category %v: %w", cp, err)
		}
		clp := b.params.CategoryListParams(cp)
		policy := clp.OrdinalPolicy(cp.Dimension())
		scratch, err = policy.AppendOrdinals(scratch[:0], ord, parent)
		if err != nil {
			return Fields{}, fmt.Errorf("resolving ancestors of %v: %w", cp, err)
		}
		for _, o := range scratch {
			field := clp.FieldName(params.PartitionOf(b.params, o))
			l, ok := lists[field]
			if !ok {
				l = &fieldList{clp: clp}
				lists[field] = l
			}
			l.ordinals = append(l.ordinals, o)
		}

		for n := 1; n <= cp.Len(); n++ {
			text, err := b.params.DrillDownTermText(cp.Subpath(n))
			if err != nil {
				return Fields{}, err
			}
			terms[index.TermKey(clp.Field(), text)] = struct{}{}
		}
	}

	out := Fields{
		Terms:    make([]string, 0, len(terms)),
		Payloads: make(map[string][]byte, len(lists)),
	}
	for term := range terms {
		out.Terms = append(out.Terms, term)
	}
	slices.Sort(out.Terms)
	for field, l := range lists {
		data, err := l.clp.NewEncoder().Encode(nil, l.ordinals)
		if err != nil {
			return Fields{}, fmt.Errorf("encoding %s: %w", field, err)
		}
		out.Payloads[field] = data
	}
	return out, nil
}

// DrillDownTerm returns the term key matching documents in p or any of its
// descendants.
func DrillDownTerm(ip params.IndexingParams, p category.Path) (string, error) {
	if p.IsRoot() {
		return "", fmt.Errorf("%w: drill-down path must not be empty", apperrors.ErrInvalidArgument)
	}
	text, err := ip.DrillDownTermText(p)
	if err != nil {
		return "", err
	}
	return index.TermKey(ip.CategoryListParams(p).Field(), text), nil
}
