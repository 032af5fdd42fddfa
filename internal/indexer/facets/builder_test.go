package facets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/facet/params"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

func newWriter(t *testing.T) *taxonomy.Writer {
	t.Helper()
	w, err := taxonomy.OpenWriter(context.Background(), store.NewMemoryDirectory(), taxonomy.CreateOrAppend)
	require.NoError(t, err)
	t.Cleanup(func() { w.Rollback() })
	return w
}

func indexingParams(t *testing.T, partitionSize int32, opts ...params.Option) *params.FacetIndexingParams {
	t.Helper()
	ip, err := params.NewFacetIndexingParams(params.NewCategoryListParams(params.DefaultField, opts...), partitionSize, params.DefaultDelimiter)
	require.NoError(t, err)
	return ip
}

func decode(t *testing.T, clp params.CategoryListParams, data []byte) []int32 {
	t.Helper()
	out, err := clp.NewDecoder().Decode(nil, data)
	require.NoError(t, err)
	return out
}

func term(field string, parts ...string) string {
	p := category.MustNew(parts...)
	return index.TermKey(field, p.Delimited(params.DefaultDelimiter))
}

func TestBuildAppliesOrdinalPolicy(t *testing.T) {
	cases := []struct {
		policy params.OrdinalPolicy
		want   []int32
	}{
		{params.AllButDimension, []int32{2, 3}},
		{params.AllParents, []int32{1, 2, 3}},
		{params.NoParents, []int32{3}},
	}
	for _, tc := range cases {
		t.Run(tc.policy.String(), func(t *testing.T) {
			ip := indexingParams(t, params.DefaultPartitionSize, params.WithOrdinalPolicy(tc.policy))
			b := NewBuilder(ip, newWriter(t))

			// 1 Author, 2 Author/Bob, 3 Author/Bob/Jr
			fields, err := b.Build(context.Background(), []category.Path{category.MustNew("Author", "Bob", "Jr")})
			require.NoError(t, err)
			require.Contains(t, fields.Payloads, params.DefaultField)
			clp := ip.CategoryListParams(category.Root)
			assert.Equal(t, tc.want, decode(t, clp, fields.Payloads[params.DefaultField]))
			assert.Equal(t, []string{
				term(params.DefaultField, "Author"),
				term(params.DefaultField, "Author", "Bob"),
				term(params.DefaultField, "Author", "Bob", "Jr"),
			}, fields.Terms)
		})
	}
}

func TestBuildKeepsDimensionCategory(t *testing.T) {
	ip := params.DefaultFacetIndexingParams()
	b := NewBuilder(ip, newWriter(t))
	fields, err := b.Build(context.Background(), []category.Path{category.MustNew("Author")})
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, decode(t, ip.CategoryListParams(category.Root), fields.Payloads[params.DefaultField]))
}

func TestBuildSharesAncestors(t *testing.T) {
	ip := indexingParams(t, params.DefaultPartitionSize, params.WithOrdinalPolicy(params.AllParents))
	b := NewBuilder(ip, newWriter(t))
	fields, err := b.Build(context.Background(), []category.Path{
		category.MustNew("Author", "Bob"),
		category.MustNew("Author", "Lisa"),
	})
	require.NoError(t, err)
	// the encoder sorts and drops the repeated Author ordinal
	assert.Equal(t, []int32{1, 2, 3}, decode(t, ip.CategoryListParams(category.Root), fields.Payloads[params.DefaultField]))
	assert.Len(t, fields.Terms, 3)
}

func TestBuildSplitsPartitions(t *testing.T) {
	ip := indexingParams(t, 2, params.WithOrdinalPolicy(params.AllParents))
	b := NewBuilder(ip, newWriter(t))
	// 1 a, 2 a/b, 3 a/b/c
	fields, err := b.Build(context.Background(), []category.Path{category.MustNew("a", "b", "c")})
	require.NoError(t, err)
	clp := ip.CategoryListParams(category.Root)
	assert.Equal(t, []int32{1}, decode(t, clp, fields.Payloads[clp.FieldName(0)]))
	assert.Equal(t, []int32{2, 3}, decode(t, clp, fields.Payloads[clp.FieldName(1)]))
	assert.Equal(t, "$facets$part1", clp.FieldName(1))
}

func TestBuildRoutesDimensions(t *testing.T) {
	base := params.DefaultFacetIndexingParams()
	years := params.NewCategoryListParams("$years", params.WithOrdinalPolicy(params.NoParents))
	ip := params.NewPerDimensionIndexingParams(base, map[string]params.CategoryListParams{"Year": years})
	b := NewBuilder(ip, newWriter(t))

	// 1 Author, 2 Author/Bob, 3 Year, 4 Year/2010
	fields, err := b.Build(context.Background(), []category.Path{
		category.MustNew("Author", "Bob"),
		category.MustNew("Year", "2010"),
	})
	require.NoError(t, err)
	assert.Equal(t, []int32{2}, decode(t, base.CategoryListParams(category.Root), fields.Payloads[params.DefaultField]))
	assert.Equal(t, []int32{4}, decode(t, years, fields.Payloads["$years"]))
	assert.Contains(t, fields.Terms, term("$years", "Year", "2010"))
	assert.Contains(t, fields.Terms, term(params.DefaultField, "Author", "Bob"))
}

func TestBuildRejectsBadCategories(t *testing.T) {
	b := NewBuilder(params.DefaultFacetIndexingParams(), newWriter(t))
	_, err := b.Build(context.Background(), []category.Path{category.Root})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = b.Build(context.Background(), []category.Path{category.MustNew("a", "b\u001Fc")})
	assert.ErrorIs(t, err, apperrors.ErrInvalidCategoryPath)
}

func TestDrillDownTerm(t *testing.T) {
	ip := params.DefaultFacetIndexingParams()
	got, err := DrillDownTerm(ip, category.MustNew("Author", "Bob"))
	require.NoError(t, err)
	assert.Equal(t, term(params.DefaultField, "Author", "Bob"), got)

	_, err = DrillDownTerm(ip, category.Root)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}
