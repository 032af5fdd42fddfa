package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/intcodec"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// parents of a small tree: 1=a 2=a/b 3=a/b/c 4=d
var testParents = map[int32]int32{0: -1, 1: 0, 2: 1, 3: 2, 4: 0}

func parentOf(o int32) (int32, error) { return testParents[o], nil }

func TestOrdinalPolicyAppendOrdinals(t *testing.T) {
	tests := []struct {
		policy  OrdinalPolicy
		ordinal int32
		want    []int32
	}{
		{NoParents, 3, []int32{3}},
		{AllParents, 3, []int32{3, 2, 1}},
		{AllButDimension, 3, []int32{3, 2}},
		{AllButDimension, 2, []int32{2}},
		// a dimension keeps itself under every policy
		{AllButDimension, 4, []int32{4}},
		{AllParents, 4, []int32{4}},
	}
	for _, tt := range tests {
		got, err := tt.policy.AppendOrdinals(nil, tt.ordinal, parentOf)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s of %d", tt.policy, tt.ordinal)
	}
}

func TestParseOrdinalPolicy(t *testing.T) {
	for in, want := range map[string]OrdinalPolicy{
		"":                   AllButDimension,
		"all-parents":        AllParents,
		"NO_PARENTS":         NoParents,
		" all_but_dimension": AllButDimension,
	} {
		got, err := ParseOrdinalPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		if in != "" {
			assert.Equal(t, got, must(ParseOrdinalPolicy(got.String())))
		}
	}
	_, err := ParseOrdinalPolicy("SOME_PARENTS")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func must(p OrdinalPolicy, err error) OrdinalPolicy {
	if err != nil {
		panic(err)
	}
	return p
}

func TestCategoryListParamsDefaults(t *testing.T) {
	clp := DefaultCategoryListParams()
	assert.Equal(t, DefaultField, clp.Field())
	assert.Equal(t, AllButDimension, clp.OrdinalPolicy("anything"))
	assert.Equal(t, intcodec.Default().String(), clp.NewEncoder().String())
	assert.Equal(t, "$facets", clp.FieldName(0))
	assert.Equal(t, "$facets$part3", clp.FieldName(3))
	assert.Equal(t, "$facets$part3", clp.CreateCategoryListIterator(3).Field())
}

func TestCategoryListParamsEquality(t *testing.T) {
	a := NewCategoryListParams("f", WithOrdinalPolicy(NoParents))
	b := NewCategoryListParams("f", WithOrdinalPolicy(NoParents))
	c := NewCategoryListParams("f", WithOrdinalPolicy(AllParents))
	d := NewCategoryListParams("g", WithOrdinalPolicy(NoParents))
	e := NewCategoryListParams("f", WithOrdinalPolicy(NoParents), WithEncoder(func() intcodec.Encoder { return intcodec.VInt8{} }))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.False(t, a.Equal(e))
}

func TestPerDimensionPolicies(t *testing.T) {
	clp := NewCategoryListParams("", WithDimensionPolicies(map[string]OrdinalPolicy{"Date": NoParents}))
	assert.Equal(t, NoParents, clp.OrdinalPolicy("Date"))
	assert.Equal(t, AllButDimension, clp.OrdinalPolicy("Author"))
}

func TestDrillDownTermText(t *testing.T) {
	fip, err := NewFacetIndexingParams(DefaultCategoryListParams(), 0, '/')
	require.NoError(t, err)

	text, err := fip.DrillDownTermText(category.MustNew("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "a/b", text)

	_, err = fip.DrillDownTermText(category.MustNew("a/b"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidCategoryPath)

	text, err = DefaultFacetIndexingParams().DrillDownTermText(category.MustNew("x", "y"))
	require.NoError(t, err)
	assert.Equal(t, "x\u001Fy", text)

	_, err = NewFacetIndexingParams(DefaultCategoryListParams(), 0, category.Escape)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestPartitions(t *testing.T) {
	fip, err := NewFacetIndexingParams(DefaultCategoryListParams(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, PartitionOf(fip, 9))
	assert.Equal(t, 1, PartitionOf(fip, 10))
	assert.Equal(t, 12, PartitionOf(fip, 129))
	assert.Equal(t, "", PartitionName(0))
	assert.Equal(t, "$part12", PartitionName(12))

	assert.Equal(t, 0, PartitionOf(DefaultFacetIndexingParams(), 1<<30))
}

func TestPerDimensionIndexingParams(t *testing.T) {
	authors := NewCategoryListParams("$authors", WithOrdinalPolicy(AllParents))
	pdip := NewPerDimensionIndexingParams(DefaultFacetIndexingParams(), map[string]CategoryListParams{
		"Author": authors,
		"Writer": authors,
	})

	assert.True(t, authors.Equal(pdip.CategoryListParams(category.MustNew("Author", "Bob"))))
	assert.Equal(t, DefaultField, pdip.CategoryListParams(category.MustNew("Date", "2010")).Field())
	assert.Equal(t, DefaultField, pdip.CategoryListParams(category.Root).Field())

	all := pdip.AllCategoryListParams()
	require.Len(t, all, 2)
	assert.Equal(t, DefaultField, all[0].Field())
	assert.Equal(t, "$authors", all[1].Field())

	// inherited from the embedded default
	assert.Equal(t, rune(DefaultDelimiter), pdip.Delimiter())
}

type mapSource map[string][]byte

func (m mapSource) Payload(docID uint32, field string) ([]byte, bool) {
	b, ok := m[field]
	return b, ok && docID == 7
}

func TestCategoryListIterator(t *testing.T) {
	clp := DefaultCategoryListParams()
	payload, err := clp.NewEncoder().Encode(nil, []int32{5, 2, 9})
	require.NoError(t, err)

	it := clp.CreateCategoryListIterator(0)
	got, err := it.Ordinals(7, nil)
	require.NoError(t, err)
	assert.Empty(t, got, "no source yet")

	require.True(t, it.SetSource(mapSource{"$facets": payload}))
	got, err = it.Ordinals(7, nil)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 5, 9}, got)

	got, err = it.Ordinals(8, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	it.SetSource(mapSource{"$facets": payload[:0:0]})
	got, err = it.Ordinals(7, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	it.SetSource(mapSource{"$facets": {0x81}})
	_, err = it.Ordinals(7, nil)
	assert.ErrorIs(t, err, apperrors.ErrCorruptData)
}

func TestFromConfig(t *testing.T) {
	ip, err := FromConfig(config.FacetsConfig{
		IndexField:    "$facets",
		PartitionSize: 100,
		OrdinalPolicy: "ALL_PARENTS",
		Delimiter:     "/",
		Dimensions: map[string]config.DimensionConfig{
			"Date":   {OrdinalPolicy: "NO_PARENTS"},
			"Author": {IndexField: "$authors"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(100), ip.PartitionSize())
	assert.Equal(t, '/', ip.Delimiter())

	date := ip.CategoryListParams(category.MustNew("Date", "2010"))
	assert.Equal(t, "$facets", date.Field())
	assert.Equal(t, NoParents, date.OrdinalPolicy("Date"))
	assert.Equal(t, AllParents, date.OrdinalPolicy("Topic"))

	author := ip.CategoryListParams(category.MustNew("Author", "Bob"))
	assert.Equal(t, "$authors", author.Field())
	assert.Equal(t, AllParents, author.OrdinalPolicy("Author"))

	simple, err := FromConfig(config.FacetsConfig{})
	require.NoError(t, err)
	_, ok := simple.(*FacetIndexingParams)
	assert.True(t, ok)
	assert.Equal(t, rune(DefaultDelimiter), simple.Delimiter())

	_, err = FromConfig(config.FacetsConfig{OrdinalPolicy: "bogus"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	for _, delim := range []string{"ab", "\xff", "/\xff"} {
		_, err = FromConfig(config.FacetsConfig{Delimiter: delim})
		assert.ErrorIs(t, err, apperrors.ErrInvalidArgument, "delimiter %q", delim)
	}
	withRune, err := FromConfig(config.FacetsConfig{Delimiter: "\u00a6"})
	require.NoError(t, err)
	assert.Equal(t, '\u00a6', withRune.Delimiter())
}
