// Package params holds the immutable configuration that maps categories to
// the fields, partitions and ordinal policies used when indexing facets.
package params

import (
	"fmt"
	"math"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

const (
	// DefaultDelimiter joins components in drill-down terms.
	DefaultDelimiter = '\u001F'
	// DefaultPartitionSize leaves ordinals unpartitioned.
	DefaultPartitionSize = math.MaxInt32

	partitionPrefix = "$part"
)

// IndexingParams resolves where and how categories are indexed.
type IndexingParams interface {
	CategoryListParams(p category.Path) CategoryListParams
	AllCategoryListParams() []CategoryListParams
	PartitionSize() int32
	Delimiter() rune
	DrillDownTermText(p category.Path) (string, error)
}

// FacetIndexingParams sends every category to one CategoryListParams.
type FacetIndexingParams struct {
	clp           CategoryListParams
	partitionSize int32
	delimiter     rune
}

// NewFacetIndexingParams validates and builds params. partitionSize <= 0
// selects DefaultPartitionSize and delimiter 0 selects DefaultDelimiter.
func NewFacetIndexingParams(clp CategoryListParams, partitionSize int32, delimiter rune) (*FacetIndexingParams, error) {
	if partitionSize <= 0 {
		partitionSize = DefaultPartitionSize
	}
	if delimiter == 0 {
		delimiter = DefaultDelimiter
	}
	if delimiter == category.Escape {
		return nil, fmt.Errorf("%w: delimiter %U is reserved", apperrors.ErrInvalidArgument, delimiter)
	}
	if clp.field == "" {
		clp = DefaultCategoryListParams()
	}
	return &FacetIndexingParams{clp: clp, partitionSize: partitionSize, delimiter: delimiter}, nil
}

// DefaultFacetIndexingParams uses DefaultField, no partitioning and
// DefaultDelimiter.
func DefaultFacetIndexingParams() *FacetIndexingParams {
	return &FacetIndexingParams{
		clp:           DefaultCategoryListParams(),
		partitionSize: DefaultPartitionSize,
		delimiter:     DefaultDelimiter,
	}
}

func (f *FacetIndexingParams) CategoryListParams(category.Path) CategoryListParams {
	return f.clp
}

func (f *FacetIndexingParams) AllCategoryListParams() []CategoryListParams {
	return []CategoryListParams{f.clp}
}

func (f *FacetIndexingParams) PartitionSize() int32 { return f.partitionSize }

func (f *FacetIndexingParams) Delimiter() rune { return f.delimiter }

// DrillDownTermText flattens p with the facet delimiter. It fails with
// ErrInvalidCategoryPath when a component contains the delimiter.
func (f *FacetIndexingParams) DrillDownTermText(p category.Path) (string, error) {
	buf := make([]byte, p.FullPathLength(f.delimiter))
	n, err := p.CopyFullPath(buf, 0, f.delimiter)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// PerDimensionIndexingParams routes categories to CategoryListParams by
// dimension and falls back to the embedded default.
type PerDimensionIndexingParams struct {
	*FacetIndexingParams
	byDim map[string]CategoryListParams
}

// NewPerDimensionIndexingParams builds routing over base. Dimensions not in
// byDim use base's CategoryListParams.
func NewPerDimensionIndexingParams(base *FacetIndexingParams, byDim map[string]CategoryListParams) *PerDimensionIndexingParams {
	m := make(map[string]CategoryListParams, len(byDim))
	for dim, clp := range byDim {
		m[dim] = clp
	}
	return &PerDimensionIndexingParams{FacetIndexingParams: base, byDim: m}
}

func (p *PerDimensionIndexingParams) CategoryListParams(path category.Path) CategoryListParams {
	if path.Len() > 0 {
		if clp, ok := p.byDim[path.Dimension()]; ok {
			return clp
		}
	}
	return p.clp
}

// AllCategoryListParams returns each distinct CategoryListParams once, the
// default first.
func (p *PerDimensionIndexingParams) AllCategoryListParams() []CategoryListParams {
	seen := map[string]struct{}{p.clp.Key(): {}}
	out := []CategoryListParams{p.clp}
	for _, clp := range p.byDim {
		if _, ok := seen[clp.Key()]; ok {
			continue
		}
		seen[clp.Key()] = struct{}{}
		out = append(out, clp)
	}
	return out
}

// PartitionOf returns the partition holding ordinal.
func PartitionOf(ip IndexingParams, ordinal int32) int {
	return int(ordinal / ip.PartitionSize())
}

// PartitionName is the suffix appended to a category list field for
// partition. Partition 0 has no suffix.
func PartitionName(partition int) string {
	if partition == 0 {
		return ""
	}
	return partitionPrefix + strconv.Itoa(partition)
}
