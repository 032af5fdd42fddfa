package params

import (
	"fmt"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// FromConfig builds indexing params from the facets section. Dimensions
// with their own field or policy get a dedicated CategoryListParams; the
// result is a PerDimensionIndexingParams only when such dimensions exist.
func FromConfig(cfg config.FacetsConfig) (IndexingParams, error) {
	policy, err := ParseOrdinalPolicy(cfg.OrdinalPolicy)
	if err != nil {
		return nil, fmt.Errorf("facets.ordinalPolicy: %w", err)
	}
	var delim rune
	if cfg.Delimiter != "" {
		if !utf8.ValidString(cfg.Delimiter) || utf8.RuneCountInString(cfg.Delimiter) != 1 {
			return nil, fmt.Errorf("%w: facets.delimiter %q must be a single character", apperrors.ErrInvalidArgument, cfg.Delimiter)
		}
		delim, _ = utf8.DecodeRuneInString(cfg.Delimiter)
	}

	// Dimensions that only override the policy stay in the default field.
	sharedOverrides := map[string]OrdinalPolicy{}
	byDim := map[string]CategoryListParams{}
	for dim, dc := range cfg.Dimensions {
		dimPolicy := policy
		if dc.OrdinalPolicy != "" {
			if dimPolicy, err = ParseOrdinalPolicy(dc.OrdinalPolicy); err != nil {
				return nil, fmt.Errorf("facets.dimensions.%s.ordinalPolicy: %w", dim, err)
			}
		}
		if dc.IndexField == "" || dc.IndexField == cfg.IndexField {
			sharedOverrides[dim] = dimPolicy
			continue
		}
		byDim[dim] = NewCategoryListParams(dc.IndexField, WithOrdinalPolicy(dimPolicy))
	}

	opts := []Option{WithOrdinalPolicy(policy)}
	if len(sharedOverrides) > 0 {
		opts = append(opts, WithDimensionPolicies(sharedOverrides))
	}
	base, err := NewFacetIndexingParams(NewCategoryListParams(cfg.IndexField, opts...), cfg.PartitionSize, delim)
	if err != nil {
		return nil, err
	}
	if len(byDim) == 0 {
		return base, nil
	}
	return NewPerDimensionIndexingParams(base, byDim), nil
}
