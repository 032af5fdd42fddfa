package params

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/intcodec"
)

// DefaultField is the field that holds encoded ordinals when no other field
// is configured.
const DefaultField = "$facets"

// CategoryListParams describes one category list: the field its ordinals
// are stored in, the encoder used for them and the ordinal policy. Values
// are immutable once built.
type CategoryListParams struct {
	field         string
	policy        OrdinalPolicy
	dimPolicies   map[string]OrdinalPolicy
	encoder       func() intcodec.Encoder
	encoderString string
}

// Option customises a CategoryListParams.
type Option func(*CategoryListParams)

// WithOrdinalPolicy sets the policy used for every dimension without an
// override.
func WithOrdinalPolicy(p OrdinalPolicy) Option {
	return func(c *CategoryListParams) { c.policy = p }
}

// WithDimensionPolicies overrides the policy for specific dimensions.
func WithDimensionPolicies(policies map[string]OrdinalPolicy) Option {
	return func(c *CategoryListParams) { c.dimPolicies = maps.Clone(policies) }
}

// WithEncoder replaces the default encoder chain. factory must return a new
// encoder on every call.
func WithEncoder(factory func() intcodec.Encoder) Option {
	return func(c *CategoryListParams) { c.encoder = factory }
}

// NewCategoryListParams returns params for field. An empty field selects
// DefaultField.
func NewCategoryListParams(field string, opts ...Option) CategoryListParams {
	if field == "" {
		field = DefaultField
	}
	c := CategoryListParams{field: field, encoder: intcodec.Default}
	for _, opt := range opts {
		opt(&c)
	}
	c.encoderString = c.encoder().String()
	return c
}

// DefaultCategoryListParams stores everything in DefaultField with the
// default policy and encoder.
func DefaultCategoryListParams() CategoryListParams {
	return NewCategoryListParams(DefaultField)
}

// Field returns the base field name.
func (c CategoryListParams) Field() string { return c.field }

// OrdinalPolicy returns the policy for dimension.
func (c CategoryListParams) OrdinalPolicy(dimension string) OrdinalPolicy {
	if p, ok := c.dimPolicies[dimension]; ok {
		return p
	}
	return c.policy
}

// NewEncoder returns a fresh encoder. Encoders are cheap and not shared.
func (c CategoryListParams) NewEncoder() intcodec.Encoder {
	return c.encoder()
}

// NewDecoder returns the decoder matching NewEncoder.
func (c CategoryListParams) NewDecoder() intcodec.Decoder {
	return c.encoder().Decoder()
}

// FieldName returns the physical field for partition.
func (c CategoryListParams) FieldName(partition int) string {
	return c.field + PartitionName(partition)
}

// CreateCategoryListIterator returns an iterator over the ordinals stored
// for partition.
func (c CategoryListParams) CreateCategoryListIterator(partition int) *CategoryListIterator {
	return &CategoryListIterator{
		field:   c.FieldName(partition),
		decoder: c.NewDecoder(),
	}
}

// Key identifies the params by field, policies and encoder. Two params with
// the same key are interchangeable.
func (c CategoryListParams) Key() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s|%s|%s", c.field, c.policy, c.encoderString)
	for _, dim := range slices.Sorted(maps.Keys(c.dimPolicies)) {
		fmt.Fprintf(&sb, "|%s=%s", dim, c.dimPolicies[dim])
	}
	return sb.String()
}

// Equal reports whether c and other have the same Key.
func (c CategoryListParams) Equal(other CategoryListParams) bool {
	return c.Key() == other.Key()
}

func (c CategoryListParams) String() string {
	return "CategoryListParams(" + c.Key() + ")"
}
