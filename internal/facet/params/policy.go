package params

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// OrdinalPolicy controls which ancestors of a category are stored alongside
// it in a document's ordinal list.
type OrdinalPolicy int

const (
	// AllButDimension stores every ancestor except the dimension and the
	// root. It is the zero value and the default.
	AllButDimension OrdinalPolicy = iota
	// AllParents stores every ancestor except the root.
	AllParents
	// NoParents stores only the category itself; counts are rolled up at
	// search time.
	NoParents
)

func (p OrdinalPolicy) String() string {
	switch p {
	case AllButDimension:
		return "ALL_BUT_DIMENSION"
	case AllParents:
		return "ALL_PARENTS"
	case NoParents:
		return "NO_PARENTS"
	default:
		return fmt.Sprintf("OrdinalPolicy(%d)", int(p))
	}
}

// ParseOrdinalPolicy accepts the names returned by String in any case, with
// '-' or '_' separators. The empty string selects the default.
func ParseOrdinalPolicy(s string) (OrdinalPolicy, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "", "ALL_BUT_DIMENSION":
		return AllButDimension, nil
	case "ALL_PARENTS":
		return AllParents, nil
	case "NO_PARENTS":
		return NoParents, nil
	default:
		return AllButDimension, fmt.Errorf("%w: unknown ordinal policy %q", apperrors.ErrInvalidArgument, s)
	}
}

// ParentFunc resolves the parent ordinal of an ordinal.
type ParentFunc func(ordinal int32) (int32, error)

// AppendOrdinals appends ordinal and, according to p, its ancestors to dst.
// Ancestors are added while they are above the root. AllButDimension then
// drops the last ancestor added, which is the dimension, unless the category
// is itself a dimension.
func (p OrdinalPolicy) AppendOrdinals(dst []int32, ordinal int32, parent ParentFunc) ([]int32, error) {
	dst = append(dst, ordinal)
	if p == NoParents {
		return dst, nil
	}
	par, err := parent(ordinal)
	if err != nil {
		return dst, err
	}
	if par <= 0 {
		return dst, nil
	}
	for par > 0 {
		dst = append(dst, par)
		if par, err = parent(par); err != nil {
			return dst, err
		}
	}
	if p == AllButDimension {
		dst = dst[:len(dst)-1]
	}
	return dst, nil
}
