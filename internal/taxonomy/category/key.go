package category

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

const (
	// Delim separates components in an encoded key.
	Delim = '\u001F'
	// Escape precedes a literal Delim or Escape inside a component.
	Escape = '\u001E'
)

// Key encodes p into a single string that round-trips through ParseKey for
// any component content. Used for persisted and in-memory lookups. Encoding
// works on bytes, so distinct paths always have distinct keys.
func (p Path) Key() string {
	var sb strings.Builder
	for i, c := range p.components {
		if i > 0 {
			sb.WriteByte(Delim)
		}
		for j := 0; j < len(c); j++ {
			if b := c[j]; b == Delim || b == Escape {
				sb.WriteByte(Escape)
			}
			sb.WriteByte(c[j])
		}
	}
	return sb.String()
}

// ParseKey decodes a string produced by Key.
func ParseKey(s string) (Path, error) {
	if s == "" {
		return Root, nil
	}
	var (
		comps   []string
		sb      strings.Builder
		escaped bool
	)
	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case escaped:
			sb.WriteByte(b)
			escaped = false
		case b == Escape:
			escaped = true
		case b == Delim:
			comps = append(comps, sb.String())
			sb.Reset()
		default:
			sb.WriteByte(b)
		}
	}
	if escaped {
		return Root, fmt.Errorf("%w: dangling escape in key %q", apperrors.ErrCorruptData, s)
	}
	comps = append(comps, sb.String())
	p, err := New(comps...)
	if err != nil {
		return Root, fmt.Errorf("%w: key %q: %v", apperrors.ErrCorruptData, s, err)
	}
	return p, nil
}
