// Package category defines Path, the immutable hierarchical identifier of a
// facet category, together with its hashing, ordering and flattening rules.
package category

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// Path is an ordered sequence of non-empty components. The zero value is the
// root path. Paths are immutable and safe to share between goroutines.
type Path struct {
	components []string
}

// Root is the empty path, ordinal 0 in every taxonomy.
var Root = Path{}

// New builds a path from explicit components. Empty components and
// components that are not valid UTF-8 are rejected. Components are not checked
// for a delimiter here; that happens only when the path is flattened.
func New(components ...string) (Path, error) {
	if len(components) == 0 {
		return Root, nil
	}
	for i, c := range components {
		if err := checkComponent(c); err != nil {
			return Root, fmt.Errorf("%w at index %d in %q", err, i, components)
		}
	}
	comps := make([]string, len(components))
	copy(comps, components)
	return Path{components: comps}, nil
}

// MustNew is like New but panics on error. Intended for literals and tests.
func MustNew(components ...string) Path {
	p, err := New(components...)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse splits s on delim. Trailing empty components are dropped and a
// string with no non-empty component yields Root. Leading or interior empty
// components and invalid UTF-8 are an error.
func Parse(s string, delim rune) (Path, error) {
	comps := strings.Split(s, string(delim))
	for len(comps) > 0 && comps[len(comps)-1] == "" {
		comps = comps[:len(comps)-1]
	}
	if len(comps) == 0 {
		return Root, nil
	}
	for i, c := range comps {
		if err := checkComponent(c); err != nil {
			return Root, fmt.Errorf("%w at index %d in %q", err, i, s)
		}
	}
	return Path{components: comps}, nil
}

func checkComponent(c string) error {
	if c == "" {
		return fmt.Errorf("%w: empty component", apperrors.ErrInvalidArgument)
	}
	if !utf8.ValidString(c) {
		return fmt.Errorf("%w: component is not valid UTF-8", apperrors.ErrInvalidArgument)
	}
	return nil
}

// Len returns the number of components.
func (p Path) Len() int { return len(p.components) }

// IsRoot reports whether p is the empty path.
func (p Path) IsRoot() bool { return len(p.components) == 0 }

// Component returns the i-th component.
func (p Path) Component(i int) string { return p.components[i] }

// Components returns a copy of the components.
func (p Path) Components() []string {
	out := make([]string, len(p.components))
	copy(out, p.components)
	return out
}

// Dimension returns the first component, or "" for the root.
func (p Path) Dimension() string {
	if len(p.components) == 0 {
		return ""
	}
	return p.components[0]
}

// Subpath returns the first n components. The result shares the backing
// array with p. n <= 0 yields Root and n >= Len() yields p itself.
func (p Path) Subpath(n int) Path {
	if n <= 0 {
		return Root
	}
	if n >= len(p.components) {
		return p
	}
	return Path{components: p.components[:n:n]}
}

// Parent is shorthand for Subpath(Len()-1).
func (p Path) Parent() Path { return p.Subpath(len(p.components) - 1) }

// Child returns a new path with component appended.
func (p Path) Child(component string) (Path, error) {
	if err := checkComponent(component); err != nil {
		return Root, fmt.Errorf("%w under %v", err, p)
	}
	comps := make([]string, len(p.components)+1)
	copy(comps, p.components)
	comps[len(p.components)] = component
	return Path{components: comps}, nil
}

// Equal reports component-wise equality.
func (p Path) Equal(other Path) bool {
	if len(p.components) != len(other.components) {
		return false
	}
	for i := range p.components {
		if p.components[i] != other.components[i] {
			return false
		}
	}
	return true
}

// Compare orders paths lexicographically by component. When one path is a
// prefix of the other the result is the difference in length.
func (p Path) Compare(other Path) int {
	n := min(len(p.components), len(other.components))
	for i := 0; i < n; i++ {
		switch strings.Compare(p.components[i], other.components[i]) {
		case -1:
			return -1
		case 1:
			return 1
		}
	}
	return len(p.components) - len(other.components)
}

// Hash is a 32-bit polynomial hash (base 31) seeded with the length.
func (p Path) Hash() uint32 {
	if len(p.components) == 0 {
		return 0
	}
	h := uint32(len(p.components))
	for _, c := range p.components {
		h = h*31 + stringHash(c)
	}
	return h
}

// LongHash is a 64-bit polynomial hash (base 65599) used where collisions
// must be rare, such as persisted lookup columns.
func (p Path) LongHash() uint64 {
	if len(p.components) == 0 {
		return 0
	}
	h := uint64(len(p.components))
	for _, c := range p.components {
		h = h*65599 + uint64(stringHash(c))
	}
	return h
}

func stringHash(s string) uint32 {
	var h uint32
	for _, r := range s {
		h = 31*h + uint32(r)
	}
	return h
}

// FullPathLength is the byte length of the path flattened with delim.
func (p Path) FullPathLength(delim rune) int {
	if len(p.components) == 0 {
		return 0
	}
	n := (len(p.components) - 1) * utf8.RuneLen(delim)
	for _, c := range p.components {
		n += len(c)
	}
	return n
}

// CopyFullPath writes the components joined by delim into buf starting at
// off and returns the number of bytes written. It fails with
// ErrInvalidCategoryPath if a component contains delim.
func (p Path) CopyFullPath(buf []byte, off int, delim rune) (int, error) {
	if len(p.components) == 0 {
		return 0, nil
	}
	need := p.FullPathLength(delim)
	if off < 0 || off+need > len(buf) {
		return 0, fmt.Errorf("%w: buffer of %d bytes cannot hold %d bytes at offset %d",
			apperrors.ErrInvalidArgument, len(buf), need, off)
	}
	out, err := p.AppendFullPath(buf[off:off], delim)
	if err != nil {
		return 0, err
	}
	return len(out), nil
}

// AppendFullPath appends the flattened path to dst.
func (p Path) AppendFullPath(dst []byte, delim rune) ([]byte, error) {
	for i, c := range p.components {
		if strings.ContainsRune(c, delim) {
			return dst, fmt.Errorf("%w: component %q contains delimiter %U", apperrors.ErrInvalidCategoryPath, c, delim)
		}
		if i > 0 {
			dst = utf8.AppendRune(dst, delim)
		}
		dst = append(dst, c...)
	}
	return dst, nil
}

// Delimited joins the components with delim without validation. It is the
// inverse of Parse when no component contains delim.
func (p Path) Delimited(delim rune) string {
	return strings.Join(p.components, string(delim))
}

// String renders the path with '/' for diagnostics.
func (p Path) String() string {
	return p.Delimited('/')
}
