package counter

import "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/collections/ordmap"

// counts accumulates per-ordinal counts.
type counts interface {
	add(ord int32, n int64)
	get(ord int32) int64
	each(fn func(ord int32, n int64))
	// empty returns a fresh accumulator of the same kind, sized for hint
	// matching documents.
	empty(hint int) counts
}

type denseCounts []int64

func (d denseCounts) add(ord int32, n int64) { d[ord] += n }

func (d denseCounts) get(ord int32) int64 { return d[ord] }

func (d denseCounts) each(fn func(int32, int64)) {
	for o, n := range d {
		if n != 0 {
			fn(int32(o), n)
		}
	}
}

func (d denseCounts) empty(int) counts { return make(denseCounts, len(d)) }

type sparseCounts struct {
	m *ordmap.Map[int64]
}

func newSparseCounts(hint int) *sparseCounts {
	return &sparseCounts{m: ordmap.New[int64](max(hint, 16))}
}

func (s *sparseCounts) add(ord int32, n int64) {
	v, _ := s.m.Get(ord)
	s.m.Put(ord, v+n)
}

func (s *sparseCounts) get(ord int32) int64 {
	v, _ := s.m.Get(ord)
	return v
}

func (s *sparseCounts) each(fn func(int32, int64)) {
	for o, n := range s.m.All() {
		fn(o, n)
	}
}

func (s *sparseCounts) empty(hint int) counts { return newSparseCounts(hint) }
