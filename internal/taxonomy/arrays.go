package taxonomy

// ParallelArrays exposes the tree shape of one taxonomy generation.
//
//	Parents()[o]  the parent of o, InvalidOrdinal for the root
//	Children()[o] the youngest child of o, or InvalidOrdinal
//	Siblings()[o] the next older sibling of o, or InvalidOrdinal
//
// Following Children then Siblings enumerates children youngest first. The
// slices are shared and must not be modified.
type ParallelArrays struct {
	parents  []int32
	children []int32
	siblings []int32
}

func newParallelArrays(parents []int32) *ParallelArrays {
	a := &ParallelArrays{
		parents:  parents,
		children: make([]int32, len(parents)),
		siblings: make([]int32, len(parents)),
	}
	for i := range a.children {
		a.children[i] = InvalidOrdinal
	}
	if len(parents) > 0 {
		a.siblings[0] = InvalidOrdinal
	}
	a.link(1)
	return a
}

// extend builds the arrays of a newer generation. The first len(a.parents)
// entries are copied, never shared, so a stays valid for its holders.
func (a *ParallelArrays) extend(newParents []int32) *ParallelArrays {
	oldSize := len(a.parents)
	size := oldSize + len(newParents)
	b := &ParallelArrays{
		parents:  make([]int32, size),
		children: make([]int32, size),
		siblings: make([]int32, size),
	}
	copy(b.parents, a.parents)
	copy(b.parents[oldSize:], newParents)
	copy(b.children, a.children)
	for i := oldSize; i < size; i++ {
		b.children[i] = InvalidOrdinal
	}
	copy(b.siblings, a.siblings)
	if oldSize == 0 && size > 0 {
		b.siblings[0] = InvalidOrdinal
	}
	b.link(max(oldSize, 1))
	return b
}

// link prepends every ordinal from start on to its parent's child list.
func (a *ParallelArrays) link(start int) {
	for o := start; o < len(a.parents); o++ {
		p := a.parents[o]
		a.siblings[o] = a.children[p]
		a.children[p] = int32(o)
	}
}

func (a *ParallelArrays) Parents() []int32 { return a.parents }

func (a *ParallelArrays) Children() []int32 { return a.children }

func (a *ParallelArrays) Siblings() []int32 { return a.siblings }

// Size is the number of ordinals covered.
func (a *ParallelArrays) Size() int { return len(a.parents) }
