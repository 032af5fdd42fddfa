package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelArraysChildOrder(t *testing.T) {
	// 0 root, 1 hi, 2 hi/there
	a := newParallelArrays([]int32{-1, 0, 1})
	assert.Equal(t, []int32{1, 2, -1}, a.Children())
	assert.Equal(t, []int32{-1, -1, -1}, a.Siblings())

	// 3 hi/ho, 4 hello
	b := a.extend([]int32{1, 0})
	assert.Equal(t, []int32{-1, 0, 1, 1, 0}, b.Parents())
	assert.Equal(t, []int32{4, 3, -1, -1, -1}, b.Children())
	assert.Equal(t, []int32{-1, -1, -1, 2, 1}, b.Siblings())

	// the older generation is untouched
	assert.Equal(t, []int32{1, 2, -1}, a.Children())
	assert.Equal(t, 3, a.Size())

	full := newParallelArrays([]int32{-1, 0, 1, 1, 0})
	assert.Equal(t, full.Children(), b.Children())
	assert.Equal(t, full.Siblings(), b.Siblings())
}

func TestParallelArraysFromEmpty(t *testing.T) {
	a := newParallelArrays(nil)
	assert.Zero(t, a.Size())

	b := a.extend([]int32{-1, 0, 0})
	assert.Equal(t, []int32{2, -1, -1}, b.Children())
	assert.Equal(t, []int32{-1, -1, 1}, b.Siblings())
}
