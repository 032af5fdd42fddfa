package writercache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

func newCaches(t *testing.T) map[string]Cache {
	l, err := NewLRU(1000)
	require.NoError(t, err)
	return map[string]Cache{"lru": l, "complete": NewComplete(16)}
}

func TestCacheBasics(t *testing.T) {
	for name, c := range newCaches(t) {
		t.Run(name, func(t *testing.T) {
			ab := category.MustNew("a", "b")
			_, ok := c.Get(ab)
			assert.False(t, ok)

			assert.False(t, c.Put(ab, 2))
			assert.False(t, c.Put(category.Root, 0))
			ord, ok := c.Get(category.MustNew("a", "b"))
			assert.True(t, ok)
			assert.Equal(t, int32(2), ord)
			ord, ok = c.Get(category.Root)
			assert.True(t, ok)
			assert.Zero(t, ord)
			assert.Equal(t, 2, c.Len())

			c.Clear()
			assert.Zero(t, c.Len())
			_, ok = c.Get(ab)
			assert.False(t, ok)
		})
	}
}

func TestLRUEvicts(t *testing.T) {
	c, err := NewLRU(2)
	require.NoError(t, err)
	assert.False(t, c.Put(category.MustNew("a"), 1))
	assert.False(t, c.IsFull())
	assert.False(t, c.Put(category.MustNew("b"), 2))
	assert.True(t, c.IsFull())
	assert.True(t, c.Put(category.MustNew("c"), 3))
	_, ok := c.Get(category.MustNew("a"))
	assert.False(t, ok)

	_, err = NewLRU(0)
	assert.Error(t, err)
}

// collidingPaths share a Hash: "Aa" and "BB" have equal string hashes.
func TestCompleteHandlesHashCollisions(t *testing.T) {
	c := NewComplete(16)
	p1 := category.MustNew("Aa")
	p2 := category.MustNew("BB")
	require.Equal(t, p1.Hash(), p2.Hash())

	c.Put(p1, 1)
	c.Put(p2, 2)
	c.Put(p1, 1)
	assert.Equal(t, 2, c.Len())

	o1, _ := c.Get(p1)
	o2, _ := c.Get(p2)
	assert.Equal(t, int32(1), o1)
	assert.Equal(t, int32(2), o2)
	assert.False(t, c.IsFull())
}

func TestCompleteConcurrentAccess(t *testing.T) {
	c := NewComplete(16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				p := category.MustNew(fmt.Sprintf("d%d", g), fmt.Sprintf("v%d", i))
				c.Put(p, int32(g*1000+i))
				ord, ok := c.Get(p)
				if !ok || ord != int32(g*1000+i) {
					t.Errorf("lost %v", p)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 4000, c.Len())
}

func TestFromConfig(t *testing.T) {
	c, err := FromConfig(config.TaxonomyConfig{WriterCache: "lru", CacheSize: 8})
	require.NoError(t, err)
	assert.IsType(t, &LRU{}, c)

	c, err = FromConfig(config.TaxonomyConfig{CacheSize: 8})
	require.NoError(t, err)
	assert.IsType(t, &Complete{}, c)

	_, err = FromConfig(config.TaxonomyConfig{WriterCache: "lru"})
	assert.Error(t, err)

	_, err = FromConfig(config.TaxonomyConfig{WriterCache: "arc"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}
