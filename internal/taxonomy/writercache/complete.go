package writercache

import (
	"sync"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/collections/ordmap"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
)

type entry struct {
	path    category.Path
	ordinal int32
}

// Complete holds every path it is given and never evicts. Entries are
// bucketed by Path.Hash in an ordmap; colliding paths share a bucket.
type Complete struct {
	mu      sync.RWMutex
	buckets *ordmap.Map[[]entry]
	size    int
}

// NewComplete sizes the table for about initialCapacity distinct hashes.
func NewComplete(initialCapacity int) *Complete {
	return &Complete{buckets: ordmap.New[[]entry](initialCapacity)}
}

func (c *Complete) Get(p category.Path) (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bucket, _ := c.buckets.Get(int32(p.Hash()))
	for _, e := range bucket {
		if e.path.Equal(p) {
			return e.ordinal, true
		}
	}
	return 0, false
}

func (c *Complete) Put(p category.Path, ordinal int32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := int32(p.Hash())
	bucket, _ := c.buckets.Get(h)
	for i, e := range bucket {
		if e.path.Equal(p) {
			bucket[i].ordinal = ordinal
			return false
		}
	}
	c.buckets.Put(h, append(bucket, entry{path: p, ordinal: ordinal}))
	c.size++
	return false
}

func (c *Complete) IsFull() bool { return false }

func (c *Complete) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

func (c *Complete) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets.Clear()
	c.size = 0
}

func (c *Complete) Close() { c.Clear() }
