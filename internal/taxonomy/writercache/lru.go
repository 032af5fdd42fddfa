package writercache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
)

// LRU keeps at most size paths, evicting the least recently used.
type LRU struct {
	size  int
	cache *lru.Cache[string, int32]
}

func NewLRU(size int) (*LRU, error) {
	c, err := lru.New[string, int32](size)
	if err != nil {
		return nil, fmt.Errorf("creating writer lru cache: %w", err)
	}
	return &LRU{size: size, cache: c}, nil
}

func (c *LRU) Get(p category.Path) (int32, bool) {
	return c.cache.Get(p.Key())
}

func (c *LRU) Put(p category.Path, ordinal int32) bool {
	return c.cache.Add(p.Key(), ordinal)
}

func (c *LRU) IsFull() bool { return c.cache.Len() >= c.size }

func (c *LRU) Len() int { return c.cache.Len() }

func (c *LRU) Clear() { c.cache.Purge() }

func (c *LRU) Close() { c.cache.Purge() }
