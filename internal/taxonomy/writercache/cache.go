// Package writercache holds the path-to-ordinal caches a taxonomy writer
// consults before looking at committed categories.
package writercache

import "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"

// Cache maps paths to ordinals. Implementations are safe for concurrent
// use.
type Cache interface {
	// Get returns the cached ordinal of p.
	Get(p category.Path) (int32, bool)
	// Put caches p. It reports whether the cache had to drop an entry, in
	// which case the cache no longer holds every category it was given.
	Put(p category.Path, ordinal int32) (evicted bool)
	// IsFull reports whether further puts may evict.
	IsFull() bool
	Len() int
	Clear()
	Close()
}
