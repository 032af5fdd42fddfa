package writercache

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// FromConfig builds the cache named by cfg.WriterCache. For "complete"
// cfg.CacheSize is only the initial capacity.
func FromConfig(cfg config.TaxonomyConfig) (Cache, error) {
	switch cfg.WriterCache {
	case "", "complete":
		return NewComplete(cfg.CacheSize), nil
	case "lru":
		return NewLRU(cfg.CacheSize)
	default:
		return nil, fmt.Errorf("%w: unknown writer cache %q", apperrors.ErrInvalidArgument, cfg.WriterCache)
	}
}
