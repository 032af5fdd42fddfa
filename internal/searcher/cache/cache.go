// Package cache keeps facet results per taxonomy generation in an
// in-process LRU tier backed by Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/searcher/counter"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/resilience"
)

const keyPrefix = "facets:"

// Store is the shared tier. *pkgredis.Client satisfies it.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type Option func(*FacetCache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *FacetCache) { c.metrics = m }
}

// WithBreaker replaces the breaker guarding the shared tier.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *FacetCache) { c.breaker = cb }
}

// NewStoreBreaker returns a breaker for the shared tier that does not count
// cache misses as failures.
func NewStoreBreaker(cfg resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	cfg.IsFailure = func(err error) bool { return err != nil && !pkgredis.IsNilError(err) }
	return resilience.NewCircuitBreaker("facet-cache-redis", cfg)
}

// FacetCache memoizes counter results. Cached results are shared between
// callers and must not be modified.
type FacetCache struct {
	store   Store
	breaker *resilience.CircuitBreaker
	local   *lru.Cache[string, *counter.Result]
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New builds a cache over store, which may be nil to keep results in
// process only. cfg.LocalCacheSize of zero disables the local tier. Reads
// and writes to store go through a circuit breaker; while it is open the
// cache serves the local tier alone.
func New(store Store, cfg config.RedisConfig, opts ...Option) (*FacetCache, error) {
	c := &FacetCache{
		store:  store,
		ttl:    cfg.CacheTTL,
		logger: slog.Default().With("component", "facet-cache"),
	}
	if cfg.LocalCacheSize > 0 {
		local, err := lru.New[string, *counter.Result](cfg.LocalCacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating local facet cache: %w", err)
		}
		c.local = local
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		m := c.metrics
		c.breaker = NewStoreBreaker(resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		})
	}
	return c, nil
}

// Key identifies req evaluated against one taxonomy generation. Drill-down
// paths are order independent; facet requests are not.
func Key(epoch, generation int64, req counter.Request) string {
	drill := make([]string, len(req.DrillDown))
	for i, p := range req.DrillDown {
		drill[i] = p.Key()
	}
	slices.Sort(drill)
	var b strings.Builder
	b.WriteString(strings.Join(drill, "\n"))
	for _, fr := range req.Facets {
		b.WriteString("\x00")
		b.WriteString(fr.Path.Key())
		b.WriteString(":top=")
		b.WriteString(strconv.Itoa(fr.TopN))
	}
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s%x:%x:%x", keyPrefix, epoch, generation, hash[:16])
}

func (c *FacetCache) Get(ctx context.Context, key string) (*counter.Result, bool) {
	if c.local != nil {
		if res, ok := c.local.Get(key); ok {
			c.hit()
			return res, true
		}
	}
	if c.store == nil {
		c.miss()
		return nil, false
	}
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		switch {
		case pkgredis.IsNilError(err):
		case errors.Is(err, resilience.ErrCircuitOpen):
			c.logger.Debug("cache get skipped", "key", key, "error", err)
		default:
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var res counter.Result
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if c.local != nil {
		c.local.Add(key, &res)
	}
	c.hit()
	return &res, true
}

func (c *FacetCache) Set(ctx context.Context, key string, res *counter.Result) {
	if c.local != nil {
		c.local.Add(key, res)
	}
	if c.store == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for key or runs compute once for
// all concurrent callers asking for the same key. The boolean reports a
// cache hit.
func (c *FacetCache) GetOrCompute(
	ctx context.Context,
	key string,
	compute func() (*counter.Result, error),
) (*counter.Result, bool, error) {
	if res, ok := c.Get(ctx, key); ok {
		return res, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		res, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*counter.Result), false, nil
}

// Invalidate drops every cached facet result.
func (c *FacetCache) Invalidate(ctx context.Context) error {
	if c.local != nil {
		c.local.Purge()
	}
	if c.store == nil {
		return nil
	}
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating facet cache: %w", err)
	}
	c.logger.Info("facet cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *FacetCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// StoreState reports the breaker state of the shared tier.
func (c *FacetCache) StoreState() resilience.State {
	return c.breaker.State()
}

func (c *FacetCache) hit() {
	c.hits.Add(1)
	c.metrics.ObserveFacetCache(true)
}

func (c *FacetCache) miss() {
	c.misses.Add(1)
	c.metrics.ObserveFacetCache(false)
}
