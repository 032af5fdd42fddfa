package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/searcher/counter"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/resilience"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
	gets int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.err != nil {
		return "", s.err
	}
	v, ok := s.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = string(value.([]byte))
	return nil
}

func (s *memoryStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

func request(drill ...string) counter.Request {
	req := counter.Request{Facets: []counter.FacetRequest{{Path: category.MustNew("Author"), TopN: 10}}}
	for _, d := range drill {
		p, err := category.Parse(d, '/')
		if err != nil {
			panic(err)
		}
		req.DrillDown = append(req.DrillDown, p)
	}
	return req
}

func result(hits uint64) *counter.Result {
	return &counter.Result{
		TotalHits: hits,
		Facets: []counter.FacetResult{{
			Path:     "Author",
			Ordinal:  1,
			Value:    -1,
			Children: []counter.LabelCount{{Label: "Bob", Ordinal: 2, Count: int64(hits)}},
		}},
	}
}

func TestKey(t *testing.T) {
	base := Key(1, 7, request("Year/2010", "Author/Bob"))
	assert.True(t, strings.HasPrefix(base, "facets:1:7:"))
	assert.Equal(t, base, Key(1, 7, request("Author/Bob", "Year/2010")))
	assert.NotEqual(t, base, Key(1, 8, request("Year/2010", "Author/Bob")))
	assert.NotEqual(t, base, Key(2, 7, request("Year/2010", "Author/Bob")))
	assert.NotEqual(t, base, Key(1, 7, request("Year/2010")))

	top := request("Year/2010", "Author/Bob")
	top.Facets[0].TopN = 3
	assert.NotEqual(t, base, Key(1, 7, top))
}

func TestGetOrComputeUsesRedis(t *testing.T) {
	store := newMemoryStore()
	c, err := New(store, config.RedisConfig{CacheTTL: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()
	key := Key(0, 1, request())

	calls := 0
	compute := func() (*counter.Result, error) {
		calls++
		return result(3), nil
	}
	res, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, uint64(3), res.TotalHits)
	assert.Contains(t, store.data, key)

	res, hit, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, result(3), res)
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLocalTierServesWithoutRedis(t *testing.T) {
	store := newMemoryStore()
	c, err := New(store, config.RedisConfig{LocalCacheSize: 4})
	require.NoError(t, err)
	ctx := context.Background()
	key := Key(0, 1, request())

	c.Set(ctx, key, result(5))
	store.err = errors.New("connection refused")
	res, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, uint64(5), res.TotalHits)
}

func TestRedisHitFillsLocalTier(t *testing.T) {
	store := newMemoryStore()
	warm, err := New(store, config.RedisConfig{})
	require.NoError(t, err)
	ctx := context.Background()
	key := Key(0, 1, request())
	warm.Set(ctx, key, result(2))

	c, err := New(store, config.RedisConfig{LocalCacheSize: 4})
	require.NoError(t, err)
	_, ok := c.Get(ctx, key)
	require.True(t, ok)

	store.err = errors.New("connection refused")
	_, ok = c.Get(ctx, key)
	assert.True(t, ok)
}

func TestRedisFailuresAreMisses(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	c, err := New(store, config.RedisConfig{})
	require.NoError(t, err)

	res, hit, err := c.GetOrCompute(context.Background(), "k", func() (*counter.Result, error) {
		return result(1), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, uint64(1), res.TotalHits)
}

func TestComputeErrorsAreNotCached(t *testing.T) {
	c, err := New(nil, config.RedisConfig{LocalCacheSize: 4})
	require.NoError(t, err)
	boom := errors.New("count failed")

	_, _, err = c.GetOrCompute(context.Background(), "k", func() (*counter.Result, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	store := newMemoryStore()
	store.data["other:key"] = "x"
	c, err := New(store, config.RedisConfig{LocalCacheSize: 4})
	require.NoError(t, err)
	ctx := context.Background()
	key := Key(0, 1, request())
	c.Set(ctx, key, result(1))

	require.NoError(t, c.Invalidate(ctx))
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"other:key": "x"}, store.data)
}

func TestBreakerSkipsFailingStore(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	cb := NewStoreBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	c, err := New(store, config.RedisConfig{}, WithBreaker(cb))
	require.NoError(t, err)
	ctx := context.Background()

	for range 4 {
		_, ok := c.Get(ctx, "k")
		assert.False(t, ok)
	}
	assert.Equal(t, 2, store.gets)
	assert.Equal(t, resilience.StateOpen, c.StoreState())
	assert.Equal(t, int64(2), cb.Counts().Rejected)
}

func TestBreakerIgnoresMisses(t *testing.T) {
	store := newMemoryStore()
	cb := NewStoreBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1})
	c, err := New(store, config.RedisConfig{}, WithBreaker(cb))
	require.NoError(t, err)

	for range 3 {
		_, ok := c.Get(context.Background(), "missing")
		assert.False(t, ok)
	}
	assert.Equal(t, 3, store.gets)
	assert.Equal(t, resilience.StateClosed, c.StoreState())
}
