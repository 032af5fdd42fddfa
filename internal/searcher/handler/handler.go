package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/searcher/counter"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/searcher/refresher"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/resilience"
)

// pathDelim separates components in category paths on the wire.
const pathDelim = '/'

var (
	errRefreshDisabled = apperrors.New(apperrors.ErrIllegalState, http.StatusServiceUnavailable, "refresh is disabled")
	errCacheDisabled   = apperrors.New(apperrors.ErrIllegalState, http.StatusServiceUnavailable, "caching is disabled")
	errInvalidateCache = apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "cache invalidation failed")
)

// Readers hands out reference-counted taxonomy readers.
// *taxonomy.ReaderManager satisfies it.
type Readers interface {
	Acquire() (*taxonomy.Reader, error)
	Release(r *taxonomy.Reader) error
}

// Segments is satisfied by *segment.Catalog.
type Segments interface {
	Readers() []*segment.Reader
	DocCount() uint64
}

// Refresher is satisfied by *refresher.Refresher.
type Refresher interface {
	Refresh(ctx context.Context) (refresher.Result, error)
}

type Option func(*Handler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

type Handler struct {
	readers   Readers
	segments  Segments
	counter   *counter.Counter
	cache     *cache.FacetCache
	refresher Refresher
	cfg       config.SearchConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds the searcher HTTP handler. facetCache and ref may be nil.
func New(readers Readers, segments Segments, fc *counter.Counter, facetCache *cache.FacetCache, ref Refresher, cfg config.SearchConfig, opts ...Option) *Handler {
	h := &Handler{
		readers:   readers,
		segments:  segments,
		counter:   fc,
		cache:     facetCache,
		refresher: ref,
		cfg:       cfg,
		logger:    slog.Default().With("component", "search-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/facets", h.Facets)
	mux.HandleFunc("GET /api/v1/taxonomy/ordinal", h.Ordinal)
	mux.HandleFunc("GET /api/v1/taxonomy/path", h.Path)
	mux.HandleFunc("GET /api/v1/taxonomy/children", h.Children)
	mux.HandleFunc("GET /api/v1/taxonomy/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/taxonomy/refresh", h.Refresh)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

type facetsResponse struct {
	*counter.Result
	CacheHit bool `json:"cache_hit"`
}

// Facets counts the children of every dim parameter over the documents
// matching all q parameters.
func (h *Handler) Facets(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, err := h.parseFacetRequest(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	reader, err := h.readers.Acquire()
	if err != nil {
		h.writeErr(w, err)
		return
	}
	defer h.release(reader)

	compute := func() (*counter.Result, error) {
		return resilience.WithTimeout(ctx, h.cfg.CountTimeout, "facet count",
			func(ctx context.Context) (*counter.Result, error) {
				res, err := h.counter.Count(ctx, reader, h.segmentList(), req)
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, fmt.Errorf("%w: facet counting exceeded %s", apperrors.ErrTimeout, h.cfg.CountTimeout)
				}
				return res, err
			})
	}

	var res *counter.Result
	cacheHit := false
	if h.cache != nil {
		key := cache.Key(reader.Epoch(), reader.Generation(), req)
		res, cacheHit, err = h.cache.GetOrCompute(ctx, key, compute)
	} else {
		res, err = compute()
	}
	if err != nil {
		h.metrics.ObserveFacetCount("error", time.Since(start))
		log.Error("facet counting failed", "error", err)
		h.writeErr(w, err)
		return
	}
	status := "miss"
	if cacheHit {
		status = "hit"
	}
	h.metrics.ObserveFacetCount(status, time.Since(start))
	log.Info("facets counted",
		"drill_down", len(req.DrillDown),
		"facets", len(req.Facets),
		"total_hits", res.TotalHits,
		"generation", res.TaxonomyGeneration,
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, facetsResponse{Result: res, CacheHit: cacheHit})
}

func (h *Handler) parseFacetRequest(r *http.Request) (counter.Request, error) {
	q := r.URL.Query()
	var req counter.Request
	dims := q["dim"]
	if len(dims) == 0 {
		return req, fmt.Errorf("%w: query parameter 'dim' is required", apperrors.ErrInvalidArgument)
	}
	top := h.cfg.DefaultTopN
	if s := q.Get("top"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 1 {
			return req, apperrors.Newf(apperrors.ErrInvalidArgument, http.StatusBadRequest, "top must be a positive integer, got %q", s)
		}
		top = parsed
	}
	if h.cfg.MaxTopN > 0 && top > h.cfg.MaxTopN {
		top = h.cfg.MaxTopN
	}
	for _, d := range dims {
		p, err := category.Parse(d, pathDelim)
		if err != nil {
			return req, err
		}
		req.Facets = append(req.Facets, counter.FacetRequest{Path: p, TopN: top})
	}
	for _, s := range q["q"] {
		p, err := category.Parse(s, pathDelim)
		if err != nil {
			return req, err
		}
		req.DrillDown = append(req.DrillDown, p)
	}
	return req, nil
}

func (h *Handler) segmentList() []counter.Segment {
	readers := h.segments.Readers()
	out := make([]counter.Segment, len(readers))
	for i, r := range readers {
		out[i] = r
	}
	return out
}

type categoryResponse struct {
	Ordinal    int32    `json:"ordinal"`
	Path       string   `json:"path"`
	Components []string `json:"components"`
}

// Ordinal resolves ?path=a/b to its ordinal.
func (h *Handler) Ordinal(w http.ResponseWriter, r *http.Request) {
	p, err := category.Parse(r.URL.Query().Get("path"), pathDelim)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.withReader(w, r, func(reader *taxonomy.Reader) (any, error) {
		ord, err := reader.GetOrdinal(p)
		if err != nil {
			return nil, err
		}
		if ord == taxonomy.InvalidOrdinal {
			return nil, fmt.Errorf("%w: category %s", apperrors.ErrNotFound, p.Delimited(pathDelim))
		}
		return categoryResponse{Ordinal: ord, Path: p.Delimited(pathDelim), Components: p.Components()}, nil
	})
}

// Path resolves ?ordinal=N to its category.
func (h *Handler) Path(w http.ResponseWriter, r *http.Request) {
	ord, err := parseOrdinal(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.withReader(w, r, func(reader *taxonomy.Reader) (any, error) {
		p, ok, err := reader.GetPath(ord)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: ordinal %d", apperrors.ErrNotFound, ord)
		}
		return categoryResponse{Ordinal: ord, Path: p.Delimited(pathDelim), Components: p.Components()}, nil
	})
}

type childrenResponse struct {
	Ordinal  int32              `json:"ordinal"`
	Children []categoryResponse `json:"children"`
}

// Children lists the children of ?ordinal=N, youngest first.
func (h *Handler) Children(w http.ResponseWriter, r *http.Request) {
	ord, err := parseOrdinal(r)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.withReader(w, r, func(reader *taxonomy.Reader) (any, error) {
		children, err := reader.Children(ord)
		if err != nil {
			return nil, err
		}
		resp := childrenResponse{Ordinal: ord, Children: []categoryResponse{}}
		for ch := range children {
			p, _, err := reader.GetPath(ch)
			if err != nil {
				return nil, err
			}
			resp.Children = append(resp.Children, categoryResponse{
				Ordinal:    ch,
				Path:       p.Delimited(pathDelim),
				Components: p.Components(),
			})
		}
		return resp, nil
	})
}

type statsResponse struct {
	Epoch       int64  `json:"epoch"`
	Generation  int64  `json:"generation"`
	Size        int32  `json:"size"`
	Segments    int    `json:"segments"`
	SegmentDocs uint64 `json:"segment_docs"`
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.withReader(w, r, func(reader *taxonomy.Reader) (any, error) {
		size, err := reader.Size()
		if err != nil {
			return nil, err
		}
		return statsResponse{
			Epoch:       reader.Epoch(),
			Generation:  reader.Generation(),
			Size:        size,
			Segments:    len(h.segments.Readers()),
			SegmentDocs: h.segments.DocCount(),
		}, nil
	})
}

// Refresh moves the searcher to the latest taxonomy commit and segments.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		h.writeErr(w, errRefreshDisabled)
		return
	}
	res, err := h.refresher.Refresh(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("refresh failed", "error", err)
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"store":    h.cache.StoreState().String(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeErr(w, errCacheDisabled)
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeErr(w, errInvalidateCache)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func parseOrdinal(r *http.Request) (int32, error) {
	s := r.URL.Query().Get("ordinal")
	ord, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: ordinal %q is not a 32-bit integer", apperrors.ErrInvalidArgument, s)
	}
	return int32(ord), nil
}

func (h *Handler) withReader(w http.ResponseWriter, r *http.Request, fn func(*taxonomy.Reader) (any, error)) {
	reader, err := h.readers.Acquire()
	if err != nil {
		h.writeErr(w, err)
		return
	}
	defer h.release(reader)
	resp, err := fn(reader)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) release(reader *taxonomy.Reader) {
	if err := h.readers.Release(reader); err != nil {
		h.logger.Warn("failed to release taxonomy reader", "error", err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps err to its HTTP status. An AppError answers with its own
// message; other server errors are not echoed.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		h.writeError(w, status, appErr.Message)
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		h.writeError(w, status, "internal error")
	default:
		h.writeError(w, status, err.Error())
	}
}
