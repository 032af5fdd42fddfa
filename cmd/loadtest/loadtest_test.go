package main

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion/validator"
)

func TestPercentile(t *testing.T) {
	lat := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(lat, 50))
	assert.Equal(t, time.Duration(10), percentile(lat, 99))
	assert.Equal(t, time.Duration(1), percentile(lat, 0))
	assert.Zero(t, percentile(nil, 50))
}

func TestStatsReport(t *testing.T) {
	s := NewStats()
	s.Record(3*time.Millisecond, 200, true, nil)
	s.Record(1*time.Millisecond, 200, false, nil)
	s.Record(2*time.Millisecond, 503, false, nil)
	s.Record(0, 0, false, assert.AnError)

	r := s.Report(time.Second)
	assert.Equal(t, int64(4), r.Total)
	assert.Equal(t, int64(2), r.Success)
	assert.Equal(t, int64(2), r.Errors)
	assert.Equal(t, int64(1), r.CacheHits)
	assert.Equal(t, time.Millisecond, r.Min)
	assert.Equal(t, 3*time.Millisecond, r.Max)
	assert.Equal(t, 2*time.Millisecond, r.Avg)
	assert.Equal(t, map[int]int64{200: 2, 503: 1}, r.StatusCodes)
	assert.InDelta(t, 4.0, r.RequestsPerSec, 1e-9)

	var b strings.Builder
	r.Print(&b)
	assert.Contains(t, b.String(), "Cache Hit Rate:  25.00%")
}

func TestWorkloadProducesValidRequests(t *testing.T) {
	w := NewWorkload()
	r := rand.New(rand.NewPCG(1, 1))
	for i := range 20 {
		doc := w.Document(r, i)
		require.NoError(t, validator.ValidateIngestRequest(&doc))
	}

	u, err := url.Parse(w.Query(r, "http://x", 5))
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/facets", u.Path)
	assert.Equal(t, []string{"Author", "Year"}, u.Query()["dim"])
	assert.Equal(t, "5", u.Query().Get("top"))
}

func TestFacetRequestReadsCacheHit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"cache_hit": true, "total_hits": 3})
	}))
	defer srv.Close()

	status, hit, err := facetRequest(t.Context(), srv.Client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, hit)
}

func TestSeedDocumentsBatches(t *testing.T) {
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ingestion.BatchIngestRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batches = append(batches, len(req.Documents))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := Config{IngestURL: srv.URL, SeedDocs: 450}
	require.NoError(t, seedDocuments(t.Context(), srv.Client(), cfg, NewWorkload()))
	assert.Equal(t, []int{200, 200, 50}, batches)
}
