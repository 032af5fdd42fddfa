// Command loadtest drives the facet search service with concurrent
// /api/v1/facets requests and prints latency and cache statistics. With
// -seed it first queues synthetic documents through the ingestion service.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8081 -seed 5000 -ingest-url http://localhost:8080
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion"
)

type Config struct {
	BaseURL     string
	IngestURL   string
	Concurrency int
	Duration    time.Duration
	SeedDocs    int
	TopN        int
}

// Workload generates documents and queries over a fixed synthetic
// taxonomy.
type Workload struct {
	authors []string
	years   []int
	months  []string
}

func NewWorkload() *Workload {
	w := &Workload{
		months: []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"},
	}
	for i := range 50 {
		w.authors = append(w.authors, fmt.Sprintf("author-%02d", i))
	}
	for y := 2000; y <= 2024; y++ {
		w.years = append(w.years, y)
	}
	return w
}

func (w *Workload) Document(r *rand.Rand, id int) ingestion.IngestRequest {
	return ingestion.IngestRequest{
		DocumentID: "load-" + strconv.Itoa(id),
		Categories: []string{
			"Author/" + w.authors[r.IntN(len(w.authors))],
			fmt.Sprintf("Year/%d/%s", w.years[r.IntN(len(w.years))], w.months[r.IntN(len(w.months))]),
		},
	}
}

// Query returns a facets URL. Half the queries drill down into one author
// or year so both the all-docs and the filtered paths are exercised.
func (w *Workload) Query(r *rand.Rand, base string, topN int) string {
	v := url.Values{}
	v.Add("dim", "Author")
	v.Add("dim", "Year")
	v.Set("top", strconv.Itoa(topN))
	switch r.IntN(4) {
	case 0:
		v.Add("q", "Author/"+w.authors[r.IntN(len(w.authors))])
	case 1:
		v.Add("q", "Year/"+strconv.Itoa(w.years[r.IntN(len(w.years))]))
	}
	return base + "/api/v1/facets?" + v.Encode()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8081", "base URL of the facet search service")
	ingestURL := flag.String("ingest-url", "http://localhost:8080", "base URL of the ingestion service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	seed := flag.Int("seed", 0, "documents to ingest before the run")
	topN := flag.Int("top", 10, "children per facet")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		IngestURL:   *ingestURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		SeedDocs:    *seed,
		TopN:        *topN,
	}

	fmt.Println("=== Facet Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Println()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	w := NewWorkload()

	if cfg.SeedDocs > 0 {
		if err := seedDocuments(context.Background(), client, cfg, w); err != nil {
			fmt.Fprintf(os.Stderr, "seeding failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded %d documents\n\n", cfg.SeedDocs)
	}

	start := time.Now()
	stats := runLoadTest(client, cfg, w)
	report := stats.Report(time.Since(start))
	report.Print(os.Stdout)
	if report.Total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func seedDocuments(ctx context.Context, client *http.Client, cfg Config, w *Workload) error {
	const batchSize = 200
	r := rand.New(rand.NewPCG(1, 2))
	for from := 0; from < cfg.SeedDocs; from += batchSize {
		var batch ingestion.BatchIngestRequest
		for id := from; id < min(from+batchSize, cfg.SeedDocs); id++ {
			batch.Documents = append(batch.Documents, w.Document(r, id))
		}
		body, err := json.Marshal(batch)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.IngestURL+"/api/v1/documents/batch", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("batch at %d: status %d", from, resp.StatusCode)
		}
	}
	return nil
}

func runLoadTest(client *http.Client, cfg Config, w *Workload) *Stats {
	stats := NewStats()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for id := range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(id), uint64(time.Now().UnixNano())))
			for ctx.Err() == nil {
				start := time.Now()
				status, hit, err := facetRequest(ctx, client, w.Query(r, cfg.BaseURL, cfg.TopN))
				if ctx.Err() != nil {
					return
				}
				stats.Record(time.Since(start), status, hit, err)
			}
		}()
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func facetRequest(ctx context.Context, client *http.Client, rawURL string) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	var body struct {
		CacheHit bool `json:"cache_hit"`
	}
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return resp.StatusCode, false, err
		}
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, body.CacheHit, nil
}
