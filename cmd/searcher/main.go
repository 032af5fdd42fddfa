// Command searcher serves facet counts over the indexed segments. It keeps a
// reference-counted taxonomy reader current by listening for taxonomy
// commits and polling, and caches facet results in Redis.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/facet/params"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/searcher/counter"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/searcher/refresher"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/store"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, "service", "searcher")
	slog.Info("starting search service", "port", cfg.Server.Port)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "searcher")
		defer shutdownMetrics(context.Background())
	}

	dir, closeDir, err := store.FromConfig(ctx, cfg.Taxonomy, cfg.Postgres)
	if err != nil {
		slog.Error("failed to open taxonomy store", "error", err)
		os.Exit(1)
	}
	defer closeDir()

	readers, err := taxonomy.OpenReaderManager(ctx, dir, taxonomy.WithReaderMetrics(m))
	if err != nil {
		slog.Error("failed to open taxonomy reader", "error", err)
		os.Exit(1)
	}
	defer readers.Close()

	catalog, err := segment.OpenCatalog(cfg.Indexer.DataDir)
	if err != nil {
		slog.Error("failed to load segments", "error", err)
		os.Exit(1)
	}
	defer catalog.Close()
	slog.Info("segments loaded", "data_dir", cfg.Indexer.DataDir, "docs", catalog.DocCount())

	ip, err := params.FromConfig(cfg.Facets)
	if err != nil {
		slog.Error("invalid facet configuration", "error", err)
		os.Exit(1)
	}

	var remote cache.Store
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, facet results cached in process only", "error", err)
	} else {
		defer redisClient.Close()
		remote = redisClient
		slog.Info("facet cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
		)
	}
	facetCache, err := cache.New(remote, cfg.Redis, cache.WithMetrics(m))
	if err != nil {
		slog.Error("failed to create facet cache", "error", err)
		os.Exit(1)
	}

	ref := refresher.New(readers, catalog, facetCache)
	ref.Start(ctx, cfg.Search.RefreshInterval)
	commitConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.TaxonomyCommits, ref.HandleMessage(),
		kafka.WithGroupID(searcherGroup(cfg.Kafka.ConsumerGroup)))
	go func() {
		if err := commitConsumer.Start(ctx); err != nil {
			slog.Error("taxonomy commit consumer error", "error", err)
		}
	}()
	slog.Info("taxonomy refresh started",
		"topic", cfg.Kafka.Topics.TaxonomyCommits,
		"interval", cfg.Search.RefreshInterval,
	)

	checker := health.NewChecker()
	checker.Register("taxonomy", func(ctx context.Context) health.ComponentHealth {
		r, err := readers.Acquire()
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		defer readers.Release(r)
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("generation %d", r.Generation())}
	})
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient.Ping, health.StatusDegraded))
	}
	if p, ok := dir.(pinger); ok {
		checker.Register("taxonomy_store", health.PingCheck(p.Ping, health.StatusDown))
	}

	h := handler.New(readers, catalog, counter.New(ip), facetCache, ref, cfg.Search, handler.WithMetrics(m))

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	if len(cfg.Search.CORSOrigins) > 0 {
		cors := middleware.DefaultCORSConfig()
		cors.AllowOrigins = cfg.Search.CORSOrigins
		chain = middleware.CORS(cors)(chain)
	}
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}

// pinger is implemented by taxonomy stores backed by a remote database.
type pinger interface {
	Ping(ctx context.Context) error
}

// searcherGroup gives every searcher instance its own consumer group so each
// one sees every taxonomy commit.
func searcherGroup(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = strconv.Itoa(os.Getpid())
	}
	return base + "-searcher-" + host
}
