// Command indexer consumes facet documents from Kafka, assigns category
// ordinals through the taxonomy writer and flushes documents into segments.
// Every flush commits the taxonomy before writing the segment that refers to
// it and then announces the commit on the taxonomy-commits topic.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/facet/params"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/store"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/writercache"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, "service", "indexer")
	slog.Info("starting indexer service",
		"taxonomy_backend", cfg.Taxonomy.Backend,
		"data_dir", cfg.Indexer.DataDir,
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "indexer")
		defer shutdownMetrics(context.Background())
	}

	dir, closeDir, err := store.FromConfig(ctx, cfg.Taxonomy, cfg.Postgres)
	if err != nil {
		slog.Error("failed to open taxonomy store", "error", err)
		os.Exit(1)
	}
	defer closeDir()

	writer, err := openWriter(ctx, cfg.Taxonomy, dir, m)
	if err != nil {
		slog.Error("failed to open taxonomy writer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(context.Background()); err != nil {
			slog.Error("failed to close taxonomy writer", "error", err)
		}
	}()

	ip, err := params.FromConfig(cfg.Facets)
	if err != nil {
		slog.Error("invalid facet configuration", "error", err)
		os.Exit(1)
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.TaxonomyCommits)
	defer producer.Close()
	commits := publisher.New(producer)

	engine, err := indexer.NewEngine(cfg.Indexer, writer, ip,
		indexer.WithMetrics(m),
		indexer.WithFlushHook(commits.OnFlush),
	)
	if err != nil {
		slog.Error("failed to create index engine", "error", err)
		os.Exit(1)
	}
	engine.StartFlushLoop(ctx)
	slog.Info("flush loop started", "interval", cfg.Indexer.FlushInterval)

	server := startStatusServer(cfg, engine, writer, dir, m)

	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.FacetDocuments,
		consumer.HandleMessage(engine),
		kafka.FromBeginning(),
	)
	indexConsumer := consumer.New(kafkaConsumer)

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.FacetDocuments,
		"group", cfg.Kafka.ConsumerGroup,
	)

	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("status server shutdown error", "error", err)
	}

	slog.Info("flushing buffered documents before shutdown")
	if err := engine.Close(shutdownCtx); err != nil {
		slog.Error("final flush failed", "error", err)
	}

	slog.Info("indexer service stopped")
}

func openWriter(ctx context.Context, cfg config.TaxonomyConfig, dir store.Directory, m *metrics.Metrics) (*taxonomy.Writer, error) {
	mode, err := taxonomy.ParseOpenMode(cfg.OpenMode)
	if err != nil {
		return nil, err
	}
	cache, err := writercache.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts := []taxonomy.WriterOption{
		taxonomy.WithWriterCache(cache),
		taxonomy.WithWriterMetrics(m),
	}
	if cfg.CacheMissesUntilFill > 0 {
		opts = append(opts, taxonomy.WithCacheMissesUntilFill(cfg.CacheMissesUntilFill))
	}
	return taxonomy.OpenWriter(ctx, dir, mode, opts...)
}

func startStatusServer(cfg *config.Config, engine *indexer.Engine, writer *taxonomy.Writer, dir store.Directory, m *metrics.Metrics) *http.Server {
	checker := health.NewChecker()
	checker.Register("taxonomy_writer", func(ctx context.Context) health.ComponentHealth {
		size, err := writer.Size()
		if err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d categories", size)}
	})
	if p, ok := dir.(interface{ Ping(context.Context) error }); ok {
		checker.Register("taxonomy_store", health.PingCheck(p.Ping, health.StatusDown))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/indexer/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(engine.Stats()); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("indexer status server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("status server error", "error", err)
		}
	}()
	return server
}
