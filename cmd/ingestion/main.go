// Command ingestion starts the facet document ingestion HTTP service.
//
// The service accepts documents and their category paths via
// POST /api/v1/documents (and /api/v1/documents/batch), validates them and
// queues them on the facet-documents Kafka topic for the indexer.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion/handler"
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
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, "service", "ingestion")
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "ingestion")
		defer shutdownMetrics(context.Background())
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.FacetDocuments)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.FacetDocuments)

	h := handler.New(producer)
	checker := health.NewChecker()
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var root http.Handler = mux
	root = middleware.Metrics(m)(root)
	root = middleware.RequestID(root)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
