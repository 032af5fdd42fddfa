// Package handler exposes the HTTP front door for facet documents. Accepted
// documents are queued on Kafka for the indexer; nothing is persisted here.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion/validator"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/logger"
)

const statusAccepted = "ACCEPTED"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// DocumentPublisher is satisfied by *kafka.Producer.
type DocumentPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

type Handler struct {
	publisher DocumentPublisher
	now       func() time.Time
	logger    *slog.Logger
}

func New(pub DocumentPublisher) *Handler {
	return &Handler{
		publisher: pub,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the ingestion routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Ingest)
	mux.HandleFunc("POST /api/v1/documents/batch", h.IngestBatch)
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req ingestion.IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateIngestRequest(&req); err != nil {
		h.writeValidationError(w, err)
		return
	}
	if err := h.publisher.Publish(ctx, h.event(&req)); err != nil {
		log.Error("failed to queue document", "doc_id", req.DocumentID, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "document queue unavailable")
		return
	}
	log.Info("document queued",
		"doc_id", req.DocumentID,
		"categories", len(req.Categories),
	)
	h.writeJSON(w, http.StatusAccepted, ingestion.IngestResponse{
		DocumentID: strings.TrimSpace(req.DocumentID),
		Categories: len(req.Categories),
		Status:     statusAccepted,
	})
}

// IngestBatch queues every document of the batch in one Kafka write. The
// batch is rejected as a whole if any document is invalid.
func (h *Handler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req ingestion.BatchIngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateBatchRequest(&req); err != nil {
		h.writeValidationError(w, err)
		return
	}
	events := make([]kafka.Event, 0, len(req.Documents))
	resp := make([]ingestion.IngestResponse, 0, len(req.Documents))
	for i := range req.Documents {
		doc := &req.Documents[i]
		events = append(events, h.event(doc))
		resp = append(resp, ingestion.IngestResponse{
			DocumentID: strings.TrimSpace(doc.DocumentID),
			Categories: len(doc.Categories),
			Status:     statusAccepted,
		})
	}
	if err := h.publisher.PublishBatch(ctx, events); err != nil {
		log.Error("failed to queue batch", "documents", len(events), "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "document queue unavailable")
		return
	}
	log.Info("batch queued", "documents", len(events))
	h.writeJSON(w, http.StatusAccepted, map[string]any{"documents": resp})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// event keys by document id so redeliveries of one document stay ordered.
func (h *Handler) event(req *ingestion.IngestRequest) kafka.Event {
	id := strings.TrimSpace(req.DocumentID)
	return kafka.Event{
		Key: id,
		Value: ingestion.FacetDocumentEvent{
			DocumentID: id,
			Categories: req.Categories,
			IngestedAt: h.now(),
		},
	}
}

func (h *Handler) writeValidationError(w http.ResponseWriter, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
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
