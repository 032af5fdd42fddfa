// Package ingestion defines the request and Kafka event schemas shared by
// the ingestion, indexer and searcher services.
package ingestion

import "time"

// IngestRequest is the body of POST /api/v1/documents.
type IngestRequest struct {
	DocumentID string   `json:"document_id"`
	Categories []string `json:"categories"`
}

// BatchIngestRequest is the body of POST /api/v1/documents/batch.
type BatchIngestRequest struct {
	Documents []IngestRequest `json:"documents"`
}

// IngestResponse acknowledges a document queued for indexing.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Categories int    `json:"categories"`
	Status     string `json:"status"`
}

// FacetDocumentEvent is the payload of the facet-documents topic: one
// document and the category paths it belongs to. Paths use '/' between
// components, e.g. "Author/Bob".
type FacetDocumentEvent struct {
	DocumentID string    `json:"document_id"`
	Categories []string  `json:"categories"`
	IngestedAt time.Time `json:"ingested_at"`
}

// TaxonomyCommitEvent is published after the indexer commits the taxonomy
// and writes the segment that depends on it. Searchers refresh on receipt.
type TaxonomyCommitEvent struct {
	Generation  int64     `json:"generation"`
	Epoch       int64     `json:"epoch"`
	Size        int32     `json:"size"`
	Segment     string    `json:"segment,omitempty"`
	Documents   int       `json:"documents"`
	CommittedAt time.Time `json:"committed_at"`
}
