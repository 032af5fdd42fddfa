// Package validator checks ingestion requests before they reach Kafka and
// returns per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
)

const (
	maxDocumentIDLength = 255
	maxCategories       = 1000
	maxBatchSize        = 500
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateIngestRequest checks the document id and that every category is
// a non-empty '/'-separated path.
func ValidateIngestRequest(req *ingestion.IngestRequest) error {
	errs := make(map[string]string)
	validateInto(errs, "", req)
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// ValidateBatchRequest validates every document of the batch. Field names
// are prefixed with the document's index, e.g. "documents[2].categories[0]".
func ValidateBatchRequest(req *ingestion.BatchIngestRequest) error {
	errs := make(map[string]string)
	switch {
	case len(req.Documents) == 0:
		errs["documents"] = "at least one document is required"
	case len(req.Documents) > maxBatchSize:
		errs["documents"] = fmt.Sprintf("batch must contain at most %d documents", maxBatchSize)
	default:
		for i := range req.Documents {
			validateInto(errs, fmt.Sprintf("documents[%d].", i), &req.Documents[i])
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func validateInto(errs map[string]string, prefix string, req *ingestion.IngestRequest) {
	id := strings.TrimSpace(req.DocumentID)
	if id == "" {
		errs[prefix+"document_id"] = "document_id is required"
	} else if len(id) > maxDocumentIDLength {
		errs[prefix+"document_id"] = fmt.Sprintf("document_id must be at most %d characters", maxDocumentIDLength)
	}
	if len(req.Categories) == 0 {
		errs[prefix+"categories"] = "at least one category is required"
		return
	}
	if len(req.Categories) > maxCategories {
		errs[prefix+"categories"] = fmt.Sprintf("at most %d categories are allowed", maxCategories)
		return
	}
	for i, raw := range req.Categories {
		field := fmt.Sprintf("%scategories[%d]", prefix, i)
		p, err := category.Parse(raw, '/')
		if err != nil {
			errs[field] = err.Error()
			continue
		}
		if p.IsRoot() {
			errs[field] = "category path must not be empty"
		}
	}
}
