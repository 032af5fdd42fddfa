package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion"
)

func fields(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
	return ve.Fields
}

func TestValidateIngestRequest(t *testing.T) {
	require.NoError(t, ValidateIngestRequest(&ingestion.IngestRequest{
		DocumentID: "doc-1",
		Categories: []string{"Author/Bob", "Year/2010/March/"},
	}))

	tests := []struct {
		name  string
		req   ingestion.IngestRequest
		field string
	}{
		{"missing id", ingestion.IngestRequest{DocumentID: "  ", Categories: []string{"A"}}, "document_id"},
		{"long id", ingestion.IngestRequest{DocumentID: strings.Repeat("x", 256), Categories: []string{"A"}}, "document_id"},
		{"no categories", ingestion.IngestRequest{DocumentID: "d"}, "categories"},
		{"empty path", ingestion.IngestRequest{DocumentID: "d", Categories: []string{"A", ""}}, "categories[1]"},
		{"empty component", ingestion.IngestRequest{DocumentID: "d", Categories: []string{"Author//Bob"}}, "categories[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := fields(t, ValidateIngestRequest(&tt.req))
			assert.Contains(t, f, tt.field)
		})
	}
}

func TestValidateBatchRequest(t *testing.T) {
	f := fields(t, ValidateBatchRequest(&ingestion.BatchIngestRequest{}))
	assert.Contains(t, f, "documents")

	err := ValidateBatchRequest(&ingestion.BatchIngestRequest{Documents: []ingestion.IngestRequest{
		{DocumentID: "a", Categories: []string{"Author/Bob"}},
		{DocumentID: "", Categories: []string{"/x"}},
	}})
	f = fields(t, err)
	assert.Len(t, f, 2)
	assert.Contains(t, f, "documents[1].document_id")
	assert.Contains(t, f, "documents[1].categories[0]")
	assert.True(t, strings.HasPrefix(err.Error(), "documents[1].categories[0]:"))
}
