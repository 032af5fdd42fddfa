package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
)

type recordingIndexer struct {
	docs map[string][]category.Path
	err  error
}

func (r *recordingIndexer) IndexDocument(_ context.Context, docID string, categories []category.Path) error {
	if r.err != nil {
		return r.err
	}
	if r.docs == nil {
		r.docs = make(map[string][]category.Path)
	}
	r.docs[docID] = categories
	return nil
}

func encode(t *testing.T, ev ingestion.FacetDocumentEvent) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func TestHandleMessageIndexes(t *testing.T) {
	idx := &recordingIndexer{}
	handle := HandleMessage(idx)
	err := handle(context.Background(), []byte("d1"), encode(t, ingestion.FacetDocumentEvent{
		DocumentID: "d1",
		Categories: []string{"Author/Bob", "Year/2010/"},
	}))
	require.NoError(t, err)
	require.Len(t, idx.docs["d1"], 2)
	assert.True(t, idx.docs["d1"][0].Equal(category.MustNew("Author", "Bob")))
	assert.True(t, idx.docs["d1"][1].Equal(category.MustNew("Year", "2010")))
}

func TestHandleMessageDropsPoisonMessages(t *testing.T) {
	idx := &recordingIndexer{}
	handle := HandleMessage(idx)
	assert.NoError(t, handle(context.Background(), nil, []byte("{not json")))
	assert.NoError(t, handle(context.Background(), nil, encode(t, ingestion.FacetDocumentEvent{
		DocumentID: "d1",
		Categories: []string{"Author//Bob"},
	})))
	assert.NoError(t, handle(context.Background(), nil, encode(t, ingestion.FacetDocumentEvent{
		DocumentID: "d2",
		Categories: []string{""},
	})))
	assert.Empty(t, idx.docs)
}

func TestHandleMessageRetriesIndexingFailures(t *testing.T) {
	boom := errors.New("taxonomy unavailable")
	handle := HandleMessage(&recordingIndexer{err: boom})
	err := handle(context.Background(), nil, encode(t, ingestion.FacetDocumentEvent{
		DocumentID: "d1",
		Categories: []string{"a"},
	}))
	assert.ErrorIs(t, err, boom)
}
