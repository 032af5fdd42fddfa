package params

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/intcodec"
)

// PayloadSource exposes the stored payload of a field for a document.
type PayloadSource interface {
	Payload(docID uint32, field string) ([]byte, bool)
}

// CategoryListIterator decodes the ordinals a document stores in one
// category list field.
type CategoryListIterator struct {
	field   string
	decoder intcodec.Decoder
	src     PayloadSource
}

// Field returns the physical field being read.
func (it *CategoryListIterator) Field() string { return it.field }

// SetSource points the iterator at a new segment. It reports whether the
// segment can hold any payloads at all.
func (it *CategoryListIterator) SetSource(src PayloadSource) bool {
	it.src = src
	return src != nil
}

// Ordinals appends the decoded ordinals of docID to dst. A document without
// a payload contributes nothing.
func (it *CategoryListIterator) Ordinals(docID uint32, dst []int32) ([]int32, error) {
	if it.src == nil {
		return dst, nil
	}
	buf, ok := it.src.Payload(docID, it.field)
	if !ok {
		return dst, nil
	}
	out, err := it.decoder.Decode(dst, buf)
	if err != nil {
		return out, fmt.Errorf("decoding %s for doc %d: %w", it.field, docID, err)
	}
	return out, nil
}
