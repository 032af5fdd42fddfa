// Package index buffers facet documents in memory until the engine flushes
// them to a segment.
package index

import "github.com/RoaringBitmap/roaring"

// termSep separates the field from the text of a term key. It never occurs
// in field names and is not a valid facet delimiter.
const termSep = "\x00"

// TermKey identifies drill-down text within a field.
func TermKey(field, text string) string {
	return field + termSep + text
}

// Document is one document ready for indexing. Terms are term keys and
// Payloads holds the encoded ordinals of each category list field.
type Document struct {
	ID       string
	Terms    []string
	Payloads map[string][]byte
}

// TermEntry is the posting list of one term. Doc IDs are local to the
// snapshot.
type TermEntry struct {
	Term string
	Docs *roaring.Bitmap
}

// Snapshot is an immutable copy of the buffered documents in the layout a
// segment stores them.
type Snapshot struct {
	DocIDs   []string
	Terms    []TermEntry
	Payloads map[string][][]byte
}
