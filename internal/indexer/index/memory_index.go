package index

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// MemoryIndex accumulates documents between flushes. Documents receive
// consecutive local IDs starting at zero.
type MemoryIndex struct {
	mu       sync.RWMutex
	docIDs   []string
	terms    map[string]*roaring.Bitmap
	payloads map[string]map[uint32][]byte
	size     int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		terms:    make(map[string]*roaring.Bitmap),
		payloads: make(map[string]map[uint32][]byte),
	}
}

// AddDocument buffers doc and returns its local ID.
func (m *MemoryIndex) AddDocument(doc Document) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	local := uint32(len(m.docIDs))
	m.docIDs = append(m.docIDs, doc.ID)
	m.size += int64(len(doc.ID) + 16)
	for _, term := range doc.Terms {
		bm, exists := m.terms[term]
		if !exists {
			bm = roaring.New()
			m.terms[term] = bm
			m.size += int64(len(term) + 64)
		}
		bm.Add(local)
		m.size += 2
	}
	for field, data := range doc.Payloads {
		docs, exists := m.payloads[field]
		if !exists {
			docs = make(map[uint32][]byte)
			m.payloads[field] = docs
		}
		docs[local] = data
		m.size += int64(len(data) + 8)
	}
	return local
}

// Search returns a copy of the documents containing term.
func (m *MemoryIndex) Search(term string) *roaring.Bitmap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bm, exists := m.terms[term]
	if !exists {
		return roaring.New()
	}
	return bm.Clone()
}

// Payload returns the stored payload of field for a buffered document.
func (m *MemoryIndex) Payload(docID uint32, field string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.payloads[field][docID]
	return data, ok
}

// Drain returns everything buffered so far and empties the index in one
// step, so documents added concurrently land in the next snapshot.
func (m *MemoryIndex) Drain() Snapshot {
	m.mu.Lock()
	docIDs, terms, payloads := m.docIDs, m.terms, m.payloads
	m.docIDs = nil
	m.terms = make(map[string]*roaring.Bitmap)
	m.payloads = make(map[string]map[uint32][]byte)
	m.size = 0
	m.mu.Unlock()

	snap := Snapshot{
		DocIDs:   docIDs,
		Terms:    make([]TermEntry, 0, len(terms)),
		Payloads: make(map[string][][]byte, len(payloads)),
	}
	for term, bm := range terms {
		bm.RunOptimize()
		snap.Terms = append(snap.Terms, TermEntry{Term: term, Docs: bm})
	}
	sort.Slice(snap.Terms, func(i, j int) bool {
		return snap.Terms[i].Term < snap.Terms[j].Term
	})
	for field, docs := range payloads {
		byDoc := make([][]byte, len(docIDs))
		for local, data := range docs {
			byDoc[local] = data
		}
		snap.Payloads[field] = byDoc
	}
	return snap
}

// Requeue puts a drained snapshot back in front of anything buffered since,
// renumbering its documents. It is used when a flush fails.
func (m *MemoryIndex) Requeue(snap Snapshot) {
	if len(snap.DocIDs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	base := uint32(len(m.docIDs))
	m.docIDs = append(m.docIDs, snap.DocIDs...)
	m.size += int64(len(snap.DocIDs) * 16)
	for _, entry := range snap.Terms {
		shifted := roaring.AddOffset(entry.Docs, base)
		if bm, exists := m.terms[entry.Term]; exists {
			bm.Or(shifted)
		} else {
			m.terms[entry.Term] = shifted
			m.size += int64(len(entry.Term) + 64)
		}
	}
	for field, byDoc := range snap.Payloads {
		docs, exists := m.payloads[field]
		if !exists {
			docs = make(map[uint32][]byte)
			m.payloads[field] = docs
		}
		for local, data := range byDoc {
			if data != nil {
				docs[base+uint32(local)] = data
				m.size += int64(len(data) + 8)
			}
		}
	}
}

// Size estimates the memory held by buffered documents in bytes.
func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docIDs)
}
