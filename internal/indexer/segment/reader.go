package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/RoaringBitmap/roaring"

	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// Reader serves one segment. Postings are read from disk on demand while
// payloads are loaded up front because counting touches every matching
// document. A Reader is safe for concurrent use.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     dictionary
	payloads map[string][][]byte
	allDocs  *roaring.Bitmap
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := readSegment(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func readSegment(f *os.File, path string) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("%w: reading segment header: %v", apperrors.ErrCorruptData, err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: invalid segment file: bad magic bytes %x", apperrors.ErrCorruptData, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported segment version %d", apperrors.ErrCorruptData, header.Version)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	if err := checkRegions(header, info.Size()); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrCorruptData, filepath.Base(path), err)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DictOffset+header.DictSize); err != nil {
		return nil, fmt.Errorf("%w: reading segment footer: %v", apperrors.ErrCorruptData, err)
	}
	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("%w: reading dictionary: %v", apperrors.ErrCorruptData, err)
	}
	if crc32.ChecksumIEEE(dictBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("%w: dictionary checksum mismatch in %s", apperrors.ErrCorruptData, filepath.Base(path))
	}
	var dict dictionary
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("%w: parsing dictionary: %v", apperrors.ErrCorruptData, err)
	}
	if len(dict.DocIDs) != int(header.DocCount) {
		return nil, fmt.Errorf("%w: header lists %d docs, dictionary %d", apperrors.ErrCorruptData, header.DocCount, len(dict.DocIDs))
	}

	payloads := make(map[string][][]byte, len(dict.Fields))
	for _, fe := range dict.Fields {
		if !within(fe.Offset, int64(fe.Len), header.PayloadSize) {
			return nil, fmt.Errorf("%w: payload block of %s outside payload region", apperrors.ErrCorruptData, fe.Field)
		}
		block := make([]byte, fe.Len)
		if _, err := f.ReadAt(block, header.PayloadOffset+fe.Offset); err != nil {
			return nil, fmt.Errorf("%w: reading payloads of %s: %v", apperrors.ErrCorruptData, fe.Field, err)
		}
		byDoc, err := decodePayloadBlock(block, len(dict.DocIDs))
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", apperrors.ErrCorruptData, fe.Field, err)
		}
		payloads[fe.Field] = byDoc
	}

	all := roaring.New()
	all.AddRange(0, uint64(header.DocCount))
	return &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		payloads: payloads,
		allDocs:  all,
	}, nil
}

// checkRegions verifies that every region the header names lies inside a
// file of size bytes, before anything is allocated from it.
func checkRegions(h SegmentHeader, size int64) error {
	body := size - int64(FooterSize)
	switch {
	case body < int64(HeaderSize):
		return fmt.Errorf("file of %d bytes is too short", size)
	case !within(h.DictOffset, h.DictSize, body):
		return fmt.Errorf("dictionary [%d, +%d) exceeds %d bytes", h.DictOffset, h.DictSize, body)
	case !within(h.PostOffset, h.PostSize, body):
		return fmt.Errorf("postings [%d, +%d) exceeds %d bytes", h.PostOffset, h.PostSize, body)
	case !within(h.PayloadOffset, h.PayloadSize, body):
		return fmt.Errorf("payloads [%d, +%d) exceeds %d bytes", h.PayloadOffset, h.PayloadSize, body)
	}
	return nil
}

// within reports whether [off, off+n) fits in [0, limit).
func within(off, n, limit int64) bool {
	return off >= 0 && n >= 0 && off <= limit && n <= limit-off
}

// Search returns the documents containing term. The result belongs to the
// caller.
func (r *Reader) Search(term string) (*roaring.Bitmap, error) {
	terms := r.dict.Terms
	idx := sort.Search(len(terms), func(i int) bool {
		return terms[i].Term >= term
	})
	if idx >= len(terms) || terms[idx].Term != term {
		return roaring.New(), nil
	}
	entry := terms[idx]
	if !within(entry.PostOffset, int64(entry.PostLen), r.header.PostSize) {
		return nil, fmt.Errorf("%w: postings of %q outside postings region", apperrors.ErrCorruptData, term)
	}
	postingsBytes := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(postingsBytes, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(postingsBytes); err != nil {
		return nil, fmt.Errorf("%w: parsing postings of %q: %v", apperrors.ErrCorruptData, term, err)
	}
	return bm, nil
}

// Payload implements params.PayloadSource.
func (r *Reader) Payload(docID uint32, field string) ([]byte, bool) {
	byDoc, ok := r.payloads[field]
	if !ok || int(docID) >= len(byDoc) {
		return nil, false
	}
	data := byDoc[docID]
	return data, data != nil
}

// AllDocs returns every document of the segment. The result belongs to the
// caller.
func (r *Reader) AllDocs() *roaring.Bitmap {
	return r.allDocs.Clone()
}

// DocID maps a local document number back to the ingested ID.
func (r *Reader) DocID(local uint32) (string, bool) {
	if int(local) >= len(r.dict.DocIDs) {
		return "", false
	}
	return r.dict.DocIDs[local], true
}

// Info reports the taxonomy commit the segment's ordinals refer to.
func (r *Reader) Info() Info { return r.dict.Info }

func (r *Reader) Name() string { return filepath.Base(r.filePath) }

func (r *Reader) Terms() int {
	return len(r.dict.Terms)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Close() error {
	return r.file.Close()
}
