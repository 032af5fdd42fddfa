// Package segment persists flushed facet documents as immutable .spdx files
// and reads them back for counting.
package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/indexer/index"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 32
	FileExt              = ".spdx"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic         uint32
	Version       uint32
	TermCount     uint32
	DocCount      uint32
	DictOffset    int64
	DictSize      int64
	PostOffset    int64
	PostSize      int64
	PayloadOffset int64
	PayloadSize   int64
}

// DictEntry maps a term to its serialized bitmap.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

// FieldEntry locates the payload block of one category list field.
type FieldEntry struct {
	Field  string `json:"f"`
	Offset int64  `json:"o"`
	Len    int    `json:"l"`
}

// Info records which taxonomy commit the ordinals of a segment belong to.
type Info struct {
	TaxonomyEpoch      int64 `json:"epoch"`
	TaxonomyGeneration int64 `json:"generation"`
}

type dictionary struct {
	Info
	CreatedAt int64        `json:"created_at"`
	DocIDs    []string     `json:"docs"`
	Terms     []DictEntry  `json:"terms"`
	Fields    []FieldEntry `json:"fields"`
}

// Writer serialises snapshots into new .spdx segment files.
type Writer struct {
	dataDir string
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string) *Writer {
	return &Writer{dataDir: dataDir}
}

// Write atomically creates a new segment file holding snap. It writes to a
// .tmp file first and renames on success.
func (w *Writer) Write(snap index.Snapshot, info Info) (string, error) {
	if len(snap.DocIDs) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	segmentName := fmt.Sprintf("seg_%d%s", time.Now().UnixNano(), FileExt)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()
	defer os.Remove(tmpPath)

	header := SegmentHeader{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		TermCount: uint32(len(snap.Terms)),
		DocCount:  uint32(len(snap.DocIDs)),
	}
	if _, err := f.Write(make([]byte, HeaderSize)); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	offset := int64(HeaderSize)
	header.PostOffset = offset
	dict := dictionary{
		Info:      info,
		CreatedAt: time.Now().Unix(),
		DocIDs:    snap.DocIDs,
		Terms:     make([]DictEntry, 0, len(snap.Terms)),
	}
	for _, entry := range snap.Terms {
		data, err := entry.Docs.ToBytes()
		if err != nil {
			return "", fmt.Errorf("serialising postings for term %q: %w", entry.Term, err)
		}
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("writing postings for term %q: %w", entry.Term, err)
		}
		dict.Terms = append(dict.Terms, DictEntry{
			Term:       entry.Term,
			PostOffset: offset - header.PostOffset,
			PostLen:    len(data),
			DocFreq:    int(entry.Docs.GetCardinality()),
		})
		offset += int64(len(data))
	}
	header.PostSize = offset - header.PostOffset

	header.PayloadOffset = offset
	fields := make([]string, 0, len(snap.Payloads))
	for field := range snap.Payloads {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		block := encodePayloadBlock(snap.Payloads[field], len(snap.DocIDs))
		if _, err := f.Write(block); err != nil {
			return "", fmt.Errorf("writing payloads for field %q: %w", field, err)
		}
		dict.Fields = append(dict.Fields, FieldEntry{
			Field:  field,
			Offset: offset - header.PayloadOffset,
			Len:    len(block),
		})
		offset += int64(len(block))
	}
	header.PayloadSize = offset - header.PayloadOffset

	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	if _, err := f.Write(dictData); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}
	header.DictOffset = offset
	header.DictSize = int64(len(dictData))

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictData))
	binary.LittleEndian.PutUint32(footer[4:8], header.DocCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.DictOffset))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(header.DictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(header.PostSize))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(encodeHeader(header), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing segment file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}

func encodeHeader(h SegmentHeader) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.PayloadOffset))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.PayloadSize))
	return b
}

func decodeHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:         binary.LittleEndian.Uint32(b[0:4]),
		Version:       binary.LittleEndian.Uint32(b[4:8]),
		TermCount:     binary.LittleEndian.Uint32(b[8:12]),
		DocCount:      binary.LittleEndian.Uint32(b[12:16]),
		DictOffset:    int64(binary.LittleEndian.Uint64(b[16:24])),
		DictSize:      int64(binary.LittleEndian.Uint64(b[24:32])),
		PostOffset:    int64(binary.LittleEndian.Uint64(b[32:40])),
		PostSize:      int64(binary.LittleEndian.Uint64(b[40:48])),
		PayloadOffset: int64(binary.LittleEndian.Uint64(b[48:56])),
		PayloadSize:   int64(binary.LittleEndian.Uint64(b[56:64])),
	}
}

// encodePayloadBlock writes, for every document, uvarint(len+1) followed by
// the payload, or a single zero for a document without one.
func encodePayloadBlock(byDoc [][]byte, docCount int) []byte {
	var out []byte
	for doc := 0; doc < docCount; doc++ {
		var data []byte
		if doc < len(byDoc) {
			data = byDoc[doc]
		}
		if data == nil {
			out = binary.AppendUvarint(out, 0)
			continue
		}
		out = binary.AppendUvarint(out, uint64(len(data))+1)
		out = append(out, data...)
	}
	return out
}

func decodePayloadBlock(block []byte, docCount int) ([][]byte, error) {
	byDoc := make([][]byte, docCount)
	pos := 0
	for doc := 0; doc < docCount; doc++ {
		n, w := binary.Uvarint(block[pos:])
		if w <= 0 {
			return nil, fmt.Errorf("bad payload length for doc %d", doc)
		}
		pos += w
		if n == 0 {
			continue
		}
		end := pos + int(n-1)
		if n-1 > uint64(len(block)) || end > len(block) {
			return nil, fmt.Errorf("payload of doc %d overruns block", doc)
		}
		byDoc[doc] = block[pos:end:end]
		pos = end
	}
	if pos != len(block) {
		return nil, fmt.Errorf("%d trailing bytes in payload block", len(block)-pos)
	}
	return byDoc, nil
}
