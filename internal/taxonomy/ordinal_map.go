package taxonomy

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// OrdinalMap records how the ordinals of a merged taxonomy map onto the
// ordinals of the taxonomy it was merged into.
type OrdinalMap interface {
	SetSize(n int) error
	AddMapping(origOrdinal, newOrdinal int32) error
	AddDone() error
	// Map returns a slice indexed by original ordinal. It is only valid
	// after AddDone.
	Map() ([]int32, error)
}

// MemoryOrdinalMap keeps the mapping in a slice.
type MemoryOrdinalMap struct {
	mapping []int32
}

func NewMemoryOrdinalMap() *MemoryOrdinalMap {
	return &MemoryOrdinalMap{}
}

func (m *MemoryOrdinalMap) SetSize(n int) error {
	m.mapping = make([]int32, n)
	return nil
}

func (m *MemoryOrdinalMap) AddMapping(orig, ord int32) error {
	if orig < 0 || int(orig) >= len(m.mapping) {
		return fmt.Errorf("%w: ordinal %d outside map of size %d", apperrors.ErrInvalidArgument, orig, len(m.mapping))
	}
	m.mapping[orig] = ord
	return nil
}

func (m *MemoryOrdinalMap) AddDone() error { return nil }

func (m *MemoryOrdinalMap) Map() ([]int32, error) { return m.mapping, nil }

// DiskOrdinalMap spools mappings to a file so merging large taxonomies does
// not hold both sides in memory. The file is removed once Map has read it.
type DiskOrdinalMap struct {
	path   string
	file   *os.File
	w      *bufio.Writer
	size   int
	done   bool
	result []int32
}

func NewDiskOrdinalMap(path string) (*DiskOrdinalMap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating ordinal map file: %w", err)
	}
	return &DiskOrdinalMap{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

func (m *DiskOrdinalMap) SetSize(n int) error {
	m.size = n
	return binary.Write(m.w, binary.LittleEndian, int32(n))
}

func (m *DiskOrdinalMap) AddMapping(orig, ord int32) error {
	if err := binary.Write(m.w, binary.LittleEndian, orig); err != nil {
		return fmt.Errorf("writing ordinal mapping: %w", err)
	}
	if err := binary.Write(m.w, binary.LittleEndian, ord); err != nil {
		return fmt.Errorf("writing ordinal mapping: %w", err)
	}
	return nil
}

func (m *DiskOrdinalMap) AddDone() error {
	if m.done {
		return nil
	}
	m.done = true
	if err := m.w.Flush(); err != nil {
		m.file.Close()
		return fmt.Errorf("flushing ordinal map: %w", err)
	}
	return m.file.Close()
}

func (m *DiskOrdinalMap) Map() ([]int32, error) {
	if m.result != nil {
		return m.result, nil
	}
	if !m.done {
		return nil, fmt.Errorf("%w: ordinal map read before AddDone", apperrors.ErrIllegalState)
	}
	f, err := os.Open(m.path)
	if err != nil {
		return nil, fmt.Errorf("opening ordinal map file: %w", err)
	}
	defer os.Remove(m.path)
	defer f.Close()

	r := bufio.NewReader(f)
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: reading ordinal map size: %v", apperrors.ErrCorruptData, err)
	}
	out := make([]int32, n)
	var pair [2]int32
	for {
		err := binary.Read(r, binary.LittleEndian, &pair)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading ordinal mapping: %v", apperrors.ErrCorruptData, err)
		}
		if pair[0] < 0 || pair[0] >= n {
			return nil, fmt.Errorf("%w: ordinal %d outside map of size %d", apperrors.ErrCorruptData, pair[0], n)
		}
		out[pair[0]] = pair[1]
	}
	m.result = out
	return out, nil
}
