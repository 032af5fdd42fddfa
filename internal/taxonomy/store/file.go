package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// MagicBytes identifies a valid .sptx commit file.
const (
	MagicBytes    uint32 = 0x53505458
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 32

	filePrefix = "taxo_"
	fileSuffix = ".sptx"
)

// CommitHeader is the 64-byte header written at the start of every commit
// file.
type CommitHeader struct {
	Magic        uint32
	Version      uint32
	Generation   int64
	ChainStart   int64
	Base         int32
	Count        int32
	CreatedAt    int64
	DataSize     int64
	UserDataSize int64
}

// FileDirectory stores each commit as one immutable file named after its
// generation. Files are written to a temporary name and renamed into place.
type FileDirectory struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// OpenFileDirectory creates dir if needed.
func OpenFileDirectory(dir string) (*FileDirectory, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating taxonomy directory: %w", err)
	}
	return &FileDirectory{
		dir:    dir,
		logger: slog.Default().With("component", "taxonomy-file-store", "dir", dir),
	}, nil
}

// Path returns the directory on disk.
func (d *FileDirectory) Path() string { return d.dir }

func commitFileName(gen int64) string {
	return fmt.Sprintf("%s%020d%s", filePrefix, gen, fileSuffix)
}

// generations lists committed generations in ascending order.
func (d *FileDirectory) generations() ([]int64, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("listing taxonomy directory: %w", err)
	}
	var gens []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		gen, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, gen)
	}
	slices.Sort(gens)
	return gens, nil
}

func (d *FileDirectory) LatestCommit(_ context.Context) (CommitPoint, error) {
	gens, err := d.generations()
	if err != nil {
		return CommitPoint{}, err
	}
	if len(gens) == 0 {
		return CommitPoint{}, apperrors.ErrIndexNotFound
	}
	header, userData, err := d.readMeta(gens[len(gens)-1])
	if err != nil {
		return CommitPoint{}, err
	}
	return commitPointOf(header, userData), nil
}

func commitPointOf(h CommitHeader, userData map[string]string) CommitPoint {
	return CommitPoint{
		Generation: h.Generation,
		ChainStart: h.ChainStart,
		Size:       h.Base + h.Count,
		UserData:   userData,
	}
}

func (d *FileDirectory) ReadCategories(_ context.Context, cp CommitPoint, from, to int32) ([]Category, error) {
	if from < 0 || to > cp.Size || from > to {
		return nil, fmt.Errorf("%w: range [%d, %d) outside snapshot of %d", apperrors.ErrInvalidArgument, from, to, cp.Size)
	}
	gens, err := d.generations()
	if err != nil {
		return nil, err
	}
	out := make([]Category, 0, to-from)
	for _, gen := range gens {
		if gen < cp.ChainStart || gen > cp.Generation {
			continue
		}
		header, _, err := d.readMeta(gen)
		if err != nil {
			return nil, err
		}
		if header.Base+header.Count <= from || header.Base >= to {
			continue
		}
		_, cats, _, err := d.readFile(gen)
		if err != nil {
			return nil, err
		}
		out = appendRange(out, header.Base, cats, from, to)
	}
	if int32(len(out)) != to-from {
		return nil, fmt.Errorf("%w: read %d categories for range [%d, %d) of generation %d",
			apperrors.ErrCorruptData, len(out), from, to, cp.Generation)
	}
	return out, nil
}

func (d *FileDirectory) Commit(_ context.Context, base int32, cats []Category, userData map[string]string) (CommitPoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	gens, err := d.generations()
	if err != nil {
		return CommitPoint{}, err
	}
	var latest CommitHeader
	if len(gens) > 0 {
		if latest, _, err = d.readMeta(gens[len(gens)-1]); err != nil {
			return CommitPoint{}, err
		}
	}
	if base != 0 && base != latest.Base+latest.Count {
		return CommitPoint{}, fmt.Errorf("%w: commit base %d does not match taxonomy size %d",
			apperrors.ErrIllegalState, base, latest.Base+latest.Count)
	}
	header := CommitHeader{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		Generation: latest.Generation + 1,
		ChainStart: latest.ChainStart,
		Base:       base,
		Count:      int32(len(cats)),
		CreatedAt:  time.Now().Unix(),
	}
	if base == 0 {
		header.ChainStart = header.Generation
	}
	if userData == nil {
		userData = map[string]string{}
	}
	if err := d.writeFile(header, cats, userData); err != nil {
		return CommitPoint{}, err
	}
	if base == 0 {
		d.prune(gens)
	}
	return commitPointOf(header, cloneUserData(userData)), nil
}

// prune removes commits superseded by a new chain. Failures only leave
// garbage behind.
func (d *FileDirectory) prune(gens []int64) {
	for _, gen := range gens {
		if err := os.Remove(filepath.Join(d.dir, commitFileName(gen))); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("failed to remove superseded commit", "generation", gen, "error", err)
		}
	}
}

func (d *FileDirectory) writeFile(header CommitHeader, cats []Category, userData map[string]string) error {
	finalPath := filepath.Join(d.dir, commitFileName(header.Generation))
	tmpPath := finalPath + ".tmp"

	var data []byte
	for _, c := range cats {
		key := c.Path.Key()
		data = binary.LittleEndian.AppendUint32(data, uint32(c.Parent))
		data = binary.AppendUvarint(data, uint64(len(key)))
		data = append(data, key...)
	}
	userBytes, err := json.Marshal(userData)
	if err != nil {
		return fmt.Errorf("marshaling commit data: %w", err)
	}
	header.DataSize = int64(len(data))
	header.UserDataSize = int64(len(userBytes))

	headerBytes := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(headerBytes[0:4], header.Magic)
	binary.LittleEndian.PutUint32(headerBytes[4:8], header.Version)
	binary.LittleEndian.PutUint64(headerBytes[8:16], uint64(header.Generation))
	binary.LittleEndian.PutUint64(headerBytes[16:24], uint64(header.ChainStart))
	binary.LittleEndian.PutUint32(headerBytes[24:28], uint32(header.Base))
	binary.LittleEndian.PutUint32(headerBytes[28:32], uint32(header.Count))
	binary.LittleEndian.PutUint64(headerBytes[32:40], uint64(header.CreatedAt))
	binary.LittleEndian.PutUint64(headerBytes[40:48], uint64(header.DataSize))
	binary.LittleEndian.PutUint64(headerBytes[48:56], uint64(header.UserDataSize))

	crc := crc32.NewIEEE()
	crc.Write(data)
	crc.Write(userBytes)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], uint32(header.Count))
	binary.LittleEndian.PutUint32(footer[8:12], uint32(header.Base+header.Count))

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp commit file: %w", err)
	}
	defer f.Close()
	for _, part := range [][]byte{headerBytes, data, userBytes, footer} {
		if _, err := f.Write(part); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("writing commit file: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("syncing commit file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming commit file: %w", err)
	}
	return nil
}

func parseHeader(b []byte) (CommitHeader, error) {
	h := CommitHeader{
		Magic:        binary.LittleEndian.Uint32(b[0:4]),
		Version:      binary.LittleEndian.Uint32(b[4:8]),
		Generation:   int64(binary.LittleEndian.Uint64(b[8:16])),
		ChainStart:   int64(binary.LittleEndian.Uint64(b[16:24])),
		Base:         int32(binary.LittleEndian.Uint32(b[24:28])),
		Count:        int32(binary.LittleEndian.Uint32(b[28:32])),
		CreatedAt:    int64(binary.LittleEndian.Uint64(b[32:40])),
		DataSize:     int64(binary.LittleEndian.Uint64(b[40:48])),
		UserDataSize: int64(binary.LittleEndian.Uint64(b[48:56])),
	}
	if h.Magic != MagicBytes {
		return h, fmt.Errorf("%w: bad magic bytes %x", apperrors.ErrCorruptData, h.Magic)
	}
	if h.Version != FormatVersion {
		return h, fmt.Errorf("%w: unsupported format version %d", apperrors.ErrCorruptData, h.Version)
	}
	if h.Base < 0 || h.Count < 0 || h.DataSize < 0 || h.UserDataSize < 0 {
		return h, fmt.Errorf("%w: negative sizes in header", apperrors.ErrCorruptData)
	}
	return h, nil
}

// checkSizes verifies that the block sizes in h describe a file of exactly
// fileSize bytes. Header fields are not covered by the checksum.
func checkSizes(h CommitHeader, fileSize int64, gen int64) error {
	body := fileSize - int64(HeaderSize) - int64(FooterSize)
	if body < 0 || h.DataSize > body || h.UserDataSize != body-h.DataSize {
		return fmt.Errorf("%w: commit file of generation %d has wrong length", apperrors.ErrCorruptData, gen)
	}
	return nil
}

// readMeta reads the header and commit data without the category block.
func (d *FileDirectory) readMeta(gen int64) (CommitHeader, map[string]string, error) {
	f, err := os.Open(filepath.Join(d.dir, commitFileName(gen)))
	if err != nil {
		return CommitHeader{}, nil, fmt.Errorf("opening commit file: %w", err)
	}
	defer f.Close()

	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return CommitHeader{}, nil, fmt.Errorf("%w: reading header of generation %d: %v", apperrors.ErrCorruptData, gen, err)
	}
	header, err := parseHeader(headerBytes)
	if err != nil {
		return header, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return header, nil, fmt.Errorf("stat commit file: %w", err)
	}
	if err := checkSizes(header, info.Size(), gen); err != nil {
		return header, nil, err
	}
	userBytes := make([]byte, header.UserDataSize)
	if _, err := f.ReadAt(userBytes, int64(HeaderSize)+header.DataSize); err != nil && !errors.Is(err, io.EOF) {
		return header, nil, fmt.Errorf("reading commit data: %w", err)
	}
	userData := map[string]string{}
	if err := json.Unmarshal(userBytes, &userData); err != nil {
		return header, nil, fmt.Errorf("%w: parsing commit data: %v", apperrors.ErrCorruptData, err)
	}
	return header, userData, nil
}

// readFile reads and verifies a whole commit file.
func (d *FileDirectory) readFile(gen int64) (CommitHeader, []Category, map[string]string, error) {
	raw, err := os.ReadFile(filepath.Join(d.dir, commitFileName(gen)))
	if err != nil {
		return CommitHeader{}, nil, nil, fmt.Errorf("reading commit file: %w", err)
	}
	if len(raw) < HeaderSize+FooterSize {
		return CommitHeader{}, nil, nil, fmt.Errorf("%w: commit file of generation %d too short", apperrors.ErrCorruptData, gen)
	}
	header, err := parseHeader(raw[:HeaderSize])
	if err != nil {
		return header, nil, nil, err
	}
	if err := checkSizes(header, int64(len(raw)), gen); err != nil {
		return header, nil, nil, err
	}
	data := raw[HeaderSize : int64(HeaderSize)+header.DataSize]
	userBytes := raw[int64(HeaderSize)+header.DataSize : int64(len(raw))-int64(FooterSize)]
	footer := raw[len(raw)-FooterSize:]

	crc := crc32.NewIEEE()
	crc.Write(data)
	crc.Write(userBytes)
	if want := binary.LittleEndian.Uint32(footer[0:4]); crc.Sum32() != want {
		return header, nil, nil, fmt.Errorf("%w: checksum mismatch in generation %d", apperrors.ErrCorruptData, gen)
	}

	cats := make([]Category, 0, header.Count)
	for pos := 0; pos < len(data); {
		if pos+4 > len(data) {
			return header, nil, nil, fmt.Errorf("%w: truncated entry in generation %d", apperrors.ErrCorruptData, gen)
		}
		parent := int32(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		keyLen, n := binary.Uvarint(data[pos:])
		if n <= 0 || uint64(len(data)-pos-n) < keyLen {
			return header, nil, nil, fmt.Errorf("%w: bad key length in generation %d", apperrors.ErrCorruptData, gen)
		}
		pos += n
		p, err := category.ParseKey(string(data[pos : pos+int(keyLen)]))
		if err != nil {
			return header, nil, nil, err
		}
		pos += int(keyLen)
		cats = append(cats, Category{Path: p, Parent: parent})
	}
	if int32(len(cats)) != header.Count {
		return header, nil, nil, fmt.Errorf("%w: generation %d declares %d categories, found %d",
			apperrors.ErrCorruptData, gen, header.Count, len(cats))
	}
	userData := map[string]string{}
	if err := json.Unmarshal(userBytes, &userData); err != nil {
		return header, nil, nil, fmt.Errorf("%w: parsing commit data: %v", apperrors.ErrCorruptData, err)
	}
	return header, cats, userData, nil
}

func (d *FileDirectory) Close() error { return nil }
