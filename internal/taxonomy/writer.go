package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/store"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/writercache"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/metrics"
)

// OpenMode selects what OpenWriter does with an existing taxonomy.
type OpenMode int

const (
	// CreateOrAppend appends to an existing taxonomy or starts a new one.
	CreateOrAppend OpenMode = iota
	// Create starts a new taxonomy and bumps the epoch. Readers keep
	// seeing the old one until the first commit.
	Create
	// Append requires an existing taxonomy.
	Append
)

// ParseOpenMode accepts create, append and create_or_append.
func ParseOpenMode(s string) (OpenMode, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "_")) {
	case "", "create_or_append":
		return CreateOrAppend, nil
	case "create":
		return Create, nil
	case "append":
		return Append, nil
	default:
		return CreateOrAppend, fmt.Errorf("%w: unknown open mode %q", apperrors.ErrInvalidArgument, s)
	}
}

// DefaultCacheMissesUntilFill is how many committed-taxonomy lookups the
// writer tolerates before loading every committed category into its cache.
const DefaultCacheMissesUntilFill = 11

// WriterOption customises a Writer.
type WriterOption func(*Writer)

// WithWriterCache replaces the default complete cache.
func WithWriterCache(c writercache.Cache) WriterOption {
	return func(w *Writer) { w.cache = c }
}

// WithCacheMissesUntilFill changes DefaultCacheMissesUntilFill.
func WithCacheMissesUntilFill(n int) WriterOption {
	return func(w *Writer) { w.cacheMissesUntilFill = n }
}

// WithWriterMetrics records additions, cache lookups and commits.
func WithWriterMetrics(m *metrics.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

type preparedCommit struct {
	count int
	data  map[string]string
}

// Writer assigns ordinals to categories. AddCategory is safe for concurrent
// use: cached categories resolve without locking and new ones are assigned
// under a single lock, so concurrent additions of one path agree on its
// ordinal.
type Writer struct {
	mu     sync.Mutex
	closed atomic.Bool

	dir store.Directory

	cache                writercache.Cache
	cacheIsComplete      bool
	shouldFillCache      bool
	cacheMisses          int
	cacheMissesUntilFill int

	// fresh is set until the first commit of a new chain. While fresh,
	// nothing committed belongs to this taxonomy.
	fresh         bool
	commit        store.CommitPoint
	committedSize int32
	pending       []store.Category
	pendingIdx    map[string]int32
	nextID        int32
	epoch         int64
	commitData    map[string]string
	prepared      *preparedCommit

	reader      *Reader
	readerStale bool

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// OpenWriter opens a writer over dir.
func OpenWriter(ctx context.Context, dir store.Directory, mode OpenMode, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		dir:                  dir,
		shouldFillCache:      true,
		cacheMissesUntilFill: DefaultCacheMissesUntilFill,
		pendingIdx:           make(map[string]int32),
		commitData:           make(map[string]string),
		logger:               slog.Default().With("component", "taxonomy-writer"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cache == nil {
		w.cache = writercache.NewComplete(1024)
	}

	cp, err := dir.LatestCommit(ctx)
	exists := err == nil
	if err != nil && !errors.Is(err, apperrors.ErrIndexNotFound) {
		return nil, fmt.Errorf("opening taxonomy writer: %w", err)
	}
	if mode == Append && !exists {
		return nil, fmt.Errorf("opening taxonomy writer in append mode: %w", apperrors.ErrIndexNotFound)
	}
	if exists {
		w.epoch = epochOf(cp)
	}
	if mode == Create {
		w.epoch++
	}

	if mode == Create || !exists {
		w.fresh = true
		w.cacheIsComplete = true
		w.addCategoryEntry(category.Root, InvalidOrdinal)
	} else {
		w.commit = cp
		w.committedSize = cp.Size
		w.nextID = cp.Size
		for k, v := range cp.UserData {
			if k != EpochKey {
				w.commitData[k] = v
			}
		}
	}
	w.logger.Info("taxonomy writer opened",
		"epoch", w.epoch,
		"size", w.nextID,
		"fresh", w.fresh,
	)
	return w, nil
}

func (w *Writer) ensureOpen() error {
	if w.closed.Load() {
		return fmt.Errorf("%w: taxonomy writer", apperrors.ErrObjectClosed)
	}
	return nil
}

// AddCategory returns the ordinal of p, assigning new ordinals to p and any
// missing ancestors.
func (w *Writer) AddCategory(ctx context.Context, p category.Path) (int32, error) {
	if err := w.ensureOpen(); err != nil {
		return InvalidOrdinal, err
	}
	if ord, ok := w.cache.Get(p); ok {
		w.metrics.ObserveWriterCache(true)
		return ord, nil
	}
	w.metrics.ObserveWriterCache(false)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return InvalidOrdinal, err
	}
	ord, found, err := w.findCategory(ctx, p)
	if err != nil {
		return InvalidOrdinal, err
	}
	if found {
		return ord, nil
	}
	return w.internalAddCategory(ctx, p)
}

// findCategory looks p up in the cache, the uncommitted categories and
// finally the committed taxonomy. Callers hold w.mu.
func (w *Writer) findCategory(ctx context.Context, p category.Path) (int32, bool, error) {
	if ord, ok := w.cache.Get(p); ok {
		return ord, true, nil
	}
	if ord, ok := w.pendingIdx[p.Key()]; ok {
		return ord, true, nil
	}
	if w.fresh || w.committedSize == 0 || w.cacheIsComplete {
		return InvalidOrdinal, false, nil
	}

	w.cacheMisses++
	if err := w.perhapsFillCache(ctx); err != nil {
		return InvalidOrdinal, false, err
	}
	if ord, ok := w.cache.Get(p); ok {
		return ord, true, nil
	}
	if w.cacheIsComplete {
		return InvalidOrdinal, false, nil
	}

	var (
		ord   int32
		found bool
	)
	if finder, ok := w.dir.(store.OrdinalFinder); ok && w.reader == nil {
		var err error
		if ord, found, err = finder.FindOrdinal(ctx, w.commit, p); err != nil {
			return InvalidOrdinal, false, fmt.Errorf("looking up %v: %w", p, err)
		}
	} else {
		r, err := w.committedReader(ctx)
		if err != nil {
			return InvalidOrdinal, false, err
		}
		if ord, err = r.GetOrdinal(p); err != nil {
			return InvalidOrdinal, false, err
		}
		found = ord != InvalidOrdinal
	}
	if !found {
		return InvalidOrdinal, false, nil
	}
	w.addToCache(p, ord)
	return ord, true, nil
}

// internalAddCategory adds p after making sure its parent exists. Callers
// hold w.mu.
func (w *Writer) internalAddCategory(ctx context.Context, p category.Path) (int32, error) {
	var parent int32
	switch {
	case p.Len() > 1:
		pp := p.Parent()
		ord, found, err := w.findCategory(ctx, pp)
		if err != nil {
			return InvalidOrdinal, err
		}
		if !found {
			if ord, err = w.internalAddCategory(ctx, pp); err != nil {
				return InvalidOrdinal, err
			}
		}
		parent = ord
	case p.Len() == 1:
		parent = RootOrdinal
	default:
		parent = InvalidOrdinal
	}
	return w.addCategoryEntry(p, parent), nil
}

func (w *Writer) addCategoryEntry(p category.Path, parent int32) int32 {
	id := w.nextID
	w.pending = append(w.pending, store.Category{Path: p, Parent: parent})
	w.pendingIdx[p.Key()] = id
	w.nextID++
	w.addToCache(p, id)
	w.metrics.ObserveCategoryAdded(w.nextID)
	return id
}

func (w *Writer) addToCache(p category.Path, ord int32) {
	if w.cache.Put(p, ord) {
		w.cacheIsComplete = false
	}
}

// perhapsFillCache loads every committed category into the cache once
// enough lookups have missed it. Callers hold w.mu.
func (w *Writer) perhapsFillCache(ctx context.Context) error {
	if w.cacheMisses < w.cacheMissesUntilFill || !w.shouldFillCache {
		return nil
	}
	w.shouldFillCache = false
	r, err := w.committedReader(ctx)
	if err != nil {
		return err
	}
	aborted := false
	for ord := int32(0); ord < w.committedSize && !aborted; ord++ {
		aborted = w.cache.Put(r.paths[ord], ord)
	}
	for i := 0; i < len(w.pending) && !aborted; i++ {
		aborted = w.cache.Put(w.pending[i].Path, w.committedSize+int32(i))
	}
	w.cacheIsComplete = !aborted
	w.logger.Debug("writer cache filled",
		"entries", w.cache.Len(),
		"complete", w.cacheIsComplete,
	)
	return nil
}

// committedReader returns a reader over the current chain's committed
// categories. Callers hold w.mu.
func (w *Writer) committedReader(ctx context.Context) (*Reader, error) {
	if w.reader == nil {
		r, err := Open(ctx, w.dir)
		if err != nil {
			return nil, err
		}
		w.reader = r
	} else if w.readerStale {
		r, err := OpenIfChanged(ctx, w.reader)
		if err != nil {
			return nil, err
		}
		if r != nil {
			if err := w.reader.Close(); err != nil {
				w.logger.Warn("failed to release previous taxonomy generation", "error", err)
			}
			w.reader = r
		}
	}
	w.readerStale = false
	if int32(len(w.reader.paths)) < w.committedSize || w.reader.commit.ChainStart != w.commit.ChainStart {
		return nil, fmt.Errorf("%w: taxonomy was modified by another writer", apperrors.ErrIllegalState)
	}
	return w.reader, nil
}

// GetParent returns the parent of ordinal. The root's parent is
// InvalidOrdinal.
func (w *Writer) GetParent(ctx context.Context, ordinal int32) (int32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return InvalidOrdinal, err
	}
	if ordinal < 0 || ordinal >= w.nextID {
		return InvalidOrdinal, fmt.Errorf("%w: requested ordinal %d is out of bounds [0, %d)", apperrors.ErrInvalidArgument, ordinal, w.nextID)
	}
	if ordinal >= w.committedSize {
		return w.pending[ordinal-w.committedSize].Parent, nil
	}
	r, err := w.committedReader(ctx)
	if err != nil {
		return InvalidOrdinal, err
	}
	return r.arrays.parents[ordinal], nil
}

// Size returns the number of ordinals assigned, committed or not.
func (w *Writer) Size() (int32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	return w.nextID, nil
}

// Generation returns the generation of the last commit this writer made or
// opened, or 0 when there is none.
func (w *Writer) Generation() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commit.Generation
}

// Epoch returns the index epoch the next commit will carry.
func (w *Writer) Epoch() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch
}

// SetCommitData replaces the data stored with the next commit. The epoch
// key is managed by the writer and cannot be overridden.
func (w *Writer) SetCommitData(data map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.commitData = maps.Clone(data)
	if w.commitData == nil {
		w.commitData = make(map[string]string)
	}
	delete(w.commitData, EpochKey)
	return nil
}

// CommitData returns the data the next commit will store, epoch included.
func (w *Writer) CommitData() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.combinedCommitData()
}

func (w *Writer) combinedCommitData() map[string]string {
	out := maps.Clone(w.commitData)
	if out == nil {
		out = make(map[string]string)
	}
	out[EpochKey] = formatEpoch(w.epoch)
	return out
}

// PrepareCommit fixes the categories and data of the next Commit.
// Categories added afterwards stay pending until the commit after that.
func (w *Writer) PrepareCommit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	if w.prepared != nil {
		return fmt.Errorf("%w: PrepareCommit was already called", apperrors.ErrIllegalState)
	}
	w.prepared = &preparedCommit{count: len(w.pending), data: w.combinedCommitData()}
	return nil
}

// Commit makes pending categories and commit data durable. Nothing is
// written when neither changed.
func (w *Writer) Commit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	return w.commitLocked(ctx)
}

func (w *Writer) commitLocked(ctx context.Context) error {
	n := len(w.pending)
	data := w.combinedCommitData()
	if w.prepared != nil {
		n, data = w.prepared.count, w.prepared.data
	}
	if n == 0 && !w.fresh && maps.Equal(data, w.commit.UserData) {
		w.prepared = nil
		w.metrics.ObserveCommit(true, nil)
		return nil
	}

	base := w.committedSize
	batch := w.pending[:n]
	cp, err := w.dir.Commit(ctx, base, batch, data)
	w.metrics.ObserveCommit(false, err)
	if err != nil {
		return fmt.Errorf("committing taxonomy: %w", err)
	}
	for _, c := range batch {
		delete(w.pendingIdx, c.Path.Key())
	}
	w.pending = append([]store.Category(nil), w.pending[n:]...)
	w.commit = cp
	w.committedSize = base + int32(n)
	w.fresh = false
	w.prepared = nil
	w.readerStale = true
	w.logger.Info("taxonomy committed",
		"generation", cp.Generation,
		"epoch", w.epoch,
		"new_categories", n,
		"size", w.committedSize,
	)
	return nil
}

// Rollback discards everything not yet committed and closes the writer.
func (w *Writer) Rollback() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.pending = nil
	w.pendingIdx = nil
	w.prepared = nil
	w.nextID = w.committedSize
	w.cache.Close()
	return w.releaseReader()
}

// Close commits and closes the writer. Further calls do nothing.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed.Load() {
		return nil
	}
	err := w.commitLocked(ctx)
	w.closed.Store(true)
	w.cache.Close()
	return errors.Join(err, w.releaseReader())
}

func (w *Writer) releaseReader() error {
	if w.reader == nil {
		return nil
	}
	err := w.reader.Close()
	w.reader = nil
	return err
}

// ReplaceTaxonomy replaces this taxonomy with the latest commit of src and
// bumps the epoch. The replacement becomes visible on the next commit.
func (w *Writer) ReplaceTaxonomy(ctx context.Context, src store.Directory) error {
	cp, err := src.LatestCommit(ctx)
	if err != nil {
		return fmt.Errorf("reading replacement taxonomy: %w", err)
	}
	cats, err := src.ReadCategories(ctx, cp, 0, cp.Size)
	if err != nil {
		return fmt.Errorf("reading replacement taxonomy: %w", err)
	}
	if len(cats) == 0 || !cats[0].Path.IsRoot() {
		return fmt.Errorf("%w: replacement taxonomy has no root", apperrors.ErrCorruptData)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	w.pending = append([]store.Category(nil), cats...)
	w.pendingIdx = make(map[string]int32, len(cats))
	for i, c := range cats {
		w.pendingIdx[c.Path.Key()] = int32(i)
	}
	w.nextID = int32(len(cats))
	w.committedSize = 0
	w.fresh = true
	w.prepared = nil
	w.cache.Clear()
	w.cacheIsComplete = false
	w.shouldFillCache = true
	w.cacheMisses = 0
	w.epoch++
	w.logger.Info("taxonomy replaced", "epoch", w.epoch, "size", w.nextID)
	return nil
}

// AddTaxonomy merges the latest commit of src into this taxonomy and
// records in m which ordinal each of src's categories received.
func (w *Writer) AddTaxonomy(ctx context.Context, src store.Directory, m OrdinalMap) error {
	cp, err := src.LatestCommit(ctx)
	if err != nil {
		return fmt.Errorf("reading taxonomy to merge: %w", err)
	}
	cats, err := src.ReadCategories(ctx, cp, 0, cp.Size)
	if err != nil {
		return fmt.Errorf("reading taxonomy to merge: %w", err)
	}
	if err := m.SetSize(len(cats)); err != nil {
		return err
	}
	for i, c := range cats {
		ord, err := w.AddCategory(ctx, c.Path)
		if err != nil {
			return err
		}
		if err := m.AddMapping(int32(i), ord); err != nil {
			return err
		}
	}
	return m.AddDone()
}
