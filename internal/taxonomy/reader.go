package taxonomy

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/metrics"
)

// ReaderOption customises a Reader.
type ReaderOption func(*Reader)

// WithReaderMetrics records open generations and reopen outcomes.
func WithReaderMetrics(m *metrics.Metrics) ReaderOption {
	return func(r *Reader) { r.metrics = m }
}

// WithCloseHook runs fn when the last reference of a generation is
// released. A failing hook leaves the generation open so the release can be
// retried. Reopened generations inherit the hook.
func WithCloseHook(fn func() error) ReaderOption {
	return func(r *Reader) { r.closeHook = fn }
}

// Reader is an immutable snapshot of one committed taxonomy generation.
//
// A Reader starts with one reference owned by whoever opened it. Close
// releases that reference; IncRef/TryIncRef and DecRef manage additional
// ones. The generation is torn down exactly once, by the DecRef that drops
// the count to zero. Every accessor fails with ErrObjectClosed afterwards.
type Reader struct {
	refCount atomic.Int32
	closed   atomic.Bool
	closeMu  sync.Mutex

	dir      store.Directory
	commit   store.CommitPoint
	epoch    int64
	paths    []category.Path
	ordinals map[string]int32
	arrays   *ParallelArrays

	metrics   *metrics.Metrics
	closeHook func() error
	logger    *slog.Logger
}

// Open reads the latest commit of dir. It fails with ErrIndexNotFound when
// nothing was ever committed.
func Open(ctx context.Context, dir store.Directory, opts ...ReaderOption) (*Reader, error) {
	cp, err := dir.LatestCommit(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening taxonomy reader: %w", err)
	}
	r := newReader(dir, cp, opts...)
	cats, err := dir.ReadCategories(ctx, cp, 0, cp.Size)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy generation %d: %w", cp.Generation, err)
	}
	parents, err := r.load(cats, 0, nil)
	if err != nil {
		return nil, err
	}
	r.arrays = newParallelArrays(parents)
	r.opened("full")
	return r, nil
}

func newReader(dir store.Directory, cp store.CommitPoint, opts ...ReaderOption) *Reader {
	r := &Reader{
		dir:    dir,
		commit: cp,
		epoch:  epochOf(cp),
		logger: slog.Default().With("component", "taxonomy-reader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.refCount.Store(1)
	return r
}

// load appends cats, whose first ordinal is base, to the path tables and
// returns their parents. Parents must point at lower ordinals.
func (r *Reader) load(cats []store.Category, base int32, prev *Reader) ([]int32, error) {
	if prev == nil {
		r.paths = make([]category.Path, 0, len(cats))
		r.ordinals = make(map[string]int32, len(cats))
	} else {
		r.paths = make([]category.Path, len(prev.paths), len(prev.paths)+len(cats))
		copy(r.paths, prev.paths)
		r.ordinals = maps.Clone(prev.ordinals)
	}
	parents := make([]int32, len(cats))
	for i, c := range cats {
		ord := base + int32(i)
		switch {
		case ord == RootOrdinal:
			if !c.Path.IsRoot() || c.Parent != InvalidOrdinal {
				return nil, fmt.Errorf("%w: ordinal 0 is %v with parent %d", apperrors.ErrCorruptData, c.Path, c.Parent)
			}
		case c.Parent < 0 || c.Parent >= ord:
			return nil, fmt.Errorf("%w: ordinal %d has parent %d", apperrors.ErrCorruptData, ord, c.Parent)
		}
		r.paths = append(r.paths, c.Path)
		r.ordinals[c.Path.Key()] = ord
		parents[i] = c.Parent
	}
	return parents, nil
}

func (r *Reader) opened(kind string) {
	r.metrics.ReaderOpened()
	r.logger.Debug("taxonomy generation opened",
		"generation", r.commit.Generation,
		"epoch", r.epoch,
		"size", len(r.paths),
		"kind", kind,
	)
}

// OpenIfChanged returns a reader for the latest commit, or nil when old is
// already current. old is left untouched and keeps its own references. A
// newer commit in the same epoch is loaded incrementally; a changed epoch
// forces a full reload.
func OpenIfChanged(ctx context.Context, old *Reader) (*Reader, error) {
	if err := old.ensureOpen(); err != nil {
		return nil, err
	}
	cp, err := old.dir.LatestCommit(ctx)
	if err != nil {
		old.metrics.ObserveReopen(false, err)
		return nil, fmt.Errorf("checking for taxonomy changes: %w", err)
	}
	if cp.Generation == old.commit.Generation {
		old.metrics.ObserveReopen(false, nil)
		return nil, nil
	}

	opts := []ReaderOption{WithReaderMetrics(old.metrics), WithCloseHook(old.closeHook)}
	var r *Reader
	if epochOf(cp) != old.epoch || cp.ChainStart != old.commit.ChainStart || cp.Size < old.commit.Size {
		r, err = Open(ctx, old.dir, opts...)
	} else {
		r, err = reopenIncremental(ctx, old, cp, opts)
	}
	old.metrics.ObserveReopen(err == nil, err)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func reopenIncremental(ctx context.Context, old *Reader, cp store.CommitPoint, opts []ReaderOption) (*Reader, error) {
	base := int32(len(old.paths))
	cats, err := old.dir.ReadCategories(ctx, cp, base, cp.Size)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy generation %d: %w", cp.Generation, err)
	}
	r := newReader(old.dir, cp, opts...)
	parents, err := r.load(cats, base, old)
	if err != nil {
		return nil, err
	}
	r.arrays = old.arrays.extend(parents)
	r.opened("incremental")
	return r, nil
}

func (r *Reader) ensureOpen() error {
	if r.refCount.Load() <= 0 {
		return fmt.Errorf("%w: taxonomy reader generation %d", apperrors.ErrObjectClosed, r.commit.Generation)
	}
	return nil
}

// IncRef adds a reference. It fails with ErrObjectClosed once the count has
// reached zero, even when that happens concurrently.
func (r *Reader) IncRef() error {
	if !r.TryIncRef() {
		return fmt.Errorf("%w: taxonomy reader generation %d", apperrors.ErrObjectClosed, r.commit.Generation)
	}
	return nil
}

// TryIncRef adds a reference only while the count is positive. It never
// revives a reader whose count already reached zero.
func (r *Reader) TryIncRef() bool {
	for {
		count := r.refCount.Load()
		if count <= 0 {
			return false
		}
		if r.refCount.CompareAndSwap(count, count+1) {
			return true
		}
	}
}

// DecRef releases a reference. The call that reaches zero tears the
// generation down; if that fails the reference is restored.
func (r *Reader) DecRef() error {
	rc := r.refCount.Add(-1)
	switch {
	case rc == 0:
		if err := r.doClose(); err != nil {
			r.refCount.Add(1)
			return fmt.Errorf("closing taxonomy reader: %w", err)
		}
		r.closed.Store(true)
	case rc < 0:
		r.refCount.Add(1)
		return fmt.Errorf("%w: too many DecRef calls: refCount is %d after decrement", apperrors.ErrIllegalState, rc)
	}
	return nil
}

func (r *Reader) doClose() error {
	if r.closeHook != nil {
		if err := r.closeHook(); err != nil {
			return err
		}
	}
	r.metrics.ReaderClosed()
	r.logger.Debug("taxonomy generation closed", "generation", r.commit.Generation)
	return nil
}

// Close releases the opener's reference. Further calls do nothing.
func (r *Reader) Close() error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed.Load() {
		return nil
	}
	if err := r.DecRef(); err != nil {
		return err
	}
	r.closed.Store(true)
	return nil
}

// RefCount returns the current number of references.
func (r *Reader) RefCount() int32 { return r.refCount.Load() }

// Generation identifies the commit this reader reflects.
func (r *Reader) Generation() int64 { return r.commit.Generation }

// Epoch is the index epoch of the commit.
func (r *Reader) Epoch() int64 { return r.epoch }

// Size returns the number of ordinals, root included.
func (r *Reader) Size() (int32, error) {
	if err := r.ensureOpen(); err != nil {
		return 0, err
	}
	return int32(len(r.paths)), nil
}

// GetOrdinal returns the ordinal of p, or InvalidOrdinal if p is unknown.
func (r *Reader) GetOrdinal(p category.Path) (int32, error) {
	if err := r.ensureOpen(); err != nil {
		return InvalidOrdinal, err
	}
	if ord, ok := r.ordinals[p.Key()]; ok {
		return ord, nil
	}
	return InvalidOrdinal, nil
}

// GetPath returns the path of ordinal; ok is false when the ordinal is out
// of range.
func (r *Reader) GetPath(ordinal int32) (p category.Path, ok bool, err error) {
	if err := r.ensureOpen(); err != nil {
		return category.Root, false, err
	}
	if ordinal < 0 || int(ordinal) >= len(r.paths) {
		return category.Root, false, nil
	}
	return r.paths[ordinal], true, nil
}

// ParallelArrays returns the tree arrays of this generation.
func (r *Reader) ParallelArrays() (*ParallelArrays, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return r.arrays, nil
}

// Children enumerates the children of ordinal, youngest first. A negative
// ordinal yields nothing. Each range over the result restarts from the
// youngest child.
func (r *Reader) Children(ordinal int32) (iter.Seq[int32], error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	if int(ordinal) >= len(r.paths) {
		return nil, fmt.Errorf("%w: ordinal %d outside taxonomy of size %d", apperrors.ErrInvalidArgument, ordinal, len(r.paths))
	}
	arrays := r.arrays
	return func(yield func(int32) bool) {
		if ordinal < 0 {
			return
		}
		for child := arrays.children[ordinal]; child != InvalidOrdinal; child = arrays.siblings[child] {
			if !yield(child) {
				return
			}
		}
	}, nil
}

// CommitUserData returns a copy of the commit data of this generation.
func (r *Reader) CommitUserData() (map[string]string, error) {
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}
	return maps.Clone(r.commit.UserData), nil
}
