package taxonomy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

// ReaderManager hands out references to the current reader generation and
// swaps in newer generations. Acquire never blocks on a refresh.
type ReaderManager struct {
	refreshMu sync.Mutex
	current   atomic.Pointer[Reader]
	logger    *slog.Logger
}

// NewReaderManager takes over the opener's reference of r.
func NewReaderManager(r *Reader) *ReaderManager {
	m := &ReaderManager{logger: slog.Default().With("component", "taxonomy-reader-manager")}
	m.current.Store(r)
	return m
}

// OpenReaderManager opens the latest commit of dir.
func OpenReaderManager(ctx context.Context, dir store.Directory, opts ...ReaderOption) (*ReaderManager, error) {
	r, err := Open(ctx, dir, opts...)
	if err != nil {
		return nil, err
	}
	return NewReaderManager(r), nil
}

// Acquire returns the current reader with an extra reference. Every
// successful Acquire must be paired with Release.
func (m *ReaderManager) Acquire() (*Reader, error) {
	for {
		r := m.current.Load()
		if r == nil {
			return nil, fmt.Errorf("%w: reader manager", apperrors.ErrObjectClosed)
		}
		if r.TryIncRef() {
			return r, nil
		}
		if r.RefCount() <= 0 && m.current.Load() == r {
			return nil, fmt.Errorf("%w: current reader generation %d was closed outside the manager",
				apperrors.ErrIllegalState, r.Generation())
		}
	}
}

// Release returns a reference obtained from Acquire.
func (m *ReaderManager) Release(r *Reader) error {
	return r.DecRef()
}

// MaybeRefresh swaps in a newer generation if one was committed. The old
// generation is released by the manager and closes once its last holder
// releases it. It reports whether the generation changed.
func (m *ReaderManager) MaybeRefresh(ctx context.Context) (bool, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	old := m.current.Load()
	if old == nil {
		return false, fmt.Errorf("%w: reader manager", apperrors.ErrObjectClosed)
	}
	r, err := OpenIfChanged(ctx, old)
	if err != nil {
		return false, err
	}
	if r == nil {
		return false, nil
	}
	m.current.Store(r)
	if err := old.DecRef(); err != nil {
		m.logger.Warn("failed to release previous taxonomy generation",
			"generation", old.Generation(),
			"error", err,
		)
	}
	m.logger.Info("taxonomy refreshed",
		"from_generation", old.Generation(),
		"to_generation", r.Generation(),
		"epoch", r.Epoch(),
	)
	return true, nil
}

// Close releases the manager's reference to the current generation.
func (m *ReaderManager) Close() error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	r := m.current.Swap(nil)
	if r == nil {
		return nil
	}
	return r.DecRef()
}
