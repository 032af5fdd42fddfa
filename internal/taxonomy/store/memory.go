package store

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

type memoryCommit struct {
	cp   CommitPoint
	base int32
	cats []Category
}

// MemoryDirectory keeps commits in process memory. It is used by tests and
// by services that rebuild their taxonomy on start.
type MemoryDirectory struct {
	mu      sync.RWMutex
	commits []memoryCommit
	closed  bool
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{}
}

func (d *MemoryDirectory) LatestCommit(_ context.Context) (CommitPoint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return CommitPoint{}, fmt.Errorf("%w: memory directory", apperrors.ErrObjectClosed)
	}
	if len(d.commits) == 0 {
		return CommitPoint{}, apperrors.ErrIndexNotFound
	}
	cp := d.commits[len(d.commits)-1].cp
	cp.UserData = cloneUserData(cp.UserData)
	return cp, nil
}

func (d *MemoryDirectory) ReadCategories(_ context.Context, cp CommitPoint, from, to int32) ([]Category, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, fmt.Errorf("%w: memory directory", apperrors.ErrObjectClosed)
	}
	if from < 0 || to > cp.Size || from > to {
		return nil, fmt.Errorf("%w: range [%d, %d) outside snapshot of %d", apperrors.ErrInvalidArgument, from, to, cp.Size)
	}
	out := make([]Category, 0, to-from)
	for _, c := range d.commits {
		if c.cp.Generation < cp.ChainStart || c.cp.Generation > cp.Generation {
			continue
		}
		out = appendRange(out, c.base, c.cats, from, to)
	}
	if int32(len(out)) != to-from {
		return nil, fmt.Errorf("%w: read %d categories for range [%d, %d)", apperrors.ErrCorruptData, len(out), from, to)
	}
	return out, nil
}

// appendRange appends the part of cats (starting at ordinal base) that
// falls in [from, to).
func appendRange(dst []Category, base int32, cats []Category, from, to int32) []Category {
	lo := max(from, base) - base
	hi := min(to, base+int32(len(cats))) - base
	if lo < hi {
		dst = append(dst, cats[lo:hi]...)
	}
	return dst
}

func (d *MemoryDirectory) Commit(_ context.Context, base int32, cats []Category, userData map[string]string) (CommitPoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return CommitPoint{}, fmt.Errorf("%w: memory directory", apperrors.ErrObjectClosed)
	}
	var latest CommitPoint
	if len(d.commits) > 0 {
		latest = d.commits[len(d.commits)-1].cp
	}
	if base != 0 && base != latest.Size {
		return CommitPoint{}, fmt.Errorf("%w: commit base %d does not match taxonomy size %d", apperrors.ErrIllegalState, base, latest.Size)
	}
	cp := CommitPoint{
		Generation: latest.Generation + 1,
		ChainStart: latest.ChainStart,
		Size:       base + int32(len(cats)),
		UserData:   cloneUserData(userData),
	}
	if base == 0 {
		cp.ChainStart = cp.Generation
	}
	d.commits = append(d.commits, memoryCommit{cp: cp, base: base, cats: append([]Category(nil), cats...)})
	out := cp
	out.UserData = cloneUserData(cp.UserData)
	return out, nil
}

func (d *MemoryDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
