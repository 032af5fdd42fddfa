package taxonomy

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

func committedTaxonomy(t *testing.T, paths ...string) store.Directory {
	t.Helper()
	dir := store.NewMemoryDirectory()
	w := openWriter(t, dir, CreateOrAppend)
	for _, p := range paths {
		add(t, w, p)
	}
	require.NoError(t, w.Close(context.Background()))
	return dir
}

func children(t *testing.T, r *Reader, ord int32) []int32 {
	t.Helper()
	seq, err := r.Children(ord)
	require.NoError(t, err)
	return slices.Collect(seq)
}

func TestOpenWithoutCommit(t *testing.T) {
	_, err := Open(context.Background(), store.NewMemoryDirectory())
	assert.ErrorIs(t, err, apperrors.ErrIndexNotFound)
}

func TestReaderLookups(t *testing.T) {
	r, err := Open(context.Background(), committedTaxonomy(t, "Author/Bob", "Author/Lisa", "Year/2010"))
	require.NoError(t, err)
	defer r.Close()

	n, err := r.Size()
	require.NoError(t, err)
	assert.Equal(t, int32(6), n)

	ord, err := r.GetOrdinal(path("Author/Lisa"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), ord)
	ord, err = r.GetOrdinal(path("Author/Nobody"))
	require.NoError(t, err)
	assert.Equal(t, InvalidOrdinal, ord)
	ord, err = r.GetOrdinal(path(""))
	require.NoError(t, err)
	assert.Equal(t, RootOrdinal, ord)

	p, ok, err := r.GetPath(5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Year/2010", p.String())
	_, ok, err = r.GetPath(6)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = r.GetPath(-1)
	require.NoError(t, err)
	assert.False(t, ok)

	arrays, err := r.ParallelArrays()
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, 0, 1, 1, 0, 4}, arrays.Parents())
}

func TestReaderChildren(t *testing.T) {
	// 1 a, 2 a/x, 3 a/y, 4 b
	r, err := Open(context.Background(), committedTaxonomy(t, "a/x", "a/y", "b"))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []int32{4, 1}, children(t, r, RootOrdinal))
	assert.Equal(t, []int32{3, 2}, children(t, r, 1))
	assert.Empty(t, children(t, r, 2))
	assert.Empty(t, children(t, r, InvalidOrdinal))

	seq, err := r.Children(1)
	require.NoError(t, err)
	assert.Equal(t, slices.Collect(seq), slices.Collect(seq), "ranging again restarts")
	for child := range seq {
		assert.Equal(t, int32(3), child)
		break
	}

	_, err = r.Children(5)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestOpenIfChanged(t *testing.T) {
	ctx := context.Background()
	dir := store.NewMemoryDirectory()
	w := openWriter(t, dir, CreateOrAppend)
	add(t, w, "a")
	require.NoError(t, w.Commit(ctx))

	r, err := Open(ctx, dir)
	require.NoError(t, err)
	defer r.Close()

	add(t, w, "b")
	changed, err := OpenIfChanged(ctx, r)
	require.NoError(t, err)
	assert.Nil(t, changed, "uncommitted categories are invisible")

	require.NoError(t, w.Commit(ctx))
	changed, err = OpenIfChanged(ctx, r)
	require.NoError(t, err)
	require.NotNil(t, changed)
	defer changed.Close()

	assert.Greater(t, changed.Generation(), r.Generation())
	assert.Equal(t, []int32{2, 1}, children(t, changed, RootOrdinal))
	assert.Equal(t, []int32{1}, children(t, r, RootOrdinal), "old generation unchanged")
	n, err := r.Size()
	require.NoError(t, err)
	assert.Equal(t, int32(2), n)

	again, err := OpenIfChanged(ctx, changed)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestChildrenArraysGrowth(t *testing.T) {
	ctx := context.Background()
	dir, err := store.OpenFileDirectory(t.TempDir())
	require.NoError(t, err)
	w := openWriter(t, dir, CreateOrAppend)
	add(t, w, "hi/there")
	require.NoError(t, w.Commit(ctx))

	r, err := Open(ctx, dir)
	require.NoError(t, err)
	arrays, err := r.ParallelArrays()
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, -1}, arrays.Children())
	assert.Equal(t, []int32{-1, -1, -1}, arrays.Siblings())

	add(t, w, "hi/ho")
	add(t, w, "hello")
	require.NoError(t, w.Commit(ctx))

	r2, err := OpenIfChanged(ctx, r)
	require.NoError(t, err)
	require.NotNil(t, r2)
	grown, err := r2.ParallelArrays()
	require.NoError(t, err)
	assert.Equal(t, []int32{4, 3, -1, -1, -1}, grown.Children())
	assert.Equal(t, []int32{-1, -1, -1, 2, 1}, grown.Siblings())
	assert.Equal(t, []int32{1, 2, -1}, arrays.Children())

	require.NoError(t, r.Close())
	require.NoError(t, r2.Close())
	require.NoError(t, w.Close(ctx))
}

func TestReaderRefCounting(t *testing.T) {
	r, err := Open(context.Background(), committedTaxonomy(t, "a"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), r.RefCount())

	require.NoError(t, r.IncRef())
	assert.True(t, r.TryIncRef())
	assert.Equal(t, int32(3), r.RefCount())
	require.NoError(t, r.DecRef())
	require.NoError(t, r.DecRef())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "second close is a no-op")
	assert.Zero(t, r.RefCount())

	_, err = r.Size()
	assert.ErrorIs(t, err, apperrors.ErrObjectClosed)
	_, err = r.GetOrdinal(path("a"))
	assert.ErrorIs(t, err, apperrors.ErrObjectClosed)
	_, err = r.Children(0)
	assert.ErrorIs(t, err, apperrors.ErrObjectClosed)
	_, err = OpenIfChanged(context.Background(), r)
	assert.ErrorIs(t, err, apperrors.ErrObjectClosed)
	assert.ErrorIs(t, r.IncRef(), apperrors.ErrObjectClosed)
	assert.False(t, r.TryIncRef())

	assert.ErrorIs(t, r.DecRef(), apperrors.ErrIllegalState)
	assert.Zero(t, r.RefCount())
}

func TestReaderFailedCloseKeepsReference(t *testing.T) {
	var attempts int
	hook := func() error {
		attempts++
		if attempts == 1 {
			return errors.New("release failed")
		}
		return nil
	}
	r, err := Open(context.Background(), committedTaxonomy(t, "a"), WithCloseHook(hook))
	require.NoError(t, err)

	assert.Error(t, r.Close())
	assert.Equal(t, int32(1), r.RefCount())
	n, err := r.Size()
	require.NoError(t, err, "reader still usable")
	assert.Equal(t, int32(2), n)

	require.NoError(t, r.Close())
	assert.Equal(t, 2, attempts)
	assert.Zero(t, r.RefCount())
}

func TestReaderClosesExactlyOnce(t *testing.T) {
	for range 50 {
		var closes atomic.Int32
		r, err := Open(context.Background(), committedTaxonomy(t, "a"),
			WithCloseHook(func() error { closes.Add(1); return nil }))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					if !r.TryIncRef() {
						return
					}
					if _, err := r.GetOrdinal(path("a")); err != nil {
						t.Error(err)
					}
					if err := r.DecRef(); err != nil {
						t.Error(err)
					}
				}
			}()
		}
		require.NoError(t, r.Close())
		wg.Wait()

		assert.Equal(t, int32(1), closes.Load())
		assert.Zero(t, r.RefCount())
		assert.False(t, r.TryIncRef())
	}
}

func TestReaderIncRefNeverRevivesClosedGeneration(t *testing.T) {
	for range 50 {
		var closes atomic.Int32
		r, err := Open(context.Background(), committedTaxonomy(t, "a"),
			WithCloseHook(func() error { closes.Add(1); return nil }))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					if err := r.IncRef(); err != nil {
						if !errors.Is(err, apperrors.ErrObjectClosed) {
							t.Error(err)
						}
						return
					}
					if err := r.DecRef(); err != nil {
						t.Error(err)
					}
				}
			}()
		}
		require.NoError(t, r.Close())
		wg.Wait()

		assert.Equal(t, int32(1), closes.Load())
		assert.Zero(t, r.RefCount())
		assert.ErrorIs(t, r.IncRef(), apperrors.ErrObjectClosed)
	}
}

func TestReopenInheritsOptions(t *testing.T) {
	ctx := context.Background()
	dir := store.NewMemoryDirectory()
	w := openWriter(t, dir, CreateOrAppend)
	add(t, w, "a")
	require.NoError(t, w.Commit(ctx))

	var closes atomic.Int32
	r, err := Open(ctx, dir, WithCloseHook(func() error { closes.Add(1); return nil }))
	require.NoError(t, err)
	add(t, w, "b")
	require.NoError(t, w.Commit(ctx))
	r2, err := OpenIfChanged(ctx, r)
	require.NoError(t, err)
	require.NotNil(t, r2)

	require.NoError(t, r.Close())
	require.NoError(t, r2.Close())
	assert.Equal(t, int32(2), closes.Load())
}

func TestReaderCommitUserDataIsCopy(t *testing.T) {
	r, err := Open(context.Background(), committedTaxonomy(t, "a"))
	require.NoError(t, err)
	defer r.Close()
	data, err := r.CommitUserData()
	require.NoError(t, err)
	data["x"] = "y"
	again, err := r.CommitUserData()
	require.NoError(t, err)
	assert.NotContains(t, again, "x")
	assert.Equal(t, "0", again[EpochKey])
}
