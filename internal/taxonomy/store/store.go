// Package store persists the taxonomy: an append-only list of categories,
// each with its parent ordinal, grouped into commits.
//
// A commit appends the categories with ordinals [Base, Base+len) and carries
// opaque user data. A commit with Base 0 starts a new chain that replaces
// everything before it; readers only ever see the chain of the commit point
// they opened.
package store

import (
	"context"
	"maps"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/category"
)

// Category is one persisted entry. Its ordinal is implied by position.
type Category struct {
	Path   category.Path
	Parent int32
}

// CommitPoint identifies a durable snapshot.
type CommitPoint struct {
	Generation int64
	// ChainStart is the generation of the Base 0 commit the snapshot
	// builds on.
	ChainStart int64
	// Size is the number of ordinals in the snapshot, root included.
	Size     int32
	UserData map[string]string
}

// Directory is the storage contract the taxonomy writer and readers share.
// Implementations must be safe for concurrent use. Only one writer may
// commit at a time; Commit fails with ErrIllegalState when base does not
// match the latest snapshot.
type Directory interface {
	// LatestCommit returns the newest commit or ErrIndexNotFound.
	LatestCommit(ctx context.Context) (CommitPoint, error)
	// ReadCategories returns the categories with ordinals [from, to) as of cp.
	ReadCategories(ctx context.Context, cp CommitPoint, from, to int32) ([]Category, error)
	// Commit durably appends cats starting at ordinal base.
	Commit(ctx context.Context, base int32, cats []Category, userData map[string]string) (CommitPoint, error)
	Close() error
}

// OrdinalFinder is implemented by directories that can resolve a path
// without loading the whole taxonomy.
type OrdinalFinder interface {
	FindOrdinal(ctx context.Context, cp CommitPoint, p category.Path) (int32, bool, error)
}

func cloneUserData(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
