// Package taxonomy assigns stable ordinals to categories and serves
// immutable, reference-counted snapshots of the category tree.
//
// A Writer appends categories and commits them to a store.Directory. A
// Reader is one generation of committed categories; OpenIfChanged moves to
// a newer generation without disturbing goroutines still using the old one.
package taxonomy

import (
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/facet-taxonomy/internal/taxonomy/store"
)

const (
	// RootOrdinal is the ordinal of the empty path.
	RootOrdinal int32 = 0
	// InvalidOrdinal means "no such category".
	InvalidOrdinal int32 = -1

	// EpochKey is the commit data key holding the index epoch in hex. The
	// epoch changes whenever the taxonomy is recreated, which invalidates
	// every ordinal handed out before.
	EpochKey = "index.epoch"
)

func epochOf(cp store.CommitPoint) int64 {
	v, ok := cp.UserData[EpochKey]
	if !ok {
		return 0
	}
	epoch, err := strconv.ParseInt(v, 16, 64)
	if err != nil {
		return 0
	}
	return epoch
}

func formatEpoch(epoch int64) string {
	return strconv.FormatInt(epoch, 16)
}
