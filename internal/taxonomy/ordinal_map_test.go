package taxonomy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/facet-taxonomy/pkg/errors"
)

func TestMemoryOrdinalMap(t *testing.T) {
	m := NewMemoryOrdinalMap()
	require.NoError(t, m.SetSize(3))
	require.NoError(t, m.AddMapping(0, 0))
	require.NoError(t, m.AddMapping(2, 7))
	assert.ErrorIs(t, m.AddMapping(3, 1), apperrors.ErrInvalidArgument)
	require.NoError(t, m.AddDone())
	got, err := m.Map()
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0, 7}, got)
}

func TestDiskOrdinalMap(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ordinals")
	m, err := NewDiskOrdinalMap(file)
	require.NoError(t, err)
	require.NoError(t, m.SetSize(4))
	for orig, ord := range []int32{0, 5, 6, 2} {
		require.NoError(t, m.AddMapping(int32(orig), ord))
	}
	_, err = m.Map()
	assert.ErrorIs(t, err, apperrors.ErrIllegalState)

	require.NoError(t, m.AddDone())
	got, err := m.Map()
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 5, 6, 2}, got)

	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err), "spool file removed after reading")
	again, err := m.Map()
	require.NoError(t, err)
	assert.Equal(t, got, again)
}
