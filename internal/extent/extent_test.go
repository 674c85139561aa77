package extent

import (
	"path/filepath"
	"testing"

	"github.com/agentic-research/scagg/internal/exclusion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtent_EvenGrid(t *testing.T) {
	e, err := New(exclusion.Shape{Rows: 640, Cols: 640}, 64)
	require.NoError(t, err)

	assert.Equal(t, 100, e.Len())
	assert.Equal(t, 10, e.Rows())
	assert.Equal(t, 10, e.Cols())

	row, col, err := e.RowCol(23)
	require.NoError(t, err)
	assert.Equal(t, 2, row)
	assert.Equal(t, 3, col)

	w, err := e.Window(23)
	require.NoError(t, err)
	assert.Equal(t, Window{RowStart: 128, RowEnd: 192, ColStart: 192, ColEnd: 256}, w)
}

func TestExtent_TruncatedEdges(t *testing.T) {
	e, err := New(exclusion.Shape{Rows: 100, Cols: 70}, 64)
	require.NoError(t, err)
	assert.Equal(t, 4, e.Len())

	w, err := e.Window(3)
	require.NoError(t, err)
	assert.Equal(t, Window{RowStart: 64, RowEnd: 100, ColStart: 64, ColEnd: 70}, w)
}

func TestExtent_Errors(t *testing.T) {
	_, err := New(exclusion.Shape{Rows: 10, Cols: 10}, 0)
	require.Error(t, err)

	_, err = New(exclusion.Shape{}, 64)
	require.Error(t, err)

	e, err := New(exclusion.Shape{Rows: 10, Cols: 10}, 5)
	require.NoError(t, err)
	for _, gid := range []int{-1, 4, 100} {
		_, err := e.Window(gid)
		require.ErrorIs(t, err, ErrGIDOutOfRange, "gid %d", gid)
	}
}

func TestExtent_GIDs(t *testing.T) {
	e, err := New(exclusion.Shape{Rows: 3, Cols: 3}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, e.GIDs())
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "excl.db")
	w, err := exclusion.Create(path, exclusion.Meta{
		Shape:       exclusion.Shape{Rows: 128, Cols: 192},
		PixelHeight: 0.001,
		PixelWidth:  0.001,
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	e, err := Open(path, DefaultResolution)
	require.NoError(t, err)
	assert.Equal(t, 6, e.Len())
}
