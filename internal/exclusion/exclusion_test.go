package exclusion

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMeta() Meta {
	return Meta{
		Shape:       Shape{Rows: 4, Cols: 6},
		OriginLat:   40,
		OriginLon:   -105,
		PixelHeight: 0.01,
		PixelWidth:  0.01,
	}
}

func TestWriterAndStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "excl.db")

	w, err := Create(path, testMeta())
	require.NoError(t, err)
	require.NoError(t, w.SetRow(0, w.FullRow()))
	require.NoError(t, w.SetRow(2, roaring.BitmapOf(1, 3, 5)))
	require.NoError(t, w.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.Equal(t, Shape{Rows: 4, Cols: 6}, s.Shape())
	assert.Equal(t, DefaultPixelAreaKm2, s.Meta().PixelAreaKm2)

	band, err := s.Rows(0, 4)
	require.NoError(t, err)
	require.Len(t, band, 4)
	assert.Equal(t, uint64(6), band[0].GetCardinality())
	assert.True(t, band[1].IsEmpty(), "unwritten rows are fully excluded")
	assert.Equal(t, []uint32{1, 3, 5}, band[2].ToArray())
	assert.True(t, band[3].IsEmpty())

	again, err := s.Rows(0, 4)
	require.NoError(t, err)
	assert.Same(t, band[0], again[0], "repeated band is served from cache")

	_, err = s.Rows(2, 5)
	require.Error(t, err)
}

func TestWriter_RejectsOutOfRange(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "excl.db"), testMeta())
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.Error(t, w.SetRow(4, roaring.New()))
	require.Error(t, w.SetRow(0, roaring.BitmapOf(6)))
}

func TestCreate_InvalidShape(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "excl.db"), Meta{})
	require.Error(t, err)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestMeta_Coordinates(t *testing.T) {
	m := testMeta()
	lat, lon := m.Coordinates(0, 0)
	assert.InDelta(t, 39.995, lat, 1e-12)
	assert.InDelta(t, -104.995, lon, 1e-12)

	lat, lon = m.Coordinates(3, 5)
	assert.InDelta(t, 39.965, lat, 1e-12)
	assert.InDelta(t, -104.945, lon, 1e-12)
}
