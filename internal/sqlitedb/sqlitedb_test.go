package sqlitedb

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenReadOnly_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	_, err := OpenReadOnly(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// Must not leave an empty database behind.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMetaRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	db, err := Create(path)
	require.NoError(t, err)

	m := Meta{}
	m.SetInt("rows", 640)
	m.SetFloat("pixel_width", 0.00081)
	require.NoError(t, Transaction(db, func(tx *sql.Tx) error {
		return WriteMeta(tx, "test_meta", m)
	}))
	require.NoError(t, db.Close())

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()

	got, err := ReadMeta(ro, "test_meta")
	require.NoError(t, err)

	rows, err := got.Int("rows")
	require.NoError(t, err)
	assert.Equal(t, 640, rows)

	w, err := got.Float("pixel_width")
	require.NoError(t, err)
	assert.Equal(t, 0.00081, w)

	def, err := got.FloatOr("pixel_area_km2", 0.0081)
	require.NoError(t, err)
	assert.Equal(t, 0.0081, def)

	_, err = got.Int("cols")
	require.Error(t, err)

	_, err = ro.Exec("INSERT INTO test_meta (key, value) VALUES ('x', 'y')")
	require.Error(t, err, "read-only handle must reject writes")
}

func TestTransaction_RollsBack(t *testing.T) {
	db, err := Create(filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = Transaction(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (v) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 0, n)
}
