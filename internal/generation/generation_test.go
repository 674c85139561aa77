package generation

import (
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T, sites []Site, records []map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gen.db")
	w, err := Create(path)
	require.NoError(t, err)
	for i, site := range sites {
		var rec map[string]any
		if i < len(records) {
			rec = records[i]
		}
		require.NoError(t, w.Add(site, rec))
	}
	require.NoError(t, w.Close())
	return path
}

func TestStore(t *testing.T) {
	path := createTestStore(t,
		[]Site{
			{GenGID: 1, ResGID: 11, Latitude: 40.1, Longitude: -105.1},
			{GenGID: 0, ResGID: 10, Latitude: 40.0, Longitude: -105.0},
			{GenGID: 2, ResGID: 12, Latitude: 40.2, Longitude: -105.2},
		},
		[]map[string]any{
			{"cf_mean": 0.31},
			{"cf_mean": 0.25, "annual_energy": 1200.5},
		},
	)

	s, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.Equal(t, 3, s.Len())

	site, ok := s.Site(1)
	require.True(t, ok)
	assert.Equal(t, 11, site.ResGID)

	_, ok = s.Site(99)
	assert.False(t, ok)

	sites := s.Sites()
	require.Len(t, sites, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{sites[0].GenGID, sites[1].GenGID, sites[2].GenGID})

	t.Run("record parsed", func(t *testing.T) {
		rec, err := s.Record(0)
		require.NoError(t, err)
		m, ok := rec.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 0.25, m["cf_mean"])
		assert.Equal(t, 1200.5, m["annual_energy"])
	})

	t.Run("missing record is nil", func(t *testing.T) {
		rec, err := s.Record(2)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("unknown site", func(t *testing.T) {
		_, err := s.Record(42)
		require.ErrorIs(t, err, ErrUnknownSite)
	})
}

func TestStreamSites(t *testing.T) {
	path := createTestStore(t, []Site{
		{GenGID: 5, ResGID: 50},
		{GenGID: 3, ResGID: 30},
	}, nil)

	var got []int
	require.NoError(t, StreamSites(path, func(s Site) error {
		got = append(got, s.GenGID)
		return nil
	}))
	assert.Equal(t, []int{3, 5}, got)

	t.Run("nonexistent file", func(t *testing.T) {
		err := StreamSites(filepath.Join(t.TempDir(), "nope.db"), func(Site) error { return nil })
		require.Error(t, err)
	})
}

func TestWriter_RejectsNegativeGID(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "gen.db"))
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	require.ErrorIs(t, w.Add(Site{GenGID: -1}, nil), ErrInvalidGID)
	require.ErrorIs(t, w.Add(Site{GenGID: math.MaxInt32 + 1}, nil), ErrInvalidGID)
}

func TestOpen_RejectsInvalidGIDs(t *testing.T) {
	tests := []struct {
		name   string
		update string
	}{
		{"negative res gid", "UPDATE sites SET res_gid = -3 WHERE gen_gid = 1"},
		{"negative gen gid", "UPDATE sites SET gen_gid = -1 WHERE gen_gid = 1"},
		{"res gid above uint32", "UPDATE sites SET res_gid = 4294967296 WHERE gen_gid = 1"},
		{"gen gid above int32", "UPDATE sites SET gen_gid = 2147483648 WHERE gen_gid = 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := createTestStore(t, []Site{
				{GenGID: 0, ResGID: 10},
				{GenGID: 1, ResGID: 11},
			}, nil)

			// Stores written by other tools skip the writer's checks.
			db, err := sql.Open("sqlite", path)
			require.NoError(t, err)
			_, err = db.Exec(tt.update)
			require.NoError(t, err)
			require.NoError(t, db.Close())

			_, err = Open(path)
			require.ErrorIs(t, err, ErrInvalidGID)

			err = StreamSites(path, func(Site) error { return nil })
			require.ErrorIs(t, err, ErrInvalidGID)
		})
	}
}
