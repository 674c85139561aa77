package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := New()
	r.ChunkCompleted(20*time.Millisecond, 8, 2)
	r.ChunkCompleted(30*time.Millisecond, 5, 0)
	r.TechMapBuilt()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.chunksCompleted))
	assert.Equal(t, 13.0, testutil.ToFloat64(r.pointsSummarized))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.pointsEmpty))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.techmapBuilds))

	n, err := testutil.GatherAndCount(r.Registry(), "scagg_chunk_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	r.ChunkCompleted(time.Second, 1, 1)
	r.TechMapBuilt()
	assert.Nil(t, r.Registry())
	require.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.TechMapBuilt()

	path := filepath.Join(t.TempDir(), "scagg.prom")
	require.NoError(t, r.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "scagg_techmap_builds_total 1")
}
