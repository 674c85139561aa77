package logging

import (
	"testing"

	"github.com/agentic-research/scagg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		log, err := New(nil)
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("debug json", func(t *testing.T) {
		log, err := New(&api.LogOptions{Level: "DEBUG", Format: "json"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := New(&api.LogOptions{Level: "chatty"})
		require.Error(t, err)
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := New(&api.LogOptions{Format: "xml"})
		require.Error(t, err)
	})
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
