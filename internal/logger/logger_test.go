package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Cleanup(func() { _ = Init(Config{Level: "info"}) })

	t.Run("debug flag wins over level", func(t *testing.T) {
		require.NoError(t, Init(Config{Level: "error", Debug: true}))
		assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())
	})

	t.Run("parses level", func(t *testing.T) {
		require.NoError(t, Init(Config{Level: "warn"}))
		assert.Equal(t, zerolog.WarnLevel, GetLogger().GetLevel())
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		assert.Error(t, Init(Config{Level: "loud"}))
	})
}

func TestWithComponent(t *testing.T) {
	require.NoError(t, Init(Config{Level: "info"}))
	l := WithComponent("telemetry")
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}
