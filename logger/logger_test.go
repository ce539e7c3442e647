package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func restore(t *testing.T) {
	t.Cleanup(func() {
		Logger = zap.NewNop().Sugar()
		JSONOutput = false
		Verbosity = 0
	})
}

func TestInitialize(t *testing.T) {
	restore(t)

	for _, jsonOutput := range []bool{true, false} {
		require.NoError(t, Initialize(jsonOutput, VerbosityDebug))
		assert.Equal(t, jsonOutput, JSONOutput)
		assert.Equal(t, VerbosityDebug, Verbosity)
		assert.True(t, Logger.Desugar().Core().Enabled(zapcore.DebugLevel))
	}

	require.NoError(t, Initialize(false, VerbosityUser))
	assert.False(t, Logger.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Logger.Desugar().Core().Enabled(zapcore.WarnLevel))
}

func TestVerbosityToLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		level     zapcore.Level
		trace     bool
		name      string
	}{
		{-1, zapcore.WarnLevel, false, "User"},
		{0, zapcore.WarnLevel, false, "User"},
		{1, zapcore.InfoLevel, false, "Info (-v)"},
		{2, zapcore.DebugLevel, false, "Debug (-vv)"},
		{3, zapcore.DebugLevel, true, "Trace (-vvv)"},
		{7, zapcore.DebugLevel, true, "Trace (-vvv)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, VerbosityToLevel(tt.verbosity), tt.verbosity)
		assert.Equal(t, tt.trace, CaptureTrace(tt.verbosity), tt.verbosity)
		assert.Equal(t, tt.name, LevelName(tt.verbosity), tt.verbosity)
	}
}

func TestPeerLogger(t *testing.T) {
	restore(t)
	require.NoError(t, Initialize(true, VerbosityUser))

	assert.NotNil(t, ComponentLogger("session"))
	assert.NotNil(t, PeerLogger("session", "laptop"))
	assert.NotNil(t, PeerLogger("session", ""))
}
