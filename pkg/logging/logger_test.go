package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewZapLogger_Production(t *testing.T) {
	logger, err := newZapLogger("")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel), "production logger should not enable debug")
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}

func TestNewZapLogger_Debug(t *testing.T) {
	for _, level := range []string{"debug", "trace"} {
		logger, err := newZapLogger(level)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel), "level %q should enable debug", level)
	}
}

func TestNewLoggerWithLevel(t *testing.T) {
	log, sync, err := NewLoggerWithLevel("debug")
	require.NoError(t, err)
	defer sync()
	assert.True(t, log.V(1).Enabled())
}
