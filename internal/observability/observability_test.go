package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Level(t *testing.T) {
	for level, want := range map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"":      zapcore.InfoLevel,
		"loud":  zapcore.InfoLevel,
	} {
		logger, err := NewLogger(level, "settlement")
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(want), level)
		assert.False(t, logger.Core().Enabled(want-1), level)
	}
}

func TestSetupTracing_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "settlement", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
