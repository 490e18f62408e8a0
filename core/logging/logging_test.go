package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, atom, err := New("warn", false)
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, atom.Level())
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	atom.SetLevel(zapcore.InfoLevel)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNew_Defaults(t *testing.T) {
	_, atom, err := New("", false)
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, atom.Level())

	_, atom, err = New("error", true)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, atom.Level())
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New("loud", false)
	assert.Error(t, err)
}
