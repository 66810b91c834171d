package logging

import (
	"testing"

	"github.com/campuskit/authcore/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewService(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		service, err := NewService(config.LogConfig{Level: "info", Format: "json", OutputPath: "stdout"})
		require.NoError(t, err)
		assert.NotNil(t, service.Logger())
		assert.NotNil(t, service.Sugar())
	})

	t.Run("console format", func(t *testing.T) {
		service, err := NewService(config.LogConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
		require.NoError(t, err)
		assert.NotNil(t, service.Logger())
	})
}

func TestNilServiceIsSafe(t *testing.T) {
	var service *Service

	assert.NotPanics(t, func() {
		service.Debug("debug")
		service.Info("info")
		service.Warn("warn")
		service.Error("error")
		service.Infow("infow", "k", "v")
		assert.Nil(t, service.Logger())
		assert.NoError(t, service.Sync())
	})
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("info"))
	assert.Equal(t, zapcore.WarnLevel, parseLogLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLogLevel("unknown"))
}
