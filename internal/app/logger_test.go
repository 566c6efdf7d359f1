package app

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/todomaster/pkg/logger"
)

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(logger.ReplaceGlobal(zap.NewNop()))

	require.NoError(t, ServerConfig{LogLevel: "debug"}.ConfigureLogging())
	require.True(t, logger.Logger().Core().Enabled(zap.DebugLevel))

	require.NoError(t, ServerConfig{LogFormat: "console"}.ConfigureLogging())
	require.False(t, logger.Logger().Core().Enabled(zap.DebugLevel))

	require.Error(t, ServerConfig{LogLevel: "chatty"}.ConfigureLogging())
	require.Error(t, ServerConfig{LogFormat: "xml"}.ConfigureLogging())
}
