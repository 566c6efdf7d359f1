package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/charlesng35/todomaster/pkg/logger"
)

// ConfigureLogging installs the global logger described by the server
// settings. An empty level means info; an unknown level or format is an error.
func (c ServerConfig) ConfigureLogging() error {
	level := strings.TrimSpace(c.LogLevel)
	if level == "" {
		level = "info"
	}
	if _, err := zapcore.ParseLevel(level); err != nil {
		return fmt.Errorf("server.log_level: %w", err)
	}

	format := strings.ToLower(strings.TrimSpace(c.LogFormat))
	switch format {
	case "", "json", "console":
	default:
		return fmt.Errorf("server.log_format: unsupported format %q", c.LogFormat)
	}

	return logger.InitWithConfig(logger.Config{Level: level, Format: format})
}
