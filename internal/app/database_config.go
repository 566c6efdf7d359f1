package app

import (
	"strings"

	"github.com/charlesng35/todomaster/internal/database"
)

// Connection converts DatabaseConfig into database.Open parameters.
func (c DatabaseConfig) Connection() database.Config {
	return database.Config{
		Driver:          strings.TrimSpace(c.Driver),
		Path:            strings.TrimSpace(c.Path),
		DSN:             strings.TrimSpace(c.DSN),
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}
