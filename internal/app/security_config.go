package app

import "github.com/charlesng35/todomaster/internal/security"

// MonitorConfig converts SecurityConfig into monitor parameters.
func (c SecurityConfig) MonitorConfig() security.Config {
	return security.Config{
		EventLogPath:        c.EventLog,
		AlertLogPath:        c.AlertLog,
		Retention:           c.Retention,
		BufferSize:          c.BufferSize,
		BruteForceThreshold: c.BruteForce.Threshold,
		BruteForceWindow:    c.BruteForce.Window,
	}
}
