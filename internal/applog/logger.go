// Package applog wires the zerolog logger shared by every component.
package applog

import (
	"os"

	"github.com/riskgateway/platform/internal/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger. In development it writes a
// human-readable console format; in production it writes structured JSON
// (cheaper, and the shape a log aggregator expects).
func New(cfg *config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.IsDevelopment() {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		return zerolog.New(out).With().Timestamp().Str("env", cfg.Env).Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("env", cfg.Env).Logger()
}

// Component returns a child logger scoped to a named component, the
// pattern every package below threads through its constructors.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
