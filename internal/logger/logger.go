// Package logger builds the process slog.Logger and provides attribute helpers
// shared by the middleware, cache and rate limit packages.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a text logger at debug level for development and a JSON logger
// at info level for every other environment.
func New(environment string) *slog.Logger {
	return NewWithWriter(environment, os.Stdout)
}

func NewWithWriter(environment string, w io.Writer) *slog.Logger {
	var h slog.Handler
	if environment == "development" {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}

	return slog.New(h).With(slog.String("service", "request-governance"), slog.String("env", environment))
}

// Discard returns a logger that drops everything. Used as the default when a
// component is constructed without a logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
