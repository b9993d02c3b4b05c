// Package testutil provides shared helpers for package tests.
package testutil

import (
	"io"
	"log/slog"
)

// Logger returns a logger that discards all output. Tests that assert on
// log records should use slog.New with a buffered handler instead.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
