package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. Text output on stdout; services receive it
// by injection so tests can swap in slog.DiscardHandler.
func New() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
