// Package logging provides the process-wide slog setup: a compact colored
// handler for terminals and an adapter feeding the WhatsApp library's logs
// into the same stream.
package logging

import (
	"log/slog"
	"os"
)

// Setup installs the default logger on stderr. Verbose lowers the level to
// debug; color follows whether stderr is a terminal in the caller's hands,
// so it is explicit here.
func Setup(verbose, color bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(NewHandler(os.Stderr, &Options{Level: level, Color: color})))
}
