// Package logging builds the zerolog.Logger every entry point shares,
// so a host binary and the core packages agree on one log shape
// instead of each constructing their own.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console-formatted logger writing to w (os.Stderr if
// nil), at debug level when debug is true and info level otherwise.
func New(w io.Writer, debug bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(console).Level(level).With().Timestamp().Logger()
}
