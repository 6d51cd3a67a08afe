// Package logging configures the process-wide structured logger. The dev
// servers keep their own colored per-request access lines on stdout; this
// logger carries everything else — resolution failures, HMR broadcasts,
// bridge transport errors, prebundle diagnostics.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a leveled logger writing human-readable output to w. Level
// accepts the usual zerolog names (debug, info, warn, error); unknown
// values fall back to info.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Default is the logger used when a component isn't handed one explicitly.
var Default = New(os.Stderr, "info")

// Component returns a child logger tagged with a component name, so log
// lines can be filtered per subsystem (vfs, runtime, devserver, swbridge,
// hmr, transform).
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
