// Package obslog builds the process-wide zerolog.Logger for outpost's two
// binaries, following the teacher's own flag.Bool("debug", ...) +
// zerolog.SetGlobalLevel idiom (cmd/gpscli/main.go, cmd/phuslulog/main.go).
// It additionally carries forward the original Python implementation's
// debug-console/production-file split (outpost/logger.py): Config.Debug
// gets a human-readable console writer on stderr, otherwise JSON output
// goes to Config.LogFile, or to stderr when no file is set. The DEBUG
// environment variable is not read.
package obslog

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config controls where and how verbosely a component logs.
type Config struct {
	Debug   bool
	LogFile string // empty means stderr
}

// New builds a Logger tagged with a per-process instance ID, so that log
// lines from concurrently-running clients or server restarts can be told
// apart in aggregated output (SPEC_FULL.md's ambient observability
// section).
func New(component string, cfg Config) (zerolog.Logger, error) {
	var out io.Writer = os.Stderr

	if cfg.Debug {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if cfg.LogFile != "" {
			f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err != nil {
				return zerolog.Logger{}, fmt.Errorf("obslog: opening %s: %w", cfg.LogFile, err)
			}
			out = f
		}
	}

	return zerolog.New(out).With().
		Timestamp().
		Str("component", component).
		Str("instance", uuid.NewString()).
		Logger(), nil
}
