package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Backend names accepted by New.
const (
	BackendNone    = "none"
	BackendZerolog = "zerolog"
	BackendJSON    = "json"
	BackendConsole = "console"
)

// Config selects and tunes a logging backend.
type Config struct {
	Backend   string    // see Backend* constants; unknown names mean none
	Level     string    // trace, debug, info, warn, error, off
	Timestamp bool      // include a timestamp field
	NoColor   bool      // console backend only
	Output    io.Writer // defaults to os.Stderr
}

// New builds the logger named by cfg.Backend. Any backend that is not
// recognized yields the no-op logger.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	switch normalize(cfg.Backend) {
	case BackendZerolog, BackendJSON:
		return NewZerolog(build(zerolog.New(out), cfg))
	case BackendConsole:
		w := zerolog.ConsoleWriter{Out: out, NoColor: cfg.NoColor, TimeFormat: time.Kitchen}
		return NewZerolog(build(zerolog.New(w), cfg))
	default:
		return Nop()
	}
}

func build(z zerolog.Logger, cfg Config) zerolog.Logger {
	lvl, ok := ParseLevel(cfg.Level)
	if !ok {
		lvl = zerolog.InfoLevel
	}
	z = z.Level(lvl)
	if cfg.Timestamp {
		z = z.With().Timestamp().Logger()
	}
	return z
}

func normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ParseLevel maps a level name to a zerolog level. The second result is
// false for empty or unknown names.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch normalize(raw) {
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
