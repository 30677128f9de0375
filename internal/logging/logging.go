package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New builds a logger writing to w in the given format.
func New(w io.Writer, format string) (zerolog.Logger, error) {
	switch strings.ToLower(format) {
	case "", FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format: %s", format)
	}
	return zerolog.New(w).With().Timestamp().Logger(), nil
}

// Setup replaces the global logger and level. An unknown level falls back
// to info with a warning.
func Setup(level, format string) error {
	zerolog.TimeFieldFormat = time.RFC3339
	logger, err := New(os.Stderr, format)
	if err != nil {
		return err
	}
	log.Logger = logger

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		log.Warn().Str("level", level).Msg("invalid log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
