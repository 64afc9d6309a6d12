// Package logging builds the zerolog loggers used across the glove tools.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLevel   = "GLOVE_LOG_LEVEL"
	EnvJSON    = "GLOVE_LOG_JSON"
	EnvNoColor = "GLOVE_LOG_NOCOLOR"
)

// Options selects the log output. Environment variables override the
// level, format and color choices.
type Options struct {
	App     string
	Level   string
	JSON    bool
	NoColor bool
	Out     io.Writer
}

// New returns a logger for opts and installs it as the global logger.
func New(opts Options) zerolog.Logger {
	applyEnvOverrides(&opts)
	if opts.Out == nil {
		opts.Out = os.Stderr
	}

	out := opts.Out
	if !opts.JSON {
		out = zerolog.ConsoleWriter{
			Out:        opts.Out,
			TimeFormat: time.RFC3339,
			NoColor:    opts.NoColor,
		}
	}

	level, _ := ParseLevel(opts.Level)
	if level < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(level)
	}
	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if opts.App != "" {
		ctx = ctx.Str("app", opts.App)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level. Unknown or empty names
// report false and fall back to info.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func applyEnvOverrides(opts *Options) {
	if _, ok := ParseLevel(os.Getenv(EnvLevel)); ok {
		opts.Level = os.Getenv(EnvLevel)
	}
	if v, ok := parseBool(os.Getenv(EnvJSON)); ok {
		opts.JSON = v
	}
	if v, ok := parseBool(os.Getenv(EnvNoColor)); ok {
		opts.NoColor = v
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
