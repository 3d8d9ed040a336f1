package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide base logger. Component loggers derive from it,
// so Init and SetNode must run before they are created.
var Logger zerolog.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// ParseLevel maps a config string onto a Level. Unknown values fall back to info.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case DebugLevel:
		return DebugLevel
	case WarnLevel, "warning":
		return WarnLevel
	case ErrorLevel:
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l Level) zerolog() zerolog.Level {
	lvl, err := zerolog.ParseLevel(string(l))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Config holds logging configuration. Output defaults to stderr; stdout is
// left to command output.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init replaces the base logger
func Init(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level.zerolog())

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !cfg.JSONOutput {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).With().Timestamp().Logger()
}

// SetNode stamps the node identity on the base logger. Negative values mean
// unknown and are left out.
func SetNode(id, rank int) {
	ctx := Logger.With()
	if id >= 0 {
		ctx = ctx.Int("node_id", id)
	}
	if rank >= 0 {
		ctx = ctx.Int("node_rank", rank)
	}
	Logger = ctx.Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithCollector tags lines with the collector name and the data type it reports
func WithCollector(name, dataType string) zerolog.Logger {
	return Logger.With().
		Str("component", "collector").
		Str("collector", name).
		Str("data_type", dataType).
		Logger()
}

func WithRole(role string) zerolog.Logger {
	return Logger.With().
		Str("component", "checkpoint").
		Str("role", role).
		Logger()
}
