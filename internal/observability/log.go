package observability

import (
	"io"
	"log/slog"
	"math"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

var noopLogger *slog.Logger

// NoopLogger returns a disabled Logger
func NoopLogger() *slog.Logger {
	return noopLogger
}

func init() {
	hdlr := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})
	noopLogger = slog.New(hdlr)
}

// LogConfig controls the Logger returned by NewLogger.
type LogConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // text, json
	File       string `yaml:"file"`        // stderr when empty
	MaxSize    int    `yaml:"max_size"`    // MB
	MaxBackups int    `yaml:"max_backups"` // rotated files kept
	MaxAge     int    `yaml:"max_age"`     // days
}

// NewLogger returns a Logger configured by cfg and the io.Closer releasing its output.
//
// When cfg.File is set, records are written to a size rotated file.
func NewLogger(cfg LogConfig) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if "" != cfg.File {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}
		out = lj
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var hdlr slog.Handler
	if "json" == strings.ToLower(cfg.Format) {
		hdlr = slog.NewJSONHandler(out, opts)
	} else {
		hdlr = slog.NewTextHandler(out, opts)
	}

	return slog.New(hdlr), closer
}

// ParseLevel converts level name to slog.Level, unknown names map to slog.LevelInfo.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (self nopCloser) Close() error {
	return nil
}
