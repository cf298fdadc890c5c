// Package logging configures the process-wide structured logger, following
// the teacher's LogConfig.Apply pattern but also writing to a size-rotated
// file via lumberjack instead of stderr alone.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the daemon's logger should be built.
type Config struct {
	Level  string `yaml:"level" env:"ALIST2STRM_LOG_LEVEL"`
	Format string `yaml:"format" env:"ALIST2STRM_LOG_FORMAT"`

	// FilePath, when non-empty, also writes logs to a file at this path.
	// lumberjack rotates it once it reaches 100 MB and removes rotated
	// files after 28 days; it is not rotated at day boundaries. Stderr is
	// always written to.
	FilePath string `yaml:"-"`
}

// Apply builds the handler described by c and installs it as slog's default
// logger, returning the writer so callers can Close it during shutdown.
func (c *Config) Apply() (io.Closer, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}

	var writer io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if c.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename: c.FilePath,
			MaxSize:  100, // MB
			MaxAge:   28,  // days
			Compress: true,
		}
		writer = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(c.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		return nil, errors.New("invalid log format: " + c.Format)
	}

	slog.SetDefault(slog.New(handler))
	return closer, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.New("invalid log level: " + level)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
