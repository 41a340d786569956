package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Component names the process using this config ("worker", "cli", ...).
	// When set, it both selects the default log file (see ComponentLogPath)
	// and is attached to every record as a "component" field, so worker and
	// CLI log lines can be told apart when a log dir is tailed together.
	Component string
	// FilePath is the path to the log file. Empty means derive one from
	// Component (or DefaultLogPath if Component is also empty).
	FilePath string
	// MaxSizeMB is the maximum size in MB before rotation (default: 10).
	MaxSizeMB int
	// MaxFiles is the maximum number of rotated files to keep (default: 5).
	MaxFiles int
	// WriteToStderr whether to also write to stderr (default: true).
	WriteToStderr bool
	// SyncInterval throttles fsync calls to at most once per interval
	// instead of after every write. Zero means sync on every write. The
	// worker logs once per poll iteration in steady state, so a short
	// throttle noticeably cuts fsync volume without materially delaying
	// on-disk visibility; a one-shot CLI command leaves this at zero so its
	// handful of log lines are flushed immediately.
	SyncInterval time.Duration
}

// DefaultConfig returns sensible defaults for file logging.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig returns configuration for debug mode.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// WorkerConfig returns configuration for the long-running embedding worker
// process: its own log file under the component name "worker" and a sync
// throttle appropriate for continuous batch logging.
func WorkerConfig() Config {
	cfg := DefaultConfig()
	cfg.Component = "worker"
	cfg.FilePath = ComponentLogPath("worker")
	cfg.SyncInterval = 2 * time.Second
	return cfg
}

// Setup initializes file-based logging and returns a cleanup function.
// The cleanup function should be called to close the log file.
// Returns the configured logger and cleanup function.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	// Ensure log directory exists
	if err := EnsureLogDir(); err != nil {
		return nil, nil, err
	}

	path := cfg.FilePath
	if path == "" {
		path = ComponentLogPath(cfg.Component)
	}

	// Create rotating writer
	writer, err := NewRotatingWriter(path, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}
	writer.SetSyncInterval(cfg.SyncInterval)

	// Build multi-writer if stderr is enabled
	var output io.Writer = writer
	if cfg.WriteToStderr {
		output = io.MultiWriter(writer, os.Stderr)
	}

	// Parse log level
	level := parseLevel(cfg.Level)

	// Create JSON handler for structured logging
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With(slog.String("component", cfg.Component))
	}

	// Cleanup function
	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}

	return logger, cleanup, nil
}

// SetupDefault sets up logging with default configuration and sets as default logger.
// Returns cleanup function.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DebugConfig())
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString converts a string level to slog.Level.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
