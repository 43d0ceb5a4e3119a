package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Level represents log severity levels.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	defaultLogger *Logger
	once          sync.Once

	// defaultOutput is the default destination for logs.
	defaultOutput io.Writer = os.Stderr
)

// Logger wraps slog.Logger so every collector, the store, the orchestrator,
// the packet pipeline, and the fingerprinters can obtain a component-scoped
// logger via WithComponent without reaching into slog directly.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      Level
	Output     io.Writer
	JSON       bool
	AddSource  bool
	TimeFormat string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Output:     defaultOutput,
		JSON:       false,
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(cfg.Level)

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		handler = NewConsoleHandler(cfg.Output, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(DefaultConfig())
	})
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// WithComponent returns a logger tagged with a component field, e.g.
// "mdns", "packet", "orchestrator" — the tag every collector and the
// pipeline log under, and what ConsoleHandler promotes into its
// "component: message" line.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// WithComponent returns a component-scoped logger built on the default logger.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}
