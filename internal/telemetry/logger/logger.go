package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is the node logger. Every logger derived from one New call shares
// a single level, so SetLevel on any of them applies to all.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithContext(ctx context.Context) Logger

	// Component returns a slog logger tagged component=name, the form engine
	// daemons and servers take.
	Component(name string) *slog.Logger
	// Slog returns the underlying slog logger.
	Slog() *slog.Logger

	// SetLevel changes the minimum level at runtime.
	SetLevel(level string) error
	// Level reports the current minimum level.
	Level() string
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is the output format (json, text).
	Format string
	// Output is the output writer (defaults to os.Stderr).
	Output io.Writer
	// AddSource adds source file information to log entries.
	AddSource bool
	// Node, when non-zero, is attached to every entry as node=<number>.
	Node uint64
}

// DefaultConfig returns the configuration used before a node config is
// loaded.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	}
}

type nodeLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
	ctx    context.Context
}

// New builds a logger. Unknown levels and formats are rejected.
func New(cfg Config) (Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(lvl)

	opts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			return Redact(a)
		},
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "console":
		handler = slog.NewTextHandler(output, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	sl := slog.New(handler)
	if cfg.Node != 0 {
		sl = sl.With("node", cfg.Node)
	}
	return &nodeLogger{logger: sl, level: levelVar, ctx: context.Background()}, nil
}

func (l *nodeLogger) Debug(msg string, args ...any) {
	l.logger.DebugContext(l.ctx, msg, args...)
}

func (l *nodeLogger) Info(msg string, args ...any) {
	l.logger.InfoContext(l.ctx, msg, args...)
}

func (l *nodeLogger) Warn(msg string, args ...any) {
	l.logger.WarnContext(l.ctx, msg, args...)
}

func (l *nodeLogger) Error(msg string, args ...any) {
	l.logger.ErrorContext(l.ctx, msg, args...)
}

func (l *nodeLogger) With(args ...any) Logger {
	return &nodeLogger{logger: l.logger.With(args...), level: l.level, ctx: l.ctx}
}

func (l *nodeLogger) WithContext(ctx context.Context) Logger {
	return &nodeLogger{logger: l.logger, level: l.level, ctx: ctx}
}

func (l *nodeLogger) Component(name string) *slog.Logger {
	return l.logger.With("component", name)
}

func (l *nodeLogger) Slog() *slog.Logger {
	return l.logger
}

func (l *nodeLogger) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.Set(lvl)
	return nil
}

func (l *nodeLogger) Level() string {
	return strings.ToLower(l.level.Level().String())
}

// ParseLevel converts a level name to a slog.Level. The empty string means
// info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

var defaultLogger atomic.Value // Logger

func init() {
	l, _ := New(DefaultConfig())
	defaultLogger.Store(l)
}

// SetDefault replaces the process-wide logger returned by Default and used
// by FromContext when a context carries none.
func SetDefault(l Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// Default returns the process-wide logger.
func Default() Logger {
	return defaultLogger.Load().(Logger)
}
