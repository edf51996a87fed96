// Package logging provides structured logging for stgstress.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with stgstress-specific structured fields.
type Logger struct {
	zlog zerolog.Logger
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = LogLevel(zerolog.DebugLevel)
	LevelInfo  LogLevel = LogLevel(zerolog.InfoLevel)
	LevelWarn  LogLevel = LogLevel(zerolog.WarnLevel)
	LevelError LogLevel = LogLevel(zerolog.ErrorLevel)
)

// Config holds logging configuration.
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Output  io.Writer
	NoColor bool // disables ANSI color codes
}

// DefaultConfig returns a sensible default configuration: text on stderr,
// colored only when stderr is a terminal.
func DefaultConfig() *Config {
	return &Config{
		Level:   LevelInfo,
		Format:  "text",
		Output:  os.Stderr,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()),
	}
}

// NewLogger creates a new structured logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	var zlog zerolog.Logger
	switch config.Format {
	case "json":
		zlog = zerolog.New(config.Output).With().Timestamp().Logger()
	default:
		consoleWriter := zerolog.ConsoleWriter{Out: config.Output, NoColor: config.NoColor}
		zlog = zerolog.New(consoleWriter).With().Timestamp().Logger()
	}

	zlog = zlog.Level(zerolog.Level(config.Level))

	return &Logger{zlog: zlog}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithTarget returns a logger with the storage target name attached.
func (l *Logger) WithTarget(target string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("target", target).Logger()}
}

// WithOp returns a logger with an operation kind attached.
func (l *Logger) WithOp(op string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("op", op).Logger()}
}

// WithError returns a logger with error context.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

// Standard logging methods take alternating key/value pairs.

func (l *Logger) Debug(msg string, args ...any) { emit(l.zlog.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...any)  { emit(l.zlog.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { emit(l.zlog.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...any) { emit(l.zlog.Error(), msg, args) }

func emit(event *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, args[i+1])
	}
	event.Msg(msg)
}

// Convenience functions for the default logger.

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
