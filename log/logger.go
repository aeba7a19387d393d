// Package log provides the logging facade used by the spice engine.
// The engine only ever talks to the Logger interface; hosts can plug
// in their own implementation or use the golog-backed one.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Level represents logging severity.
type Level int

const (
	// LevelDebug for detailed debugging information.
	LevelDebug Level = iota
	// LevelInfo for general informational messages.
	LevelInfo
	// LevelWarn for warning messages.
	LevelWarn
	// LevelError for error messages.
	LevelError
	// LevelNone disables all logging.
	LevelNone
)

// String returns the textual name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(l))
	}
}

// Logger is the interface the engine logs through.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// StdLogger implements Logger on the standard library log package.
type StdLogger struct {
	logger *log.Logger
	level  Level
}

// NewStdLogger creates a logger writing to stderr.
func NewStdLogger(level Level) *StdLogger {
	return &StdLogger{
		logger: log.New(os.Stderr, "[spice] ", log.LstdFlags),
		level:  level,
	}
}

// NewStdLoggerTo creates a logger with a custom output.
func NewStdLoggerTo(out io.Writer, level Level) *StdLogger {
	return &StdLogger{
		logger: log.New(out, "[spice] ", log.LstdFlags),
		level:  level,
	}
}

// Debug logs debug messages.
func (l *StdLogger) Debug(format string, v ...any) {
	if l.level <= LevelDebug {
		l.logger.Printf("[DEBUG] "+format, v...)
	}
}

// Info logs informational messages.
func (l *StdLogger) Info(format string, v ...any) {
	if l.level <= LevelInfo {
		l.logger.Printf("[INFO] "+format, v...)
	}
}

// Warn logs warning messages.
func (l *StdLogger) Warn(format string, v ...any) {
	if l.level <= LevelWarn {
		l.logger.Printf("[WARN] "+format, v...)
	}
}

// Error logs error messages.
func (l *StdLogger) Error(format string, v ...any) {
	if l.level <= LevelError {
		l.logger.Printf("[ERROR] "+format, v...)
	}
}

// NopLogger discards everything.
type NopLogger struct{}

// Debug does nothing.
func (NopLogger) Debug(string, ...any) {}

// Info does nothing.
func (NopLogger) Info(string, ...any) {}

// Warn does nothing.
func (NopLogger) Warn(string, ...any) {}

// Error does nothing.
func (NopLogger) Error(string, ...any) {}

// Package-level logger (default is StdLogger at info level).
var defaultLogger Logger = NewStdLogger(LevelInfo)

// SetDefault replaces the package-level logger.
func SetDefault(logger Logger) {
	defaultLogger = logger
}

// Default returns the package-level logger.
func Default() Logger {
	return defaultLogger
}

// SetLevel installs a StdLogger at the given level as the default.
func SetLevel(level Level) {
	defaultLogger = NewStdLogger(level)
}

// Debug logs a debug message using the package-level logger.
func Debug(format string, v ...any) {
	defaultLogger.Debug(format, v...)
}

// Info logs an informational message using the package-level logger.
func Info(format string, v ...any) {
	defaultLogger.Info(format, v...)
}

// Warn logs a warning message using the package-level logger.
func Warn(format string, v ...any) {
	defaultLogger.Warn(format, v...)
}

// Error logs an error message using the package-level logger.
func Error(format string, v ...any) {
	defaultLogger.Error(format, v...)
}
