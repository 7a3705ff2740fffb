package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------

// Fields carries structured context (connection id, endpoint, table...).
type Fields map[string]interface{}

// Level names accepted by Log and by the log_level config key.
const (
	LevelDebug   = "DEBUG"
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name  string
	entry *logrus.Entry
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance writing to stdout at the given level.
func NewLogger(level string, name string) *Logger {
	return newLogger(os.Stdout, level, name)
}

// NewDiscardLogger returns a logger that drops everything. Used by tests.
func NewDiscardLogger(name string) *Logger {
	return newLogger(io.Discard, LevelError, name)
}

func newLogger(out io.Writer, level string, name string) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(parseLevel(level))
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	return &Logger{
		name:  name,
		entry: logrus.NewEntry(base).WithField("component", name),
	}
}

func parseLevel(level string) logrus.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarning, "WARN":
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// -----------------------------------------------------------------------------

// Named returns a child logger tagged with a new component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{name: name, entry: l.entry.WithField("component", name)}
}

// WithFields returns a child logger carrying the given fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	return &Logger{name: l.name, entry: l.entry.WithFields(logrus.Fields(fields))}
}

// Log writes message at level with structured fields.
func (l *Logger) Log(level string, message string, fields Fields) {
	l.entry.WithFields(logrus.Fields(fields)).Log(parseLevel(level), message)
}

// -----------------------------------------------------------------------------

// Debug logs diagnostic messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.entry.WithField("critical", true).Error(msg)
	os.Exit(1)
}
