// Package logger is the structured logging wrapper every zecd package
// uses, built on logrus the way the teacher's packages expect
// (logger.NewLogger(level), .WithField/.WithFields, .Info/.Warn/.Debug).
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a shorthand for structured log fields.
type Fields = logrus.Fields

// Logger wraps a logrus entry point so callers never touch logrus types
// directly.
type Logger struct {
	*logrus.Logger
}

// NewLogger builds a Logger at the given level ("debug", "info", "warn",
// "error"). An unrecognized level falls back to "info".
func NewLogger(level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return &Logger{Logger: l}
}

// WithField returns a log entry with a single structured field attached.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a log entry with the given structured fields attached.
func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}
