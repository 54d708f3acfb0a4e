package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger logs a formatted message.
type Logger interface {
	Log(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Log(string, ...any) {}

type debugLogger struct {
	entry *logrus.Entry
}

func (l debugLogger) Log(format string, v ...any) {
	l.entry.Debugf(format, v...)
}

// LeveledLogger writes info, warning and error messages, and debug messages
// when verbose output is enabled.
type LeveledLogger struct {
	entry   *logrus.Entry
	verbose bool
}

// NewLeveledLogger returns a LeveledLogger writing text to stderr.
func NewLeveledLogger(verbose bool) *LeveledLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	}
	return &LeveledLogger{entry: logrus.NewEntry(l), verbose: verbose}
}

func (l *LeveledLogger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

// SetJSON switches to one JSON object per line.
func (l *LeveledLogger) SetJSON() {
	l.entry.Logger.SetFormatter(&logrus.JSONFormatter{})
}

// WithField returns a logger that adds key=value to every message.
func (l *LeveledLogger) WithField(key string, value any) *LeveledLogger {
	return &LeveledLogger{entry: l.entry.WithField(key, value), verbose: l.verbose}
}

func (l *LeveledLogger) Log(format string, v ...any) {
	l.entry.Infof(format, v...)
}

func (l *LeveledLogger) Warn(format string, v ...any) {
	l.entry.Warnf(format, v...)
}

func (l *LeveledLogger) Error(format string, v ...any) {
	l.entry.Errorf(format, v...)
}

// Verbose returns a Logger that only writes when verbose output is enabled.
func (l *LeveledLogger) Verbose() Logger {
	if !l.verbose {
		return nopLogger{}
	}
	return debugLogger{entry: l.entry}
}

// Discard returns a logger that writes nothing, for tests.
func Discard() *LeveledLogger {
	l := NewLeveledLogger(false)
	l.SetOutput(io.Discard)
	return l
}
