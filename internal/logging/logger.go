// Package logging provides the narrow logging port used throughout the
// core, backed by logrus so handshake and transport events carry
// structured fields instead of flat strings.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the seam every component logs through. It mirrors the
// teacher's application.Logger port: Printf-shaped methods per level plus
// WithField, kept deliberately narrow so call sites don't couple to logrus
// directly.
type Logger interface {
	Printf(format string, v ...any)
	WithField(key string, value any) Logger
	Debugf(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)
}

// LogrusLogger adapts *logrus.Entry to the Logger port.
type LogrusLogger struct {
	entry *logrus.Entry
}

// New builds a LogrusLogger at the given level, writing to stderr with the
// text formatter (readable for a daemon's journal output).
func New(level logrus.Level) *LogrusLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &LogrusLogger{entry: logrus.NewEntry(l)}
}

func (l *LogrusLogger) Printf(format string, v ...any) { l.entry.Infof(format, v...) }
func (l *LogrusLogger) Debugf(format string, v ...any) { l.entry.Debugf(format, v...) }
func (l *LogrusLogger) Warnf(format string, v ...any)  { l.entry.Warnf(format, v...) }
func (l *LogrusLogger) Errorf(format string, v ...any) { l.entry.Errorf(format, v...) }

func (l *LogrusLogger) WithField(key string, value any) Logger {
	return &LogrusLogger{entry: l.entry.WithField(key, value)}
}
