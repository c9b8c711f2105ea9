package gattclient

import "github.com/sirupsen/logrus"

// Logger is the logging interface every component that owns a
// goroutine (the ATT request pipeline, the discovery watchdog, the
// watcher registry) logs through, instead of reaching for the
// standard log package directly.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// ChildLogger returns a Logger that includes fields in every
	// subsequent log line, without mutating the receiver.
	ChildLogger(fields map[string]interface{}) Logger
}

// logrusLogger is the default Logger, backed by logrus.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogger returns the default, logrus-backed Logger.
func NewLogger() Logger {
	return &logrusLogger{entry: logrus.NewEntry(logrus.StandardLogger())}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) ChildLogger(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(fields)}
}

// NopLogger discards everything. Useful in tests that don't want
// goroutine log output interleaved with test output.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...interface{}) {}
func (NopLogger) Infof(string, ...interface{})  {}
func (NopLogger) Warnf(string, ...interface{})  {}
func (NopLogger) Errorf(string, ...interface{}) {}
func (NopLogger) ChildLogger(map[string]interface{}) Logger {
	return NopLogger{}
}
