// Package log provides the leveled audit logger used throughout the AID
// client. Components take a Logger rather than writing to a global, and
// tests swap in the capturing mock from mock.go.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Syslog-style severities. Messages above the configured level are dropped.
const (
	levelErr     = 3
	levelWarning = 4
	levelInfo    = 6
	levelDebug   = 7
)

// Logger is the interface all of the AID client's packages log through.
// The Audit variants mark messages that must survive into audit trails:
// security-relevant decisions such as a failed PKA handshake.
type Logger interface {
	Err(msg string)
	Errf(format string, a ...interface{})
	Warning(msg string)
	Warningf(format string, a ...interface{})
	Info(msg string)
	Infof(format string, a ...interface{})
	Debug(msg string)
	Debugf(format string, a ...interface{})
	AuditInfo(msg string)
	AuditInfof(format string, a ...interface{})
	AuditErr(msg string)
	AuditErrf(format string, a ...interface{})
}

var (
	defaultLoggerOnce sync.Once
	defaultLogger     Logger
	setMu             sync.Mutex
)

// Set replaces the package default logger. It errors if called twice so a
// misconfigured process fails loudly rather than splitting its log stream.
func Set(logger Logger) error {
	setMu.Lock()
	defer setMu.Unlock()
	if defaultLogger != nil {
		return fmt.Errorf("logger already set")
	}
	defaultLogger = logger
	return nil
}

// Get returns the logger installed with Set, or an info-level stdout logger
// if none was installed.
func Get() Logger {
	setMu.Lock()
	defer setMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(os.Stdout, levelInfo)
	}
	return defaultLogger
}

// New returns a Logger that writes one line per message to w, dropping
// messages whose severity exceeds level.
func New(w io.Writer, level int) Logger {
	return &stdoutLogger{w: w, level: level}
}

type stdoutLogger struct {
	mu    sync.Mutex
	w     io.Writer
	level int
}

func (l *stdoutLogger) logAt(level int, prefix, msg string) {
	if level > l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s %s: %s\n", time.Now().Format(time.RFC3339), prefix, msg)
}

func (l *stdoutLogger) Err(msg string)     { l.logAt(levelErr, "ERR", msg) }
func (l *stdoutLogger) Warning(msg string) { l.logAt(levelWarning, "WARNING", msg) }
func (l *stdoutLogger) Info(msg string)    { l.logAt(levelInfo, "INFO", msg) }
func (l *stdoutLogger) Debug(msg string)   { l.logAt(levelDebug, "DEBUG", msg) }

func (l *stdoutLogger) AuditInfo(msg string) { l.logAt(levelInfo, "INFO", "[AUDIT] "+msg) }
func (l *stdoutLogger) AuditErr(msg string)  { l.logAt(levelErr, "ERR", "[AUDIT] "+msg) }

func (l *stdoutLogger) Errf(format string, a ...interface{}) {
	l.Err(fmt.Sprintf(format, a...))
}

func (l *stdoutLogger) Warningf(format string, a ...interface{}) {
	l.Warning(fmt.Sprintf(format, a...))
}

func (l *stdoutLogger) Infof(format string, a ...interface{}) {
	l.Info(fmt.Sprintf(format, a...))
}

func (l *stdoutLogger) Debugf(format string, a ...interface{}) {
	l.Debug(fmt.Sprintf(format, a...))
}

func (l *stdoutLogger) AuditInfof(format string, a ...interface{}) {
	l.AuditInfo(fmt.Sprintf(format, a...))
}

func (l *stdoutLogger) AuditErrf(format string, a ...interface{}) {
	l.AuditErr(fmt.Sprintf(format, a...))
}
