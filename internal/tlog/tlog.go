// Package tlog provides the session-tagged logger used by both the tftp
// package and the two command binaries. It generalises the teacher's
// per-concern package-level loggers (one logger per log.New(tag, color)
// call in dftp/manager.go and dftp/sender.go) into one logger per session,
// tagged with that session's own transfer-id, built on logrus rather than
// the teacher's unresolvable github.com/vizn3r/go-lib/logger.
package tlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// tidFormatter renders every entry as "[<tid>] message", the prefix format
// the external interface contract requires, and nothing else — no level
// name, no timestamp, matching the original implementation's plain prints.
type tidFormatter struct{}

func (tidFormatter) Format(e *logrus.Entry) ([]byte, error) {
	tid, _ := e.Data["tid"].(string)
	line := "[" + tid + "] " + e.Message + "\n"
	return []byte(line), nil
}

// Logger wraps two *logrus.Logger instances pinned to one transfer-id: one
// writing informational lines to stdout, the other writing errors and
// ERROR-packet events to stderr, per the logging contract in spec §6.
type Logger struct {
	tid  string
	out  *logrus.Logger
	errL *logrus.Logger
}

// New returns a Logger tagged with tid, the session's own TID as a string
// (e.g. the ephemeral port number).
func New(tid string) *Logger {
	out := logrus.New()
	out.SetOutput(os.Stdout)
	out.SetFormatter(tidFormatter{})
	out.SetLevel(logrus.DebugLevel)

	errL := logrus.New()
	errL.SetOutput(os.Stderr)
	errL.SetFormatter(tidFormatter{})
	errL.SetLevel(logrus.DebugLevel)

	return &Logger{tid: tid, out: out, errL: errL}
}

func (l *Logger) fields() logrus.Fields {
	return logrus.Fields{"tid": l.tid}
}

// Info logs an informational line to stdout.
func (l *Logger) Info(args ...interface{}) {
	l.out.WithFields(l.fields()).Info(args...)
}

// Debug logs a debug line to stdout; callers wanting --disable-block-messages
// semantics should gate per-block calls before reaching here.
func (l *Logger) Debug(args ...interface{}) {
	l.out.WithFields(l.fields()).Debug(args...)
}

// Error logs an error line to stderr.
func (l *Logger) Error(args ...interface{}) {
	l.errL.WithFields(l.fields()).Error(args...)
}

// Warn logs a warning line to stderr.
func (l *Logger) Warn(args ...interface{}) {
	l.errL.WithFields(l.fields()).Warn(args...)
}
