// Package rlog provides structured logging for the proxy's own diagnostics.
//
// It is deliberately not the foreign plugin's or the outer host's logger:
// the teacher bridged every log line through the CLAP host's log
// extension (a C callback reached over cgo), which has no analogue here
// because the core proxy is itself the thing a host loads. Severity
// levels and method names mirror that original surface so call sites
// read the same, backed by charmbracelet/log instead.
package rlog

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

// Logger wraps a charmbracelet/log.Logger with the five-level surface the
// rest of this module expects.
type Logger struct {
	l      *log.Logger
	prefix string
}

// New creates a logger that writes to stderr with the given prefix
// (typically the transport suffix or "client"/"server").
func New(prefix string) *Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
	})
	return &Logger{l: l, prefix: prefix}
}

// With returns a derived logger carrying additional structured fields.
func (lg *Logger) With(keyvals ...interface{}) *Logger {
	if lg == nil {
		return nil
	}
	return &Logger{l: lg.l.With(keyvals...), prefix: lg.prefix}
}

// SetLevel adjusts the minimum severity that is emitted.
func (lg *Logger) SetLevel(level int32) {
	if lg == nil {
		return
	}
	switch {
	case level <= SeverityDebug:
		lg.l.SetLevel(log.DebugLevel)
	case level <= SeverityInfo:
		lg.l.SetLevel(log.InfoLevel)
	case level <= SeverityWarning:
		lg.l.SetLevel(log.WarnLevel)
	default:
		lg.l.SetLevel(log.ErrorLevel)
	}
}

// Severity levels, numerically compatible with the opcode's SetDebugLevel payload.
const (
	SeverityDebug int32 = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (lg *Logger) Debug(msg string) {
	if lg == nil {
		return
	}
	lg.l.Debug(msg)
}

func (lg *Logger) Info(msg string) {
	if lg == nil {
		return
	}
	lg.l.Info(msg)
}

func (lg *Logger) Warn(msg string) {
	if lg == nil {
		return
	}
	lg.l.Warn(msg)
}

func (lg *Logger) Error(msg string) {
	if lg == nil {
		return
	}
	lg.l.Error(msg)
}

func (lg *Logger) Fatal(msg string) {
	if lg == nil {
		return
	}
	lg.l.Fatal(msg)
}

func (lg *Logger) Debugf(format string, args ...interface{}) {
	lg.Debug(fmt.Sprintf(format, args...))
}

func (lg *Logger) Infof(format string, args ...interface{}) {
	lg.Info(fmt.Sprintf(format, args...))
}

func (lg *Logger) Warnf(format string, args ...interface{}) {
	lg.Warn(fmt.Sprintf(format, args...))
}

func (lg *Logger) Errorf(format string, args ...interface{}) {
	lg.Error(fmt.Sprintf(format, args...))
}

func (lg *Logger) Fatalf(format string, args ...interface{}) {
	lg.Fatal(fmt.Sprintf(format, args...))
}
