// Package xlog is the runtime's logging surface: a thin wrapper around
// *log.Logger with a level-prefixed line format, the way pkg/client.Client
// holds a `log *log.Logger` field and pkg/cmdmain indirects Stdout/Stderr
// for testability. No third-party logging library is introduced: the
// teacher repo logs exclusively through the standard library.
package xlog

import (
	"io"
	"log"
	"os"
)

// Level is a coarse log severity, routed by the supervisor to its own
// logger when it arrives over the worker message channel as
// WorkerMessageLog.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger prefixes every line with a component tag, mirroring the
// "[worker] "/"[supervisor] " style used throughout pkg/client.go's
// c.log.Printf call sites.
type Logger struct {
	tag string
	out *log.Logger
}

// New returns a Logger writing to w (os.Stderr by default) tagged with
// component.
func New(component string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{
		tag: "[" + component + "] ",
		out: log.New(w, "", log.LstdFlags),
	}
}

func (l *Logger) Printf(level Level, format string, args ...interface{}) {
	l.out.Printf(l.tag+level.String()+": "+format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.Printf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.Printf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.Printf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.Printf(LevelError, format, args...) }
