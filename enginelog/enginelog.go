/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package enginelog is the engine's logging register: the teacher
// prints progress directly with fmt.Println (storage/blob-refcount.go,
// storage/database.go) rather than reaching for a structured logging
// library, so this keeps that register but generalizes it enough that
// background jobs (which must never crash the host per spec.md §7) can
// log-and-continue, and tests can capture output instead of polluting
// stderr.
package enginelog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

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
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "?"
	}
}

// Fields is a set of key=value pairs appended to a log line.
type Fields map[string]any

// Logger is a minimal leveled logger over the standard library's
// *log.Logger, with an optional static Fields prefix for a named
// component ("activity-sync", "gc", "move:"+moveID, ...).
type Logger struct {
	mu     sync.Mutex
	out    *log.Logger
	min    Level
	fields Fields
}

// New creates a Logger writing to w at or above min level.
func New(w io.Writer, min Level) *Logger {
	return &Logger{out: log.New(w, "", log.LstdFlags), min: min}
}

// Default returns a Logger writing to stderr at LevelInfo, the
// engine's default when the host application does not configure one.
func Default() *Logger {
	return New(os.Stderr, LevelInfo)
}

// With returns a child logger that prefixes every line with the given
// fields merged over this logger's own fields.
func (l *Logger) With(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{out: l.out, min: l.min, fields: merged}
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.fields) == 0 {
		l.out.Printf("[%s] %s", level, msg)
		return
	}
	l.out.Printf("[%s] %s %s", level, msg, formatFields(l.fields))
}

func formatFields(f Fields) string {
	s := ""
	for k, v := range f {
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("%s=%v", k, v)
	}
	return s
}

func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }
