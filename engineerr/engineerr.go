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

// Package engineerr defines the typed error taxonomy that crosses the
// engine's public boundary (spec §6.3). The teacher's internal
// PersistenceEngine layer panics on setup failures because those are
// programmer errors within one process (storage/persistence-files.go);
// the engine's own boundary is reached by a UI process across a
// multi-writer shared filesystem, where "not found", "corrupt", and
// "locked by another process" are routine, expected outcomes that
// callers must branch on — so they come back as typed errors here,
// never as panics.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from spec.md §6.3.
type Kind int

const (
	NotFound Kind = iota
	Conflict
	Corrupt
	IoError
	PermissionDenied
	SdUnavailable
	LockHeld
	SchemaTooNew
	Validation
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case Corrupt:
		return "Corrupt"
	case IoError:
		return "IoError"
	case PermissionDenied:
		return "PermissionDenied"
	case SdUnavailable:
		return "SdUnavailable"
	case LockHeld:
		return "LockHeld"
	case SchemaTooNew:
		return "SchemaTooNew"
	case Validation:
		return "Validation"
	default:
		return "Unknown"
	}
}

// Error is the typed boundary error every public engine operation
// returns on failure, in place of arbitrary wrapped errors.
type Error struct {
	Kind   Kind
	Path   string // populated for Corrupt, IoError
	Field  string // populated for Validation
	Reason string
	Err    error // underlying cause, if any, for errors.Unwrap
}

func (e *Error) Error() string {
	switch e.Kind {
	case Corrupt:
		return fmt.Sprintf("%s: %s (path=%s)", e.Kind, e.Reason, e.Path)
	case IoError:
		return fmt.Sprintf("%s: %s (path=%s)", e.Kind, e.Reason, e.Path)
	case Validation:
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Reason, e.Field)
	default:
		if e.Reason != "" {
			return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, engineerr.NotFound-style sentinels) work by
// comparing Kind, not pointer identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Reason: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: Conflict, Reason: fmt.Sprintf(format, args...)}
}

func CorruptAt(path, reason string) *Error {
	return &Error{Kind: Corrupt, Path: path, Reason: reason}
}

func IoErrorAt(path string, err error) *Error {
	return &Error{Kind: IoError, Path: path, Reason: err.Error(), Err: err}
}

func ValidationOf(field, reason string) *Error {
	return &Error{Kind: Validation, Field: field, Reason: reason}
}

// Sentinel values so callers can write errors.Is(err, engineerr.ErrLockHeld).
var (
	ErrLockHeld      = &Error{Kind: LockHeld}
	ErrSdUnavailable = &Error{Kind: SdUnavailable}
	ErrSchemaTooNew  = &Error{Kind: SchemaTooNew}
)
