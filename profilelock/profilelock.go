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

// Package profilelock enforces spec.md §5's "a profile's cache
// database is opened by at most one process at a time" rule across
// process boundaries. The teacher guards its global `databases` map
// with an in-process sync.Mutex (storage/database.go); a profile lock
// generalizes that same "claim exclusive ownership of shared state
// before mutating it" shape to a second process on the same machine,
// which an in-process mutex can't see.
package profilelock

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/inkwell/noteengine/engineerr"
)

// Lock wraps an advisory file lock held for the lifetime of a profile
// being open. The lock file itself carries no data; its existence and
// lock state is the entire protocol.
type Lock struct {
	fl   *flock.Flock
	path string
}

// lockFileName is the fixed name every profile lock uses, sitting
// alongside the profile's cache.sqlite and storage directories.
const lockFileName = "profile.lock"

// TryAcquire attempts to take an exclusive, non-blocking lock on
// profileRoot/profile.lock. Held is false (with a nil error) if
// another process currently holds it — the caller's job, not this
// package's, is to decide whether that means "refuse to start" or
// "wait and retry" (spec.md §5 leaves that choice to the CLI).
func TryAcquire(profileRoot string) (*Lock, bool, error) {
	if err := os.MkdirAll(profileRoot, 0o750); err != nil {
		return nil, false, engineerr.Wrap(engineerr.IoError, "profilelock: create profile root", err)
	}
	path := filepath.Join(profileRoot, lockFileName)
	fl := flock.New(path)
	held, err := fl.TryLock()
	if err != nil {
		return nil, false, engineerr.Wrap(engineerr.IoError, "profilelock: try lock "+path, err)
	}
	if !held {
		return nil, false, nil
	}
	return &Lock{fl: fl, path: path}, true, nil
}

// Release drops the lock. Safe to call on a nil Lock (a TryAcquire
// that returned held=false has nothing to release).
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return engineerr.Wrap(engineerr.IoError, "profilelock: unlock "+l.path, err)
	}
	return nil
}

// HeldByOther reports whether profileRoot's lock is currently held by
// some other process, without taking it — diagnostics' stuck-process
// check can surface this without disturbing a live session.
func HeldByOther(profileRoot string) (bool, error) {
	path := filepath.Join(profileRoot, lockFileName)
	fl := flock.New(path)
	held, err := fl.TryLock()
	if err != nil {
		return false, engineerr.Wrap(engineerr.IoError, "profilelock: probe lock "+path, err)
	}
	if held {
		_ = fl.Unlock()
		return false, nil
	}
	return true, nil
}
