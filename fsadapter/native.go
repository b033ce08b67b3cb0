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
package fsadapter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Native is the real-OS-filesystem FS backend, the one every non-test
// binary uses. Grounded on the teacher's direct os.* calls in
// storage/persistence-files.go: os.ReadFile/os.Create/os.Rename with
// no abstraction layer between the code and the syscalls, just lifted
// behind the FS interface so tests can swap in Memory instead.
type Native struct{}

var _ FS = Native{}

func (Native) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (Native) WriteFileAtomic(path string, data []byte, perm uint32) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, os.FileMode(perm)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func (Native) OpenAppend(path string) (AppendFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, err
	}
	return nativeAppendFile{f}, nil
}

type nativeAppendFile struct{ f *os.File }

func (n nativeAppendFile) Write(p []byte) (int, error)   { return n.f.Write(p) }
func (n nativeAppendFile) Seek(o int64, w int) (int64, error) { return n.f.Seek(o, w) }
func (n nativeAppendFile) Sync() error                   { return n.f.Sync() }
func (n nativeAppendFile) Close() error                  { return n.f.Close() }
func (n nativeAppendFile) Size() (int64, error) {
	fi, err := n.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (Native) CreateSeekable(path string) (AppendFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return nil, err
	}
	return nativeAppendFile{f}, nil
}

func (Native) Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (Native) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (Native) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (Native) MkdirAll(path string, perm uint32) error {
	return os.MkdirAll(path, os.FileMode(perm))
}

func (Native) ListDir(path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue // vanished between ReadDir and Info, skip (eventually-consistent FS)
		}
		out = append(out, FileInfo{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (Native) Stat(path string) (FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}, nil
}

// Watch starts a recursive fsnotify watch rooted at path. fsnotify
// does not recurse on its own, so Watch walks the tree at start time
// and adds a watch per directory, plus re-adds watches for newly
// created subdirectories as they appear.
func (Native) Watch(path string) (<-chan Event, func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := addRecursive(w, path); err != nil {
		w.Close()
		return nil, nil, err
	}

	out := make(chan Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						w.Add(ev.Name)
					}
				}
				op := translateOp(ev.Op)
				select {
				case out <- Event{Path: ev.Name, Op: op}:
				case <-done:
					return
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		w.Close()
	}
	return out, cancel, nil
}

func translateOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	if err := w.Add(root); err != nil {
		if os.IsNotExist(err) {
			return nil // watched directory may not exist yet; watcher for parent will notice its creation
		}
		return fmt.Errorf("fsadapter: watch %s: %w", root, err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			addRecursive(w, filepath.Join(root, e.Name()))
		}
	}
	return nil
}
