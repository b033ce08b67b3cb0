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
	"bytes"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory FS used by unit tests that want deterministic,
// fast, crash-simulatable storage without touching disk. Watch events
// are delivered synchronously (no debounce, no background goroutine
// delay) since tests drive time explicitly.
type Memory struct {
	mu       sync.Mutex
	files    map[string][]byte
	modTimes map[string]time.Time
	watchers map[string][]chan Event
}

var _ FS = (*Memory)(nil)

// NewMemory creates an empty in-memory filesystem.
func NewMemory() *Memory {
	return &Memory{
		files:    make(map[string][]byte),
		modTimes: make(map[string]time.Time),
		watchers: make(map[string][]chan Event),
	}
}

// SetModTime overrides the recorded modification time for an existing
// path. Age-based jobs (GC, orphan cleanup) are driven by an explicit
// nowMillis parameter rather than time.Now(), so tests need a way to
// backdate a file's mtime to match without sleeping.
func (m *Memory) SetModTime(p string, t time.Time) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modTimes[p] = t
}

// touch records p's modification time as now, called by every write
// path so ListDir/Stat report something sensible by default even when
// the test never calls SetModTime.
func (m *Memory) touch(p string) {
	m.modTimes[p] = time.Now()
}

func (m *Memory) modTimeLocked(p string) time.Time {
	if t, ok := m.modTimes[p]; ok {
		return t
	}
	return time.Now()
}

func clean(p string) string {
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

func (m *Memory) notify(p string, op Op) {
	for root, chans := range m.watchers {
		if p == root || strings.HasPrefix(p, root+"/") {
			for _, ch := range chans {
				select {
				case ch <- Event{Path: p, Op: op}:
				default:
				}
			}
		}
	}
}

func (m *Memory) ReadFile(p string) ([]byte, error) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, &os.PathError{Op: "open", Path: p, Err: os.ErrNotExist}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) WriteFileAtomic(p string, data []byte, _ uint32) error {
	p = clean(p)
	m.mu.Lock()
	_, existed := m.files[p]
	cp := make([]byte, len(data))
	copy(cp, data)
	m.files[p] = cp
	m.touch(p)
	m.mu.Unlock()
	if existed {
		m.notify(p, OpWrite)
	} else {
		m.notify(p, OpCreate)
	}
	return nil
}

type memAppendFile struct {
	m    *Memory
	path string
	buf  *bytes.Buffer
	pos  int64
}

func (a *memAppendFile) Write(p []byte) (int, error) {
	n, err := a.buf.Write(p)
	a.m.mu.Lock()
	existed := a.m.files[a.path] != nil
	cp := make([]byte, a.buf.Len())
	copy(cp, a.buf.Bytes())
	a.m.files[a.path] = cp
	a.m.touch(a.path)
	a.m.mu.Unlock()
	if existed {
		a.m.notify(a.path, OpWrite)
	} else {
		a.m.notify(a.path, OpCreate)
	}
	return n, err
}

func (a *memAppendFile) Seek(offset int64, whence int) (int64, error) {
	// Only used by the log writer to seek to the end after reopen;
	// the in-memory buffer is always positioned at its end already.
	switch whence {
	case 2: // io.SeekEnd
		a.pos = int64(a.buf.Len()) + offset
	default:
		a.pos = offset
	}
	return a.pos, nil
}

func (a *memAppendFile) Sync() error { return nil }
func (a *memAppendFile) Close() error { return nil }
func (a *memAppendFile) Size() (int64, error) { return int64(a.buf.Len()), nil }

// memSeekableFile supports true positional writes (overwrite-in-place
// at an arbitrary offset), unlike memAppendFile which only ever grows.
// Backs CreateSeekable, used by the two-phase snapshot writer to flip
// a single status byte after the fact.
type memSeekableFile struct {
	m    *Memory
	path string
	data []byte
	pos  int64
}

func (s *memSeekableFile) Write(p []byte) (int, error) {
	end := s.pos + int64(len(p))
	if end > int64(len(s.data)) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	copy(s.data[s.pos:end], p)
	s.pos = end

	s.m.mu.Lock()
	existed := s.m.files[s.path] != nil
	cp := make([]byte, len(s.data))
	copy(cp, s.data)
	s.m.files[s.path] = cp
	s.m.touch(s.path)
	s.m.mu.Unlock()
	if existed {
		s.m.notify(s.path, OpWrite)
	} else {
		s.m.notify(s.path, OpCreate)
	}
	return len(p), nil
}

func (s *memSeekableFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 1: // io.SeekCurrent
		s.pos += offset
	case 2: // io.SeekEnd
		s.pos = int64(len(s.data)) + offset
	default: // io.SeekStart
		s.pos = offset
	}
	return s.pos, nil
}

func (s *memSeekableFile) Sync() error  { return nil }
func (s *memSeekableFile) Close() error { return nil }
func (s *memSeekableFile) Size() (int64, error) { return int64(len(s.data)), nil }

func (m *Memory) CreateSeekable(p string) (AppendFile, error) {
	p = clean(p)
	m.mu.Lock()
	m.files[p] = nil
	m.mu.Unlock()
	return &memSeekableFile{m: m, path: p}, nil
}

func (m *Memory) OpenAppend(p string) (AppendFile, error) {
	p = clean(p)
	m.mu.Lock()
	existing := m.files[p]
	buf := bytes.NewBuffer(append([]byte(nil), existing...))
	m.mu.Unlock()
	return &memAppendFile{m: m, path: p, buf: buf}, nil
}

func (m *Memory) Remove(p string) error {
	p = clean(p)
	m.mu.Lock()
	delete(m.files, p)
	delete(m.modTimes, p)
	m.mu.Unlock()
	m.notify(p, OpRemove)
	return nil
}

func (m *Memory) RemoveAll(p string) error {
	p = clean(p)
	m.mu.Lock()
	for k := range m.files {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(m.files, k)
			delete(m.modTimes, k)
		}
	}
	m.mu.Unlock()
	m.notify(p, OpRemove)
	return nil
}

func (m *Memory) Rename(oldPath, newPath string) error {
	oldPath, newPath = clean(oldPath), clean(newPath)
	m.mu.Lock()
	data, ok := m.files[oldPath]
	if ok {
		m.files[newPath] = data
		delete(m.files, oldPath)
		m.modTimes[newPath] = m.modTimeLocked(oldPath)
		delete(m.modTimes, oldPath)
	}
	m.mu.Unlock()
	if ok {
		m.notify(newPath, OpRename)
		m.notify(oldPath, OpRemove)
	}
	return nil
}

func (m *Memory) MkdirAll(p string, _ uint32) error {
	return nil // directories are implicit in the flat key space
}

func (m *Memory) ListDir(p string) ([]FileInfo, error) {
	p = clean(p)
	prefix := p + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var out []FileInfo
	for k, v := range m.files {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		name := rest
		isDir := false
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			name = rest[:idx]
			isDir = true
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		size := int64(len(v))
		if isDir {
			size = 0
		}
		mtime := m.modTimeLocked(k)
		out = append(out, FileInfo{Name: name, Size: size, ModTime: mtime, IsDir: isDir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) Stat(p string) (FileInfo, error) {
	p = clean(p)
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if ok {
		return FileInfo{Name: path.Base(p), Size: int64(len(data)), ModTime: m.modTimeLocked(p)}, nil
	}
	prefix := p + "/"
	for k := range m.files {
		if strings.HasPrefix(k, prefix) {
			return FileInfo{Name: path.Base(p), IsDir: true, ModTime: m.modTimeLocked(k)}, nil
		}
	}
	return FileInfo{}, &os.PathError{Op: "stat", Path: p, Err: os.ErrNotExist}
}

func (m *Memory) Watch(p string) (<-chan Event, func(), error) {
	p = clean(p)
	ch := make(chan Event, 256)
	m.mu.Lock()
	m.watchers[p] = append(m.watchers[p], ch)
	m.mu.Unlock()
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.watchers[p]
		for i, c := range list {
			if c == ch {
				m.watchers[p] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel, nil
}
