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
package engine

import (
	"io"
	"path"
	"sort"
	"sync"

	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

// LogWriter owns the single writable .crdtlog file for one
// (profile, instance, document), enforcing spec.md §4.2's append
// discipline: write-then-fsync, rotate past 10 MiB, sentinel on
// close, and crash-tolerant validation on open (invariant 3: each log
// file is written by exactly one instance over its lifetime).
type LogWriter struct {
	fs         fsadapter.FS
	dir        string
	profileID  ids.ID
	instanceID ids.ID
	maxBytes   int64

	mu             sync.Mutex
	file           fsadapter.AppendFile
	fileName       string
	size           int64
	creationMillis int64
	closed         bool
}

// OpenLogWriter locates (or creates) the writable log file for this
// (profileID, instanceID, document), validating and truncating any
// torn tail left by a prior crash before returning.
func OpenLogWriter(fs fsadapter.FS, sdRoot string, kind DocKind, noteID, profileID, instanceID ids.ID, maxBytes int64, nowMillis int64) (*LogWriter, error) {
	dir := path.Join(sdRoot, logsDir(kind, noteID))
	if err := fs.MkdirAll(dir, 0750); err != nil {
		return nil, engineerr.IoErrorAt(dir, err)
	}

	entries, err := fs.ListDir(dir)
	if err != nil {
		return nil, engineerr.IoErrorAt(dir, err)
	}

	var candidates []parsedLogName
	var candidateNames []string
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		parsed, err := parseLogFileName(e.Name)
		if err != nil {
			continue // foreign/unrelated file, ignore
		}
		if parsed.ProfileID != profileID || parsed.InstanceID != instanceID {
			continue
		}
		candidates = append(candidates, parsed)
		candidateNames = append(candidateNames, e.Name)
	}

	w := &LogWriter{fs: fs, dir: dir, profileID: profileID, instanceID: instanceID, maxBytes: maxBytes}

	if len(candidates) == 0 {
		return w, w.openNewFile(nowMillis)
	}

	// pick the file with the highest creation timestamp
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].CreationMillis > candidates[best].CreationMillis {
			best = i
		}
	}
	w.creationMillis = candidates[best].CreationMillis
	for _, c := range candidates {
		if c.CreationMillis > w.creationMillis {
			w.creationMillis = c.CreationMillis
		}
	}

	name := candidateNames[best]
	data, err := fs.ReadFile(path.Join(dir, name))
	if err != nil {
		return nil, engineerr.IoErrorAt(path.Join(dir, name), err)
	}

	records, unfinalized, truncatedAt := ReadAllRecords(data)
	_ = records
	if !unfinalized {
		// This file ends with a sentinel: it is finalized and must
		// never be appended to again (invariant 3). Start a fresh one.
		return w, w.openNewFile(nowMillis)
	}

	goodLength := int64(len(data))
	if truncatedAt >= 0 {
		goodLength = truncatedAt
	}
	if goodLength < int64(len(data)) {
		// Torn trailing record from a crash mid-append: truncate to
		// the last complete record before resuming writes.
		truncated := data[:goodLength]
		if err := fs.WriteFileAtomic(path.Join(dir, name), truncated, 0640); err != nil {
			return nil, engineerr.IoErrorAt(path.Join(dir, name), err)
		}
	}

	f, err := fs.OpenAppend(path.Join(dir, name))
	if err != nil {
		return nil, engineerr.IoErrorAt(path.Join(dir, name), err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, engineerr.IoErrorAt(path.Join(dir, name), err)
	}
	w.file = f
	w.fileName = name
	w.size = goodLength
	return w, nil
}

func (w *LogWriter) openNewFile(nowMillis int64) error {
	if nowMillis <= w.creationMillis {
		nowMillis = w.creationMillis + 1
	}
	w.creationMillis = nowMillis
	w.fileName = logFileName(w.profileID, w.instanceID, nowMillis)
	f, err := w.fs.OpenAppend(path.Join(w.dir, w.fileName))
	if err != nil {
		return engineerr.IoErrorAt(path.Join(w.dir, w.fileName), err)
	}
	w.file = f
	w.size = 0
	return nil
}

// Append writes one CRDT update record, fsyncing before returning.
// seq must already be allocated by the sequence manager (C5); this
// writer does not allocate sequence numbers itself. The returned bool
// reports whether this append triggered a rotation, the document
// storage manager's cue to trigger a fresh snapshot (spec.md §4.4
// "on log-file rotation (always)").
func (w *LogWriter) Append(seq uint64, update []byte, nowMillis int64) (rotated bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false, engineerr.New(engineerr.IoError, "log writer is closed")
	}

	encoded := encodeRecord(Record{TimestampMillis: nowMillis, Sequence: seq, Update: update})

	if w.size+int64(len(encoded)) > w.maxBytes && w.size > 0 {
		if err := w.rotate(nowMillis); err != nil {
			return false, err
		}
		rotated = true
	}

	if _, err := w.file.Write(encoded); err != nil {
		return rotated, engineerr.IoErrorAt(path.Join(w.dir, w.fileName), err)
	}
	if err := w.file.Sync(); err != nil {
		return rotated, engineerr.IoErrorAt(path.Join(w.dir, w.fileName), err)
	}
	w.size += int64(len(encoded))
	return rotated, nil
}

func (w *LogWriter) rotate(nowMillis int64) error {
	sentinel := encodeSentinel()
	if _, err := w.file.Write(sentinel); err != nil {
		return engineerr.IoErrorAt(path.Join(w.dir, w.fileName), err)
	}
	if err := w.file.Sync(); err != nil {
		return engineerr.IoErrorAt(path.Join(w.dir, w.fileName), err)
	}
	if err := w.file.Close(); err != nil {
		return engineerr.IoErrorAt(path.Join(w.dir, w.fileName), err)
	}
	return w.openNewFile(nowMillis)
}

// Close writes the termination sentinel and fsyncs, per spec.md
// §4.2's shutdown discipline.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.file == nil {
		w.closed = true
		return nil
	}
	sentinel := encodeSentinel()
	if _, err := w.file.Write(sentinel); err != nil {
		return engineerr.IoErrorAt(path.Join(w.dir, w.fileName), err)
	}
	if err := w.file.Sync(); err != nil {
		return engineerr.IoErrorAt(path.Join(w.dir, w.fileName), err)
	}
	err := w.file.Close()
	w.closed = true
	return err
}

// CurrentFile returns the name of the file currently being written
// to, for persistence into the sequence manager's state.
func (w *LogWriter) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fileName
}

// CurrentOffset returns the current writable file's size, i.e. the
// offset the next record will be written at.
func (w *LogWriter) CurrentOffset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// listLogFiles returns every .crdtlog file under dir, grouped by owning
// instance (instance ID string order) and sorted by creation timestamp
// ascending within each instance. Used by cold-load (C6) to replay
// every instance's history.
func listLogFiles(fs fsadapter.FS, dir string) ([]parsedLogName, []string, error) {
	entries, err := fs.ListDir(dir)
	if err != nil {
		return nil, nil, err
	}
	var parsed []parsedLogName
	var names []string
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		p, err := parseLogFileName(e.Name)
		if err != nil {
			continue
		}
		parsed = append(parsed, p)
		names = append(names, e.Name)
	}
	sort.Slice(parsed, func(i, j int) bool {
		if parsed[i].InstanceID != parsed[j].InstanceID {
			return parsed[i].InstanceID.String() < parsed[j].InstanceID.String()
		}
		return parsed[i].CreationMillis < parsed[j].CreationMillis
	})
	// names must follow the same permutation; simplest is to re-derive
	// from parsed+reconstruction since filenames are deterministic.
	out := make([]string, len(parsed))
	for i, p := range parsed {
		out[i] = logFileName(p.ProfileID, p.InstanceID, p.CreationMillis)
	}
	return parsed, out, nil
}
