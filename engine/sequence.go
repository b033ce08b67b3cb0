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
	"path"
	"sort"
	"sync"

	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

// SequenceKey identifies one (storage directory, document, instance)
// sequence counter (spec.md §4.5).
type SequenceKey struct {
	SDID       ids.ID
	DocumentID ids.ID
	InstanceID ids.ID
}

// SequenceState is the persisted counter value for one SequenceKey.
type SequenceState struct {
	CurrentSequence uint64
	CurrentFile     string
	CurrentOffset   int64
}

// SequenceStore is the persistence side-channel for sequence state,
// implemented by the cache database's sequence_state table (spec.md
// §4.12). Kept as an interface here so the engine package never
// imports the cache DB package directly.
type SequenceStore interface {
	LoadSequenceState(key SequenceKey) (SequenceState, bool, error)
	SaveSequenceState(key SequenceKey, state SequenceState) error
}

// SequenceManager allocates strictly-monotonic, gap-free sequence
// numbers per (SD, document, instance), validating persisted state
// against the real filesystem on first use and rescanning when they
// disagree (spec.md §4.5, §7 "sequence gap in own data on startup").
type SequenceManager struct {
	fs    fsadapter.FS
	store SequenceStore

	mu    sync.Mutex
	state map[SequenceKey]*SequenceState
}

func NewSequenceManager(fs fsadapter.FS, store SequenceStore) *SequenceManager {
	return &SequenceManager{fs: fs, store: store, state: make(map[SequenceKey]*SequenceState)}
}

// Current returns the currently-allocated sequence for key (0 if
// nothing has been allocated yet), validating against disk on first
// access for this key in this process.
func (m *SequenceManager) Current(sdRoot string, key SequenceKey, kind DocKind) (uint64, error) {
	st, err := m.ensureLoaded(sdRoot, key, kind)
	if err != nil {
		return 0, err
	}
	return st.CurrentSequence, nil
}

// Allocate hands out the next sequence number for key. It only
// reserves the number in memory; the counter is persisted by Advance,
// whose file/offset describe where the stamped record physically
// landed. DocumentStore.ApplyLocalUpdate calls Advance once the write
// is durable.
func (m *SequenceManager) Allocate(sdRoot string, key SequenceKey, kind DocKind) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.ensureLoadedLocked(sdRoot, key, kind)
	if err != nil {
		return 0, err
	}
	st.CurrentSequence++
	return st.CurrentSequence, nil
}

// Advance records where on disk the most recently allocated sequence
// landed, persisting the counter. Call this only after the
// corresponding log record has been fsynced (spec.md §4.6: "the
// activity log line is written after the CRDT record is durable").
func (m *SequenceManager) Advance(key SequenceKey, file string, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[key]
	if !ok {
		return engineerr.New(engineerr.Conflict, "sequence: Advance called before any Allocate")
	}
	st.CurrentFile = file
	st.CurrentOffset = offset
	return m.store.SaveSequenceState(key, *st)
}

func (m *SequenceManager) ensureLoaded(sdRoot string, key SequenceKey, kind DocKind) (SequenceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.ensureLoadedLocked(sdRoot, key, kind)
	if err != nil {
		return SequenceState{}, err
	}
	return *st, nil
}

func (m *SequenceManager) ensureLoadedLocked(sdRoot string, key SequenceKey, kind DocKind) (*SequenceState, error) {
	if st, ok := m.state[key]; ok {
		return st, nil
	}

	persisted, found, err := m.store.LoadSequenceState(key)
	if err != nil {
		return nil, err
	}

	if found {
		// Fast path (spec.md §4.5): trust the DB if the file it names
		// still exists and is at least as large as the recorded
		// offset — meaning nothing has been lost since the last save.
		if persisted.CurrentFile != "" {
			fullPath := path.Join(sdRoot, logsDir(kind, key.DocumentID), persisted.CurrentFile)
			if fi, statErr := m.fs.Stat(fullPath); statErr == nil && fi.Size >= persisted.CurrentOffset {
				cp := persisted
				m.state[key] = &cp
				return &cp, nil
			}
		}
	}

	// Slow path: rescan every log file this instance wrote for this
	// document and rebuild the counter from scratch.
	rebuilt, err := m.rescan(sdRoot, key, kind)
	if err != nil {
		return nil, err
	}
	m.state[key] = rebuilt
	if err := m.store.SaveSequenceState(key, *rebuilt); err != nil {
		return nil, err
	}
	return rebuilt, nil
}

// rescan rebuilds a SequenceState by reading every log file written by
// key.InstanceID for this document and finding the highest contiguous
// sequence with no holes (invariant 1). A hole is a crash-recovery
// signal, never silently papered over: rescan stops at the first gap
// and reports only the contiguous prefix, matching spec.md §7's
// "never write over a detected gap."
func (m *SequenceManager) rescan(sdRoot string, key SequenceKey, kind DocKind) (*SequenceState, error) {
	dir := path.Join(sdRoot, logsDir(kind, key.DocumentID))
	parsed, names, err := listLogFiles(m.fs, dir)
	if err != nil {
		return nil, err
	}

	type fileSeqs struct {
		name   string
		millis int64
	}
	var own []fileSeqs
	for i, p := range parsed {
		if p.InstanceID == key.InstanceID {
			own = append(own, fileSeqs{name: names[i], millis: p.CreationMillis})
		}
	}
	sort.Slice(own, func(i, j int) bool { return own[i].millis < own[j].millis })

	var maxSeq uint64
	var lastFile string
	var lastOffset int64
	expected := uint64(1)
outer:
	for _, f := range own {
		data, err := m.fs.ReadFile(path.Join(dir, f.name))
		if err != nil {
			return nil, engineerr.IoErrorAt(path.Join(dir, f.name), err)
		}
		lr := NewLogReader(data)
		for {
			rec, err := lr.Next()
			if err != nil {
				break
			}
			if rec.Sequence != expected {
				// Gap detected: stop incorporating further records,
				// keep what's contiguous so far.
				break outer
			}
			maxSeq = rec.Sequence
			lastFile = f.name
			lastOffset = lr.LastGoodOffset()
			expected++
		}
	}

	return &SequenceState{CurrentSequence: maxSeq, CurrentFile: lastFile, CurrentOffset: lastOffset}, nil
}
