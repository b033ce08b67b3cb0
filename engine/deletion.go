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
	"bytes"
	"path"
	"sync"

	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

// DeletionStore records, for the cache/search layer, that a document
// has been tombstoned: authoritative once the corresponding soft-delete
// CRDT update is itself visible (spec.md §4.9, §3 "Document soft-deleted").
type DeletionStore interface {
	MarkDeleted(docID ids.ID, nowMillis int64) error
}

// DeletionLogger is the Deletion Logger (C9): the same append-mostly
// plain-text feed as the Activity Logger (C7), written to a separate
// "deleted/" directory with the identical line format (spec.md §4.9
// "Same file pattern as C7/C8"). A tombstone is a one-shot fact rather
// than a typing burst, so RecordDeletion skips the last-line-replace
// collapse and always appends a fresh line; everything else — rotation,
// line format, parsing — is shared with the activity feed.
type DeletionLogger struct {
	fs  fsadapter.FS
	cfg Config

	mu       sync.Mutex
	fileLock map[string]*sync.Mutex
}

func NewDeletionLogger(fs fsadapter.FS, cfg Config) *DeletionLogger {
	return &DeletionLogger{fs: fs, cfg: cfg, fileLock: make(map[string]*sync.Mutex)}
}

func (d *DeletionLogger) lockFor(p string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.fileLock[p]
	if !ok {
		l = &sync.Mutex{}
		d.fileLock[p] = l
	}
	return l
}

// RecordDeletion appends one tombstone line for docID to this
// instance's deletion feed. sequence is the CRDT sequence number of
// the soft-delete update itself, letting a reader line up the
// tombstone with the record that makes it true.
func (d *DeletionLogger) RecordDeletion(sdRoot string, profileID, instanceID, docID ids.ID, sequence uint64, nowMillis int64) error {
	p := path.Join(sdRoot, deletionLogPath(profileID, instanceID))
	fl := d.lockFor(p)
	fl.Lock()
	defer fl.Unlock()

	existing, err := d.fs.ReadFile(p)
	if err != nil {
		existing = nil
	}
	data := append(bytes.TrimRight(existing, "\n"), '\n')
	if len(existing) == 0 {
		data = nil
	}
	data = append(data, []byte(formatActivityLine(docID, profileID, sequence))...)

	if err := d.fs.WriteFileAtomic(p, data, 0640); err != nil {
		return engineerr.IoErrorAt(p, err)
	}
	if int64(len(data)) > d.cfg.ActivityLogRotationBytes || countLines(data) > 1000 {
		return d.rotate(p, data)
	}
	return nil
}

func (d *DeletionLogger) rotate(p string, data []byte) error {
	entries := ParseActivityLog(data)
	if len(entries) > 1000 {
		entries = entries[len(entries)-1000:]
	}
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(formatActivityLine(e.DocumentID, e.ProfileID, e.Sequence))
	}
	if err := d.fs.WriteFileAtomic(p, buf.Bytes(), 0640); err != nil {
		return engineerr.IoErrorAt(p, err)
	}
	return nil
}

// DeletionSync tails every foreign instance's deletion feed the same
// way ActivitySync tails activity feeds (spec.md §4.9), but a
// tombstone needs no staleness heuristic: a deletion line only ever
// appears once per document, and the soft-delete CRDT update it
// references is propagated through the ordinary log/activity path, so
// DeletionSync's only job is to reload the affected document (if
// loaded) and record the tombstone for the cache/search layer.
type DeletionSync struct {
	fs      fsadapter.FS
	docs    *DocumentStore
	offsets ActivityOffsetStore
	store   DeletionStore

	ownInstanceID ids.ID
}

func NewDeletionSync(fs fsadapter.FS, docs *DocumentStore, offsets ActivityOffsetStore, store DeletionStore, ownInstanceID ids.ID) *DeletionSync {
	return &DeletionSync{fs: fs, docs: docs, offsets: offsets, store: store, ownInstanceID: ownInstanceID}
}

// Poll runs one pass over sdRoot/deleted, applying any new tombstones.
func (d *DeletionSync) Poll(sdID ids.ID, sdRoot string, nowMillis int64) error {
	dir := path.Join(sdRoot, "deleted")
	entries, err := d.fs.ListDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		f, ok := parseActivityFileName(e.Name)
		if !ok {
			continue
		}
		if f.InstanceID.Equal(d.ownInstanceID) {
			continue
		}
		if err := d.pollOne(sdID, sdRoot, f, nowMillis); err != nil {
			return err
		}
	}
	return nil
}

// watermarkKey namespaces the deletion feed's offset store entries
// apart from the activity feed's, since both share an
// ActivityOffsetStore keyed by (sdID, filename) and the two feeds can
// otherwise collide on "{profileId}_{instanceId}.log".
func (d *DeletionSync) watermarkKey(name string) string {
	return "deleted/" + name
}

func (d *DeletionSync) pollOne(sdID ids.ID, sdRoot string, f foreignActivityFile, nowMillis int64) error {
	p := path.Join(sdRoot, "deleted", f.Name)
	data, err := d.fs.ReadFile(p)
	if err != nil {
		return engineerr.IoErrorAt(p, err)
	}

	offset := int64(0)
	if d.offsets != nil {
		if o, found, err := d.offsets.LoadActivityOffset(sdID, d.watermarkKey(f.Name)); err == nil && found {
			offset = o
		}
	}
	if offset > int64(len(data)) {
		offset = 0
	}

	entries := ParseActivityLog(data[offset:])
	for _, e := range entries {
		kind := docKindFor(e.DocumentID)
		if err := d.docs.ReloadIfLoaded(sdID, kind, e.DocumentID); err != nil {
			return err
		}
		if d.store != nil {
			if err := d.store.MarkDeleted(e.DocumentID, nowMillis); err != nil {
				return err
			}
		}
	}

	if d.offsets != nil {
		if err := d.offsets.SaveActivityOffset(sdID, d.watermarkKey(f.Name), int64(len(data))); err != nil {
			return err
		}
	}
	return nil
}
