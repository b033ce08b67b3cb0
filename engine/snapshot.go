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
	"bufio"
	"bytes"
	"io"
	"path"
	"sort"

	"github.com/inkwell/noteengine/codec"
	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

const snapshotVersion = 1

const (
	snapshotStatusWriting  byte = 0x00
	snapshotStatusComplete byte = 0x01
)

// VectorClockEntry is one instance's contribution to a document's
// vector clock, as recorded in a snapshot (spec.md §4.4) or held live
// in memory by the document storage manager (§4.6).
type VectorClockEntry struct {
	InstanceID ids.ID
	Sequence   uint64 // highest contiguous sequence incorporated from this instance
	Offset     int64  // byte offset in Filename up to which this sequence was read
	Filename   string // the log (or pack) file this offset is relative to
}

// VectorClock maps instance -> its entry. A nil/missing entry means
// this document has seen nothing yet from that instance.
type VectorClock map[ids.ID]VectorClockEntry

// Clone returns an independent copy of vc.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Snapshot is a full document state plus the vector clock describing
// exactly how much of each instance's history it incorporates.
type Snapshot struct {
	TotalChanges uint64
	InstanceID   ids.ID // the instance that produced this snapshot, for filename tie-breaking
	VectorClock  VectorClock
	State        []byte
}

// WriteSnapshot performs the two-phase write from spec.md §4.4: the
// full header/vector-clock/state is written and fsynced with
// status=writing, then the single status byte is flipped to complete
// and fsynced again. A reader that observes the file mid-write always
// sees status=writing and skips it.
func WriteSnapshot(fs fsadapter.FS, sdRoot string, kind DocKind, noteID ids.ID, snap Snapshot) (string, error) {
	dir := path.Join(sdRoot, snapshotsDir(kind, noteID))
	if err := fs.MkdirAll(dir, 0750); err != nil {
		return "", engineerr.IoErrorAt(dir, err)
	}
	name := snapshotFileName(snap.TotalChanges, snap.InstanceID)
	fullPath := path.Join(dir, name)

	var buf bytes.Buffer
	if err := codec.WriteHeader(&buf, codec.MagicSnapshot, snapshotVersion); err != nil {
		return "", engineerr.IoErrorAt(fullPath, err)
	}
	statusOffset := buf.Len()
	buf.WriteByte(snapshotStatusWriting)

	entries := make([]VectorClockEntry, 0, len(snap.VectorClock))
	for _, e := range snap.VectorClock {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].InstanceID.String() < entries[j].InstanceID.String() })

	var body bytes.Buffer
	body.Write(codec.PutUvarint(nil, uint64(len(entries))))
	for _, e := range entries {
		body.Write(codec.PutString(nil, e.InstanceID.String()))
		body.Write(codec.PutUvarint(nil, e.Sequence))
		body.Write(codec.PutUvarint(nil, uint64(e.Offset)))
		body.Write(codec.PutString(nil, e.Filename))
	}
	body.Write(snap.State)
	buf.Write(body.Bytes())

	f, err := fs.CreateSeekable(fullPath)
	if err != nil {
		return "", engineerr.IoErrorAt(fullPath, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return "", engineerr.IoErrorAt(fullPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", engineerr.IoErrorAt(fullPath, err)
	}

	if _, err := f.Seek(int64(statusOffset), io.SeekStart); err != nil {
		f.Close()
		return "", engineerr.IoErrorAt(fullPath, err)
	}
	if _, err := f.Write([]byte{snapshotStatusComplete}); err != nil {
		f.Close()
		return "", engineerr.IoErrorAt(fullPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", engineerr.IoErrorAt(fullPath, err)
	}
	if err := f.Close(); err != nil {
		return "", engineerr.IoErrorAt(fullPath, err)
	}
	return name, nil
}

// decodeSnapshot parses a snapshot file's bytes. It returns
// (Snapshot{}, false, nil) for a file whose status byte is not
// "complete" — callers must skip it silently and try the next-best
// candidate, per spec.md §4.4/§7.
func decodeSnapshot(data []byte) (snap Snapshot, complete bool, err error) {
	r := bytes.NewReader(data)
	if _, err := codec.ReadHeader(r, codec.MagicSnapshot, snapshotVersion); err != nil {
		return Snapshot{}, false, err
	}
	var statusBuf [1]byte
	if _, err := io.ReadFull(r, statusBuf[:]); err != nil {
		return Snapshot{}, false, err
	}
	if statusBuf[0] != snapshotStatusComplete {
		return Snapshot{}, false, nil
	}

	br := bufio.NewReader(r)
	count, err := codec.ReadUvarint(br)
	if err != nil {
		return Snapshot{}, false, err
	}
	vc := make(VectorClock, count)
	for i := uint64(0); i < count; i++ {
		instanceStr, err := codec.ReadString(br)
		if err != nil {
			return Snapshot{}, false, err
		}
		instanceID, err := ids.Parse(instanceStr)
		if err != nil {
			return Snapshot{}, false, err
		}
		seq, err := codec.ReadUvarint(br)
		if err != nil {
			return Snapshot{}, false, err
		}
		offset, err := codec.ReadUvarint(br)
		if err != nil {
			return Snapshot{}, false, err
		}
		filename, err := codec.ReadString(br)
		if err != nil {
			return Snapshot{}, false, err
		}
		vc[instanceID] = VectorClockEntry{InstanceID: instanceID, Sequence: seq, Offset: int64(offset), Filename: filename}
	}
	state, err := io.ReadAll(br)
	if err != nil {
		return Snapshot{}, false, err
	}
	return Snapshot{VectorClock: vc, State: state}, true, nil
}

// SelectSnapshot lists dir for the highest-totalChanges complete
// snapshot, falling back to the next-best candidate on corruption
// (spec.md §4.4, §7). Returns (Snapshot{}, "", false, nil) if no
// usable snapshot exists yet.
func SelectSnapshot(fs fsadapter.FS, sdRoot string, kind DocKind, noteID ids.ID) (Snapshot, string, bool, error) {
	dir := path.Join(sdRoot, snapshotsDir(kind, noteID))
	entries, err := fs.ListDir(dir)
	if err != nil {
		return Snapshot{}, "", false, engineerr.IoErrorAt(dir, err)
	}

	type candidate struct {
		name string
		meta parsedSnapshotName
	}
	var candidates []candidate
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		meta, err := parseSnapshotFileName(e.Name)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: e.Name, meta: meta})
	}
	// Highest totalChanges first; ties broken lexicographically on
	// instanceID for determinism (spec.md §4.4).
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].meta.TotalChanges != candidates[j].meta.TotalChanges {
			return candidates[i].meta.TotalChanges > candidates[j].meta.TotalChanges
		}
		return candidates[i].meta.InstanceID.String() < candidates[j].meta.InstanceID.String()
	})

	for _, c := range candidates {
		data, err := fs.ReadFile(path.Join(dir, c.name))
		if err != nil {
			continue
		}
		snap, complete, err := decodeSnapshot(data)
		if err != nil || !complete {
			continue // corrupt or mid-write; fall back to the next-best candidate
		}
		snap.TotalChanges = c.meta.TotalChanges
		snap.InstanceID = c.meta.InstanceID
		return snap, c.name, true, nil
	}
	return Snapshot{}, "", false, nil
}
