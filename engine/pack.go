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

	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

// Packer implements the packing half of C10: it consolidates an
// instance's own raw log records into `.yjson` pack files, operating
// only on files this instance itself wrote (spec.md §4.10 "required
// because remote files exhibit replication lag and may appear to have
// sequence gaps that are not real" — a peer's log is never a safe
// packing target).
type Packer struct {
	fs            fsadapter.FS
	cfg           Config
	ownInstanceID ids.ID
}

func NewPacker(fs fsadapter.FS, cfg Config, ownInstanceID ids.ID) *Packer {
	return &Packer{fs: fs, cfg: cfg, ownInstanceID: ownInstanceID}
}

// maxPackedSequence returns the highest sequence already covered by an
// existing pack for ownInstanceID, or 0 if none exists.
func (p *Packer) maxPackedSequence(sdRoot string, kind DocKind, docID ids.ID) (uint64, error) {
	dir := path.Join(sdRoot, packsDir(kind, docID))
	entries, err := p.fs.ListDir(dir)
	if err != nil {
		return 0, nil // no packs directory yet is not an error
	}
	var max uint64
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		parsed, err := parsePackFileName(e.Name)
		if err != nil || !parsed.InstanceID.Equal(p.ownInstanceID) {
			continue
		}
		if parsed.EndSeq > max {
			max = parsed.EndSeq
		}
	}
	return max, nil
}

// PackDocument packs one contiguous, sufficiently-old, sufficiently-long
// run of this instance's own records for a single document, leaving the
// newest PackKeepUnpacked sequences unpacked for fast incremental sync
// (spec.md §4.10 "Packing"). It is a no-op, not an error, whenever there
// is nothing eligible yet.
func (p *Packer) PackDocument(sdRoot string, kind DocKind, docID ids.ID, nowMillis int64) error {
	logsPath := path.Join(sdRoot, logsDir(kind, docID))
	parsed, names, err := listLogFiles(p.fs, logsPath)
	if err != nil {
		return nil
	}

	var own []Record
	for i, ln := range parsed {
		if !ln.InstanceID.Equal(p.ownInstanceID) {
			continue
		}
		data, err := p.fs.ReadFile(path.Join(logsPath, names[i]))
		if err != nil {
			return engineerr.IoErrorAt(path.Join(logsPath, names[i]), err)
		}
		records, _, _ := ReadAllRecords(data)
		own = append(own, records...)
	}
	if len(own) == 0 {
		return nil
	}
	sort.Slice(own, func(i, j int) bool { return own[i].Sequence < own[j].Sequence })

	packedUpTo, err := p.maxPackedSequence(sdRoot, kind, docID)
	if err != nil {
		return err
	}

	// Only records past what's already packed are candidates, and they
	// must form a gap-free run starting right after packedUpTo (spec.md
	// §4.10 "Stop at any sequence gap").
	var run []Record
	expected := packedUpTo + 1
	for _, r := range own {
		if r.Sequence < expected {
			continue // already packed
		}
		if r.Sequence != expected {
			break // gap: stop incorporating further records this pass
		}
		run = append(run, r)
		expected++
	}

	keep := p.cfg.PackKeepUnpacked
	if len(run) <= keep {
		return nil // nothing outside the unpacked tail yet
	}
	run = run[:len(run)-keep]

	if len(run) < p.cfg.PackMinEntries {
		return nil
	}
	newest := run[len(run)-1]
	ageMillis := nowMillis - newest.TimestampMillis
	if ageMillis < p.cfg.PackMinAgeSeconds*1000 {
		return nil // the run hasn't aged past the minimum yet
	}

	startSeq := run[0].Sequence
	endSeq := run[len(run)-1].Sequence
	var body []byte
	for _, r := range run {
		body = append(body, encodeRecord(r)...)
	}

	dir := path.Join(sdRoot, packsDir(kind, docID))
	if err := p.fs.MkdirAll(dir, 0750); err != nil {
		return engineerr.IoErrorAt(dir, err)
	}
	name := packFileName(p.ownInstanceID, startSeq, endSeq)
	fullPath := path.Join(dir, name)
	if err := p.fs.WriteFileAtomic(fullPath, body, 0640); err != nil {
		return engineerr.IoErrorAt(fullPath, err)
	}
	return nil
}

// Snapshotter implements the re-snapshot half of C10: once a loaded
// document has accumulated enough updates since its last snapshot, emit
// a fresh one so cold-load never has to replay the full log/pack
// history from scratch (spec.md §4.10 "Re-snapshot").
type Snapshotter struct {
	fs         fsadapter.FS
	cfg        Config
	instanceID ids.ID
}

func NewSnapshotter(fs fsadapter.FS, cfg Config, instanceID ids.ID) *Snapshotter {
	return &Snapshotter{fs: fs, cfg: cfg, instanceID: instanceID}
}

// MaybeSnapshot emits a new snapshot for a loaded handle if it has
// accumulated at least SnapshotUpdatesTrigger updates since the last
// one. Encoding the state is the caller's CRDT concern; this just
// decides whether to do the write and clears the handle's counter on
// success.
func (sn *Snapshotter) MaybeSnapshot(store *DocumentStore, h *Handle, nowMillis int64) (bool, error) {
	e := h.entry
	e.mu.Lock()
	if e.updatesSinceSnapshot < sn.cfg.SnapshotUpdatesTrigger {
		e.mu.Unlock()
		return false, nil
	}
	snap := Snapshot{
		TotalChanges: e.totalChanges,
		InstanceID:   sn.instanceID,
		VectorClock:  e.vc.Clone(),
		State:        e.doc.EncodeState(),
	}
	sdRoot, kind, docID := e.sdRoot, e.kind, e.docID
	e.mu.Unlock()

	if _, err := WriteSnapshot(sn.fs, sdRoot, kind, docID, snap); err != nil {
		return false, err
	}

	e.mu.Lock()
	e.updatesSinceSnapshot = 0
	e.mu.Unlock()
	return true, nil
}

// GC implements spec.md §4.10's "GC" job: retaining only the newest
// few snapshots and deleting packs/logs that are both covered by the
// oldest retained snapshot's vector clock and older than the
// retention window.
type GC struct {
	fs  fsadapter.FS
	cfg Config
}

func NewGC(fs fsadapter.FS, cfg Config) *GC {
	return &GC{fs: fs, cfg: cfg}
}

// Collect runs one GC pass for a single document.
func (g *GC) Collect(sdRoot string, kind DocKind, docID ids.ID, nowMillis int64) error {
	dir := path.Join(sdRoot, snapshotsDir(kind, docID))
	entries, err := g.fs.ListDir(dir)
	if err != nil {
		return nil
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
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].meta.TotalChanges != candidates[j].meta.TotalChanges {
			return candidates[i].meta.TotalChanges > candidates[j].meta.TotalChanges
		}
		return candidates[i].meta.InstanceID.String() < candidates[j].meta.InstanceID.String()
	})

	retain := g.cfg.SnapshotRetainCount
	if retain <= 0 {
		retain = 2
	}

	// Find the oldest retained snapshot that actually loads (corrupt
	// ones don't count toward retention and are skipped, per spec.md
	// §4.10's "corrupt-snapshot recovery": fall back to the next
	// newest when deciding what's safe to cover with GC).
	var oldestRetained *Snapshot
	kept := 0
	for _, c := range candidates {
		if kept >= retain {
			break
		}
		data, err := g.fs.ReadFile(path.Join(dir, c.name))
		if err != nil {
			continue
		}
		snap, complete, err := decodeSnapshot(data)
		if err != nil || !complete {
			continue
		}
		kept++
		oldestRetained = &snap
	}

	// Delete any snapshot file beyond the retained set (complete and
	// usable or not — an unusable extra copy earns no special keep).
	if len(candidates) > retain {
		for _, c := range candidates[retain:] {
			if err := g.fs.Remove(path.Join(dir, c.name)); err != nil {
				return engineerr.IoErrorAt(path.Join(dir, c.name), err)
			}
		}
	}

	if oldestRetained == nil {
		return nil // nothing usable to measure coverage against yet
	}
	cutoff := nowMillis - g.cfg.PackRetentionSeconds*1000

	if err := g.gcPacks(sdRoot, kind, docID, oldestRetained.VectorClock, cutoff); err != nil {
		return err
	}
	return g.gcLogs(sdRoot, kind, docID, oldestRetained.VectorClock, cutoff)
}

func (g *GC) gcPacks(sdRoot string, kind DocKind, docID ids.ID, vc VectorClock, cutoffMillis int64) error {
	dir := path.Join(sdRoot, packsDir(kind, docID))
	entries, err := g.fs.ListDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		parsed, err := parsePackFileName(e.Name)
		if err != nil {
			continue
		}
		if parsed.EndSeq > vc[parsed.InstanceID].Sequence {
			continue // not fully covered by the retained snapshot yet
		}
		if e.ModTime.UnixMilli() > cutoffMillis {
			continue // covered, but still within the retention window
		}
		if err := g.fs.Remove(path.Join(dir, e.Name)); err != nil {
			return engineerr.IoErrorAt(path.Join(dir, e.Name), err)
		}
	}
	return nil
}

func (g *GC) gcLogs(sdRoot string, kind DocKind, docID ids.ID, vc VectorClock, cutoffMillis int64) error {
	dir := path.Join(sdRoot, logsDir(kind, docID))
	entries, err := g.fs.ListDir(dir)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		parsed, err := parseLogFileName(e.Name)
		if err != nil {
			continue
		}
		data, err := g.fs.ReadFile(path.Join(dir, e.Name))
		if err != nil {
			continue
		}
		records, unfinalized, _ := ReadAllRecords(data)
		if unfinalized {
			continue // still being written (or the writer's own live file); never GC it
		}
		highest := uint64(0)
		for _, r := range records {
			if r.Sequence > highest {
				highest = r.Sequence
			}
		}
		if highest > vc[parsed.InstanceID].Sequence {
			continue
		}
		if e.ModTime.UnixMilli() > cutoffMillis {
			continue
		}
		if err := g.fs.Remove(path.Join(dir, e.Name)); err != nil {
			return engineerr.IoErrorAt(path.Join(dir, e.Name), err)
		}
	}
	return nil
}
