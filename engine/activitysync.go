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
	"strings"

	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

// ActivityOffsetStore persists the per-foreign-log byte watermark so a
// restarted instance resumes scanning where it left off instead of
// re-parsing every foreign activity log from byte zero (spec.md §4.8
// "Watermarks").
type ActivityOffsetStore interface {
	LoadActivityOffset(sdID ids.ID, logFileName string) (int64, bool, error)
	SaveActivityOffset(sdID ids.ID, logFileName string, offset int64) error
}

// StaleStore records and clears per-(document, instance) staleness
// flags for the UI layer (spec.md §4.8 "mark stale" / "Clearing
// stale"). A nil store means staleness is tracked in memory only.
type StaleStore interface {
	MarkStale(docID, instanceID ids.ID) error
	ClearStaleForNote(docID ids.ID) error
}

// ActivitySync is the Activity Sync job (C8): it discovers changes
// made by other instances by tailing every *other* instance's activity
// feed, distinguishing genuine staleness from ordinary replication lag
// via DocumentStore.CheckLogExists, and queues affected documents for
// reload.
type ActivitySync struct {
	fs      fsadapter.FS
	cfg     Config
	docs    *DocumentStore
	offsets ActivityOffsetStore
	stale   StaleStore

	ownProfileID  ids.ID
	ownInstanceID ids.ID
}

func NewActivitySync(fs fsadapter.FS, cfg Config, docs *DocumentStore, offsets ActivityOffsetStore, stale StaleStore, ownProfileID, ownInstanceID ids.ID) *ActivitySync {
	return &ActivitySync{
		fs:            fs,
		cfg:           cfg,
		docs:          docs,
		offsets:       offsets,
		stale:         stale,
		ownProfileID:  ownProfileID,
		ownInstanceID: ownInstanceID,
	}
}

// foreignActivityFile decomposes "activity/{profileId}_{instanceId}.log".
type foreignActivityFile struct {
	ProfileID  ids.ID
	InstanceID ids.ID
	Name       string
}

func parseActivityFileName(name string) (foreignActivityFile, bool) {
	base := strings.TrimSuffix(name, ".log")
	if base == name {
		return foreignActivityFile{}, false
	}
	underscore := strings.IndexByte(base, '_')
	if underscore < 0 {
		return foreignActivityFile{}, false
	}
	profileID, err := ids.Parse(base[:underscore])
	if err != nil {
		return foreignActivityFile{}, false
	}
	instanceID, err := ids.Parse(base[underscore+1:])
	if err != nil {
		return foreignActivityFile{}, false
	}
	return foreignActivityFile{ProfileID: profileID, InstanceID: instanceID, Name: name}, true
}

// Poll runs one pass over every foreign activity log in sdRoot/activity
// (spec.md §4.8's polling loop). It is safe to call on a fixed interval
// (the default being 5s, Config.PollInterval) and/or in response to a
// filesystem watcher event.
func (a *ActivitySync) Poll(sdID ids.ID, sdRoot string) error {
	dir := path.Join(sdRoot, "activity")
	entries, err := a.fs.ListDir(dir)
	if err != nil {
		return nil // no activity directory yet
	}

	for _, e := range entries {
		if e.IsDir {
			continue
		}
		f, ok := parseActivityFileName(e.Name)
		if !ok {
			continue
		}
		if f.InstanceID.Equal(a.ownInstanceID) {
			continue // never watch our own feed
		}
		if err := a.pollOne(sdID, sdRoot, f); err != nil {
			return err
		}
	}
	return nil
}

func (a *ActivitySync) pollOne(sdID ids.ID, sdRoot string, f foreignActivityFile) error {
	p := path.Join(sdRoot, "activity", f.Name)
	data, err := a.fs.ReadFile(p)
	if err != nil {
		return engineerr.IoErrorAt(p, err)
	}

	offset := int64(0)
	if a.offsets != nil {
		if o, found, err := a.offsets.LoadActivityOffset(sdID, f.Name); err == nil && found {
			offset = o
		}
	}
	if offset > int64(len(data)) {
		offset = 0 // file shrank (rotation); restart from the top
	}

	fresh := data[offset:]
	entries := ParseActivityLog(fresh)
	if len(entries) == 0 {
		return nil
	}

	// Highest sequence per note in this batch: the gap-staleness check
	// only needs to probe the latest entry per note (spec.md §4.8 "Gap
	// semantics" — if the latest is present, everything earlier for
	// this instance is too).
	highest := make(map[ids.ID]uint64)
	for _, e := range entries {
		if e.Sequence > highest[e.DocumentID] {
			highest[e.DocumentID] = e.Sequence
		}
	}

	touched := make(map[ids.ID]bool)
	for docID, seq := range highest {
		kind := docKindFor(docID)
		localSeq := uint64(0)
		if vc, ok := a.docs.Peek(sdID, kind, docID); ok {
			localSeq = vc[f.InstanceID].Sequence
		}
		if seq <= localSeq {
			continue
		}

		gap := seq - localSeq
		if gap > uint64(a.cfg.StaleGapThreshold) {
			exists, err := a.docs.CheckLogExists(sdRoot, kind, docID, f.InstanceID, seq)
			if err != nil {
				return err
			}
			if !exists {
				if a.stale != nil {
					_ = a.stale.MarkStale(docID, f.InstanceID)
				}
				continue // don't reload yet: the data genuinely isn't here
			}
		}
		touched[docID] = true
	}

	for docID := range touched {
		kind := docKindFor(docID)
		if err := a.docs.ReloadIfLoaded(sdID, kind, docID); err != nil {
			return err
		}
		if a.stale != nil {
			_ = a.stale.ClearStaleForNote(docID)
		}
	}

	if a.offsets != nil {
		if err := a.offsets.SaveActivityOffset(sdID, f.Name, int64(len(data))); err != nil {
			return err
		}
	}
	return nil
}

// CleanupOrphanLogs removes foreign activity logs that haven't been
// touched in OrphanActivityRetentionSeconds (default 7 days), per
// spec.md §4.8 "Orphan cleanup". nowMillis is the caller's clock.
func (a *ActivitySync) CleanupOrphanLogs(sdRoot string, nowMillis int64) error {
	dir := path.Join(sdRoot, "activity")
	entries, err := a.fs.ListDir(dir)
	if err != nil {
		return nil
	}
	cutoff := nowMillis - a.cfg.OrphanActivityRetentionSeconds*1000
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		f, ok := parseActivityFileName(e.Name)
		if !ok {
			continue
		}
		if f.InstanceID.Equal(a.ownInstanceID) {
			continue
		}
		if e.ModTime.UnixMilli() < cutoff {
			if err := a.fs.Remove(path.Join(dir, e.Name)); err != nil {
				return engineerr.IoErrorAt(path.Join(dir, e.Name), err)
			}
		}
	}
	return nil
}
