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

// Package diagnostics assembles the health reports spec.md §7 calls
// for: cache rows that no longer correspond to anything on disk,
// notes that appear to exist in more than one storage directory,
// vector clock entries pointing at a log that was never actually
// written, activity/move state that's gone stale, and a migration
// lock left behind by a crashed schema upgrade. Every report is a
// plain value the CLI renders or acts on. Three paths delete things:
// Run's orphan pass (cachedb.DB.Doctor) deletes orphaned cache rows,
// CleanupOrphanActivityLogs removes expired activity log files, and
// ClearStaleMigrationLock removes the migration lock row.
package diagnostics

import (
	"path"

	"github.com/inkwell/noteengine/cachedb"
	"github.com/inkwell/noteengine/engine"
	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

// MissingLogRef names one vector clock entry whose log file could not
// be found on disk for the note it belongs to.
type MissingLogRef struct {
	NoteID     ids.ID
	InstanceID ids.ID
	Sequence   uint64
}

// StaleNoteRef names one note still carrying a staleness mark.
type StaleNoteRef struct {
	NoteID     ids.ID
	InstanceID ids.ID
}

// StuckMove names one cross-SD move whose owner hasn't advanced it
// past MoveOwnerStaleSeconds (spec.md §4.11's takeover trigger).
type StuckMove struct {
	MoveID          ids.ID
	NoteID          ids.ID
	State           engine.MoveState
	OwnerInstanceID ids.ID
	IdleSeconds     int64
}

// DuplicateNote names a note ID whose on-disk document root exists
// under more than one storage directory (spec.md §7 "Duplicate note
// across SDs" — requires manual resolution, diagnostics only surfaces
// it).
type DuplicateNote struct {
	NoteID ids.ID
	SDRoots []string
}

// Report aggregates every check a single diagnostics pass runs.
type Report struct {
	Orphans             cachedb.DoctorReport
	MissingLogs         []MissingLogRef
	StaleNotes          []StaleNoteRef
	StuckMoves          []StuckMove
	DuplicateNotes      []DuplicateNote
	MigrationLockAgeSec int64
	MigrationLockStale  bool
}

// migrationLockStaleThresholdSeconds is spec.md §7's "older than 1h"
// cutoff for treating a migration lock as abandoned.
const migrationLockStaleThresholdSeconds = 3600

// Runner drives one diagnostics pass over a single profile: its cache
// database, its document store (for log-existence checks), and the
// filesystem adapter it's all built on.
type Runner struct {
	db   *cachedb.DB
	docs *engine.DocumentStore
	fs   fsadapter.FS
	cfg  engine.Config
}

// NewRunner builds a Runner over the given profile's components.
func NewRunner(db *cachedb.DB, docs *engine.DocumentStore, fs fsadapter.FS, cfg engine.Config) *Runner {
	return &Runner{db: db, docs: docs, fs: fs, cfg: cfg}
}

// Run executes every check and returns the aggregated report. sdRoots
// maps each active storage directory's ID to its filesystem root, the
// same mapping a caller already holds from whatever mounted the SDs.
func (r *Runner) Run(sdRoots map[ids.ID]string, nowMillis int64) (Report, error) {
	var report Report

	orphans, err := r.db.Doctor()
	if err != nil {
		return Report{}, err
	}
	report.Orphans = orphans

	missing, err := r.findMissingLogs(sdRoots)
	if err != nil {
		return Report{}, err
	}
	report.MissingLogs = missing

	stale, err := r.findStaleNotes()
	if err != nil {
		return Report{}, err
	}
	report.StaleNotes = stale

	stuck, err := r.findStuckMoves(nowMillis)
	if err != nil {
		return Report{}, err
	}
	report.StuckMoves = stuck

	dup, err := r.findDuplicateNotes(sdRoots)
	if err != nil {
		return Report{}, err
	}
	report.DuplicateNotes = dup

	age, present, err := r.db.MigrationLockAge(nowMillis)
	if err != nil {
		return Report{}, err
	}
	report.MigrationLockAgeSec = age
	report.MigrationLockStale = present && age >= migrationLockStaleThresholdSeconds

	return report, nil
}

// ClearStaleMigrationLock removes a migration_lock row that Run
// flagged as stale. Callers should only invoke this after confirming
// no other process is mid-migration.
func (r *Runner) ClearStaleMigrationLock() error {
	return r.db.ClearMigrationLock()
}

func (r *Runner) findMissingLogs(sdRoots map[ids.ID]string) ([]MissingLogRef, error) {
	var out []MissingLogRef
	for sdID, sdRoot := range sdRoots {
		notes, err := r.db.ListAllNotes(sdID)
		if err != nil {
			return nil, err
		}
		for _, n := range notes {
			state, ok, err := r.db.LoadDocSyncState(sdID, n.ID, engine.DocNote)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			for _, entry := range state.VectorClock {
				exists, err := r.docs.CheckLogExists(sdRoot, engine.DocNote, n.ID, entry.InstanceID, entry.Sequence)
				if err != nil {
					return nil, err
				}
				if !exists {
					out = append(out, MissingLogRef{NoteID: n.ID, InstanceID: entry.InstanceID, Sequence: entry.Sequence})
				}
			}
		}
	}
	return out, nil
}

func (r *Runner) findStaleNotes() ([]StaleNoteRef, error) {
	rows, err := r.db.ListStaleNotes()
	if err != nil {
		return nil, err
	}
	out := make([]StaleNoteRef, len(rows))
	for i, row := range rows {
		out[i] = StaleNoteRef{NoteID: row.NoteID, InstanceID: row.InstanceID}
	}
	return out, nil
}

func (r *Runner) findStuckMoves(nowMillis int64) ([]StuckMove, error) {
	moves, err := r.db.ListMoves()
	if err != nil {
		return nil, err
	}
	var out []StuckMove
	thresholdMillis := r.cfg.MoveOwnerStaleSeconds * 1000
	for _, m := range moves {
		idle := nowMillis - m.UpdatedAtMillis
		if idle < thresholdMillis {
			continue
		}
		out = append(out, StuckMove{
			MoveID:          m.MoveID,
			NoteID:          m.NoteID,
			State:           m.State,
			OwnerInstanceID: m.OwnerInstanceID,
			IdleSeconds:     idle / 1000,
		})
	}
	return out, nil
}

// findDuplicateNotes scans each SD's notes/ directory for document
// roots and reports any note ID present under more than one SD —
// the on-disk signal of a move that copied files but never cleaned up
// its source (spec.md §7's "Duplicate note across SDs").
func (r *Runner) findDuplicateNotes(sdRoots map[ids.ID]string) ([]DuplicateNote, error) {
	locations := make(map[ids.ID][]string)
	for _, sdRoot := range sdRoots {
		entries, err := r.fs.ListDir(path.Join(sdRoot, "notes"))
		if err != nil {
			continue // no notes directory yet is not an error
		}
		for _, e := range entries {
			if !e.IsDir {
				continue
			}
			noteID, err := ids.Parse(e.Name)
			if err != nil {
				continue
			}
			locations[noteID] = append(locations[noteID], sdRoot)
		}
	}
	var out []DuplicateNote
	for noteID, roots := range locations {
		if len(roots) > 1 {
			out = append(out, DuplicateNote{NoteID: noteID, SDRoots: roots})
		}
	}
	return out, nil
}

// CleanupOrphanActivityLogs drives engine's own orphan-activity-log
// sweep (engine/activitysync.go's CleanupOrphanLogs) for one SD and
// reports how many files were removed, by diffing the activity
// directory's listing before and after.
func CleanupOrphanActivityLogs(sync *engine.ActivitySync, fs fsadapter.FS, sdRoot string, nowMillis int64) (removed int, err error) {
	dir := path.Join(sdRoot, "activity")
	before, _ := fs.ListDir(dir)
	if err := sync.CleanupOrphanLogs(sdRoot, nowMillis); err != nil {
		return 0, engineerr.Wrap(engineerr.IoError, "diagnostics: cleanup orphan activity logs", err)
	}
	after, _ := fs.ListDir(dir)
	return len(before) - len(after), nil
}
