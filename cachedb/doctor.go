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
package cachedb

import (
	"database/sql"

	"github.com/inkwell/noteengine/engineerr"
)

// DoctorReport summarizes what a Doctor pass found and removed, so the
// CLI's diagnostics command can print it without the doctor pass
// itself knowing anything about presentation.
type DoctorReport struct {
	OrphanedFolders int
	OrphanedNotes   int
	OrphanedTags    int
	UnusedTags      int
}

// Doctor runs the startup orphan-cleanup pass: rows whose owning
// storage directory has been removed are deleted, and tags left with
// no remaining note association are deleted too. It never touches
// on-disk CRDT state — everything here is cache-only, so a mistaken
// delete just gets rebuilt on the next reload.
func (d *DB) Doctor() (DoctorReport, error) {
	var report DoctorReport
	err := d.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM folders WHERE sd_id NOT IN (SELECT id FROM storage_dirs)`)
		if err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: doctor orphan folders", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			report.OrphanedFolders = int(n)
		}

		res, err = tx.Exec(`DELETE FROM notes WHERE sd_id NOT IN (SELECT id FROM storage_dirs)`)
		if err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: doctor orphan notes", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			report.OrphanedNotes = int(n)
		}

		// note_tags rows whose note no longer exists (it was just
		// deleted above, or was deleted directly at some earlier point
		// without going through SoftDeleteNote).
		res, err = tx.Exec(`DELETE FROM note_tags WHERE note_id NOT IN (SELECT id FROM notes)`)
		if err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: doctor orphan note_tags", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			report.OrphanedTags = int(n)
		}

		res, err = tx.Exec(`DELETE FROM tags WHERE id NOT IN (SELECT DISTINCT tag_id FROM note_tags)`)
		if err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: doctor unused tags", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			report.UnusedTags = int(n)
		}

		// notes_fts rows for notes that no longer exist.
		if _, err := tx.Exec(`DELETE FROM notes_fts WHERE note_id NOT IN (SELECT id FROM notes)`); err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: doctor orphan fts rows", err)
		}

		// sync-state and stale-mark rows that reference a note no longer
		// in the cache; these are safe to drop since they're keyed by
		// note ID and re-derived on reload. sequence_state, note_moves
		// and note_tombstones rows are left untouched.
		if _, err := tx.Exec(`DELETE FROM note_sync_state WHERE note_id NOT IN (SELECT id FROM notes)`); err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: doctor orphan sync state", err)
		}
		if _, err := tx.Exec(`DELETE FROM stale_notes WHERE note_id NOT IN (SELECT id FROM notes)`); err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: doctor orphan stale marks", err)
		}

		return nil
	})
	if err != nil {
		return DoctorReport{}, err
	}
	d.log.Infof("doctor pass: %d folders, %d notes, %d note_tags, %d tags removed",
		report.OrphanedFolders, report.OrphanedNotes, report.OrphanedTags, report.UnusedTags)
	return report, nil
}

// ActiveStorageDirIDs returns the IDs of every storage dir currently
// marked active, for callers reconciling the cache against the set of
// SDs actually reachable on disk.
func (d *DB) ActiveStorageDirIDs() ([]string, error) {
	rows, err := d.sql.Query(`SELECT id FROM storage_dirs WHERE is_active = 1`)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoError, "cachedb: list active storage dirs", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, engineerr.Wrap(engineerr.IoError, "cachedb: scan storage dir id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeactivateStorageDir marks an SD inactive without deleting its row —
// used when an SD goes unreachable (spec.md §4.6's "SD unavailable" is
// a transient condition, not grounds for cache deletion) rather than
// removed outright.
func (d *DB) DeactivateStorageDir(id string) error {
	if _, err := d.sql.Exec(`UPDATE storage_dirs SET is_active = 0 WHERE id = ?`, id); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: deactivate storage dir", err)
	}
	return nil
}

// RemoveStorageDir deletes an SD's row outright, letting Doctor's next
// pass cascade the cleanup of everything that referenced it. Use this
// only when the SD has genuinely been removed from the profile, not
// merely gone offline.
func (d *DB) RemoveStorageDir(id string) error {
	if _, err := d.sql.Exec(`DELETE FROM storage_dirs WHERE id = ?`, id); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: remove storage dir", err)
	}
	return nil
}
