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
	"time"

	"github.com/inkwell/noteengine/engine"
	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/ids"
)

var (
	_ engine.ActivityOffsetStore = (*DB)(nil)
	_ engine.StaleStore          = (*DB)(nil)
	_ engine.DeletionStore       = (*DB)(nil)
)

// LoadActivityOffset implements engine.ActivityOffsetStore against
// activity_log_state (spec.md §4.12). logFileName doubles as the
// table's foreign_log_key, including Deletion Sync's "deleted/"
// prefix convention so the two feeds never collide in one table.
func (d *DB) LoadActivityOffset(sdID ids.ID, logFileName string) (int64, bool, error) {
	var offset int64
	err := d.sql.QueryRow(`SELECT last_offset FROM activity_log_state WHERE sd_id = ? AND foreign_log_key = ?`,
		sdID.String(), logFileName).Scan(&offset)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, engineerr.Wrap(engineerr.IoError, "cachedb: load activity offset", err)
	}
	return offset, true, nil
}

// SaveActivityOffset implements engine.ActivityOffsetStore.
func (d *DB) SaveActivityOffset(sdID ids.ID, logFileName string, offset int64) error {
	_, err := d.sql.Exec(`INSERT INTO activity_log_state (sd_id, foreign_log_key, last_offset, log_file)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (sd_id, foreign_log_key) DO UPDATE SET last_offset = excluded.last_offset, log_file = excluded.log_file`,
		sdID.String(), logFileName, offset, logFileName)
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: save activity offset", err)
	}
	return nil
}

// MarkStale implements engine.StaleStore against the stale_notes
// table: a note's gap against a specific foreign instance couldn't be
// resolved from what's on disk (spec.md §4.8).
func (d *DB) MarkStale(docID, instanceID ids.ID) error {
	_, err := d.sql.Exec(`INSERT INTO stale_notes (note_id, instance_id, marked_at)
		VALUES (?, ?, ?)
		ON CONFLICT (note_id) DO UPDATE SET instance_id = excluded.instance_id, marked_at = excluded.marked_at`,
		docID.String(), instanceID.String(), time.Now().UnixMilli())
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: mark stale", err)
	}
	return nil
}

// ClearStaleForNote implements engine.StaleStore: once a reload
// catches the note back up, the stale mark no longer applies.
func (d *DB) ClearStaleForNote(docID ids.ID) error {
	if _, err := d.sql.Exec(`DELETE FROM stale_notes WHERE note_id = ?`, docID.String()); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: clear stale", err)
	}
	return nil
}

// StaleNote names one note still carrying a staleness mark, for a
// diagnostics pass to surface (spec.md §4.8).
type StaleNote struct {
	NoteID     ids.ID
	InstanceID ids.ID
}

// ListStaleNotes returns every row in stale_notes.
func (d *DB) ListStaleNotes() ([]StaleNote, error) {
	rows, err := d.sql.Query(`SELECT note_id, instance_id FROM stale_notes`)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoError, "cachedb: list stale notes", err)
	}
	defer rows.Close()
	var out []StaleNote
	for rows.Next() {
		var noteIDStr, instanceIDStr string
		if err := rows.Scan(&noteIDStr, &instanceIDStr); err != nil {
			return nil, engineerr.Wrap(engineerr.IoError, "cachedb: scan stale note row", err)
		}
		noteID, err := ids.Parse(noteIDStr)
		if err != nil {
			return nil, engineerr.CorruptAt("stale_notes.note_id", err.Error())
		}
		instanceID, err := ids.Parse(instanceIDStr)
		if err != nil {
			return nil, engineerr.CorruptAt("stale_notes.instance_id", err.Error())
		}
		out = append(out, StaleNote{NoteID: noteID, InstanceID: instanceID})
	}
	return out, rows.Err()
}

// MarkDeleted implements engine.DeletionStore against note_tombstones
// (spec.md §4.9): a foreign instance's tombstone line has been
// observed for this note.
func (d *DB) MarkDeleted(docID ids.ID, nowMillis int64) error {
	_, err := d.sql.Exec(`INSERT INTO note_tombstones (note_id, deleted_at)
		VALUES (?, ?)
		ON CONFLICT (note_id) DO UPDATE SET deleted_at = excluded.deleted_at`,
		docID.String(), nowMillis)
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: mark deleted", err)
	}
	// A deleted note shouldn't also carry a stale mark forward.
	if _, err := d.sql.Exec(`DELETE FROM stale_notes WHERE note_id = ?`, docID.String()); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: clear stale on delete", err)
	}
	// Mirror the tombstone into notes.deleted_at so ordinary note
	// listing queries don't need to join note_tombstones too.
	if _, err := d.sql.Exec(`UPDATE notes SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		nowMillis, docID.String()); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: apply tombstone to notes", err)
	}
	return nil
}
