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

	"github.com/inkwell/noteengine/engine"
	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/ids"
)

var _ engine.MoveStore = (*DB)(nil)

func scanMoveRow(row interface {
	Scan(dest ...any) error
}) (engine.MoveRecord, error) {
	var rec engine.MoveRecord
	var moveID, noteID, srcSD, dstSD, owner, state string
	if err := row.Scan(&moveID, &noteID, &srcSD, &dstSD, &state, &owner, &rec.UpdatedAtMillis); err != nil {
		return engine.MoveRecord{}, err
	}
	var err error
	if rec.MoveID, err = ids.Parse(moveID); err != nil {
		return engine.MoveRecord{}, err
	}
	if rec.NoteID, err = ids.Parse(noteID); err != nil {
		return engine.MoveRecord{}, err
	}
	if rec.SrcSDID, err = ids.Parse(srcSD); err != nil {
		return engine.MoveRecord{}, err
	}
	if rec.DstSDID, err = ids.Parse(dstSD); err != nil {
		return engine.MoveRecord{}, err
	}
	if rec.OwnerInstanceID, err = ids.Parse(owner); err != nil {
		return engine.MoveRecord{}, err
	}
	rec.State = engine.MoveState(state)
	return rec, nil
}

const moveColumns = `move_id, note_id, src_sd_id, dst_sd_id, state, owner_instance_id, updated_at`

// CreateMove implements engine.MoveStore's INSERT-or-defer contract
// (spec.md §4.11 "concurrent moves of the same note"): note_moves has
// a UNIQUE index on note_id, so a second initiator's insert attempt
// loses the race to whichever row is already there.
func (d *DB) CreateMove(rec engine.MoveRecord) (engine.MoveRecord, bool, error) {
	var created bool
	var result engine.MoveRecord
	err := d.withTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`SELECT `+moveColumns+` FROM note_moves WHERE note_id = ?`, rec.NoteID.String())
		existing, err := scanMoveRow(row)
		if err == nil {
			result = existing
			created = false
			return nil
		}
		if err != sql.ErrNoRows {
			return engineerr.Wrap(engineerr.IoError, "cachedb: check existing move", err)
		}
		_, err = tx.Exec(`INSERT INTO note_moves (`+moveColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.MoveID.String(), rec.NoteID.String(), rec.SrcSDID.String(), rec.DstSDID.String(),
			string(rec.State), rec.OwnerInstanceID.String(), rec.UpdatedAtMillis)
		if err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: insert move", err)
		}
		result = rec
		created = true
		return nil
	})
	if err != nil {
		return engine.MoveRecord{}, false, err
	}
	return result, created, nil
}

// LoadMoveByNote implements engine.MoveStore.
func (d *DB) LoadMoveByNote(noteID ids.ID) (engine.MoveRecord, bool, error) {
	row := d.sql.QueryRow(`SELECT `+moveColumns+` FROM note_moves WHERE note_id = ?`, noteID.String())
	rec, err := scanMoveRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return engine.MoveRecord{}, false, nil
		}
		return engine.MoveRecord{}, false, engineerr.Wrap(engineerr.IoError, "cachedb: load move by note", err)
	}
	return rec, true, nil
}

// LoadMove implements engine.MoveStore.
func (d *DB) LoadMove(moveID ids.ID) (engine.MoveRecord, bool, error) {
	row := d.sql.QueryRow(`SELECT `+moveColumns+` FROM note_moves WHERE move_id = ?`, moveID.String())
	rec, err := scanMoveRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return engine.MoveRecord{}, false, nil
		}
		return engine.MoveRecord{}, false, engineerr.Wrap(engineerr.IoError, "cachedb: load move", err)
	}
	return rec, true, nil
}

// UpdateMoveState implements engine.MoveStore.
func (d *DB) UpdateMoveState(moveID ids.ID, state engine.MoveState, nowMillis int64) error {
	_, err := d.sql.Exec(`UPDATE note_moves SET state = ?, updated_at = ? WHERE move_id = ?`,
		string(state), nowMillis, moveID.String())
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: update move state", err)
	}
	return nil
}

// TakeOverMove implements engine.MoveStore's conditional ownership
// swap (spec.md §4.11 "Takeover protocol"): the UPDATE only matches a
// row still owned by priorOwner, the same "WHERE owner = ? affecting
// zero rows means someone else already took it" shape a
// compare-and-swap gives for free in SQL.
func (d *DB) TakeOverMove(moveID ids.ID, newOwner, priorOwner ids.ID, nowMillis int64) (bool, error) {
	res, err := d.sql.Exec(`UPDATE note_moves SET owner_instance_id = ?, updated_at = ?
		WHERE move_id = ? AND owner_instance_id = ?`,
		newOwner.String(), nowMillis, moveID.String(), priorOwner.String())
	if err != nil {
		return false, engineerr.Wrap(engineerr.IoError, "cachedb: take over move", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, engineerr.Wrap(engineerr.IoError, "cachedb: take over move rows affected", err)
	}
	return n > 0, nil
}

// DeleteMove implements engine.MoveStore.
func (d *DB) DeleteMove(moveID ids.ID) error {
	if _, err := d.sql.Exec(`DELETE FROM note_moves WHERE move_id = ?`, moveID.String()); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: delete move", err)
	}
	return nil
}

// ListMoves returns every in-flight move record, for a diagnostics
// pass checking each one's owner against the stale-takeover threshold
// (spec.md §4.11).
func (d *DB) ListMoves() ([]engine.MoveRecord, error) {
	rows, err := d.sql.Query(`SELECT ` + moveColumns + ` FROM note_moves`)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoError, "cachedb: list moves", err)
	}
	defer rows.Close()
	var out []engine.MoveRecord
	for rows.Next() {
		rec, err := scanMoveRow(rows)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.IoError, "cachedb: scan move row", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RebindNoteSD implements engine.MoveStore: the db_updated step's
// atomic cache flip (spec.md §4.11). Folder binding is left alone
// deliberately — a note's folder_id is a CRDT-resolved value in the
// folder tree document, not something the move state machine owns;
// only the SD it physically lives in changes here.
func (d *DB) RebindNoteSD(noteID, dstSDID ids.ID) error {
	if _, err := d.sql.Exec(`UPDATE notes SET sd_id = ? WHERE id = ?`, dstSDID.String(), noteID.String()); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: rebind note sd", err)
	}
	if _, err := d.sql.Exec(`UPDATE note_sync_state SET sd_id = ? WHERE note_id = ?`, dstSDID.String(), noteID.String()); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: rebind note sync state sd", err)
	}
	return nil
}
