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
	"encoding/json"
	"time"

	"github.com/inkwell/noteengine/engine"
	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/ids"
)

var _ engine.DocSyncStore = (*DB)(nil)

// vectorClockRow is the JSON shape stored in note_sync_state.vector_clock
// / folder_sync_state.vector_clock (spec.md §4.12 "vector_clock JSON").
// engine.VectorClock is a map keyed by ids.ID, which encoding/json can't
// marshal directly (Go only lets string-kinded types be map keys for
// JSON), hence the slice-of-entries wire shape.
type vectorClockRow []engine.VectorClockEntry

func encodeVectorClock(vc engine.VectorClock) ([]byte, error) {
	rows := make(vectorClockRow, 0, len(vc))
	for _, e := range vc {
		rows = append(rows, e)
	}
	return json.Marshal(rows)
}

func decodeVectorClock(data []byte) (engine.VectorClock, error) {
	if len(data) == 0 {
		return engine.VectorClock{}, nil
	}
	var rows vectorClockRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	vc := make(engine.VectorClock, len(rows))
	for _, e := range rows {
		vc[e.InstanceID] = e
	}
	return vc, nil
}

// LoadDocSyncState implements engine.DocSyncStore, reading from
// note_sync_state for a note document or folder_sync_state for the
// per-SD folder tree.
func (d *DB) LoadDocSyncState(sdID, docID ids.ID, kind engine.DocKind) (engine.DocSyncState, bool, error) {
	var vcJSON []byte
	var totalChanges uint64
	var row *sql.Row
	if kind == engine.DocFolderTree {
		row = d.sql.QueryRow(`SELECT vector_clock FROM folder_sync_state WHERE sd_id = ?`, sdID.String())
	} else {
		row = d.sql.QueryRow(`SELECT vector_clock FROM note_sync_state WHERE note_id = ? AND sd_id = ?`, docID.String(), sdID.String())
	}
	if err := row.Scan(&vcJSON); err != nil {
		if err == sql.ErrNoRows {
			return engine.DocSyncState{}, false, nil
		}
		return engine.DocSyncState{}, false, engineerr.Wrap(engineerr.IoError, "cachedb: load doc sync state", err)
	}
	vc, err := decodeVectorClock(vcJSON)
	if err != nil {
		return engine.DocSyncState{}, false, engineerr.CorruptAt("note_sync_state.vector_clock", err.Error())
	}
	for _, e := range vc {
		totalChanges += e.Sequence
	}
	return engine.DocSyncState{TotalChanges: totalChanges, VectorClock: vc}, true, nil
}

// SaveDocSyncState implements engine.DocSyncStore. The caller (C6's
// DocumentStore) is the only writer and already serializes its own
// calls per document, so a plain upsert is safe without an
// application-level lock here.
func (d *DB) SaveDocSyncState(sdID, docID ids.ID, kind engine.DocKind, state engine.DocSyncState) error {
	vcJSON, err := encodeVectorClock(state.VectorClock)
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: encode vector clock", err)
	}
	now := time.Now().UnixMilli()
	if kind == engine.DocFolderTree {
		_, err = d.sql.Exec(`INSERT INTO folder_sync_state (sd_id, vector_clock, document_state, updated_at)
			VALUES (?, ?, NULL, ?)
			ON CONFLICT (sd_id) DO UPDATE SET vector_clock = excluded.vector_clock, updated_at = excluded.updated_at`,
			sdID.String(), vcJSON, now)
	} else {
		_, err = d.sql.Exec(`INSERT INTO note_sync_state (note_id, sd_id, vector_clock, document_state, updated_at)
			VALUES (?, ?, ?, NULL, ?)
			ON CONFLICT (note_id) DO UPDATE SET sd_id = excluded.sd_id, vector_clock = excluded.vector_clock, updated_at = excluded.updated_at`,
			docID.String(), sdID.String(), vcJSON, now)
	}
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: save doc sync state", err)
	}
	return nil
}
