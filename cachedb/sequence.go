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
)

var _ engine.SequenceStore = (*DB)(nil)

// LoadSequenceState implements engine.SequenceStore against the
// sequence_state table (spec.md §4.12).
func (d *DB) LoadSequenceState(key engine.SequenceKey) (engine.SequenceState, bool, error) {
	var st engine.SequenceState
	row := d.sql.QueryRow(`SELECT current_sequence, current_file, current_offset
		FROM sequence_state WHERE sd_id = ? AND document_id = ? AND instance_id = ?`,
		key.SDID.String(), key.DocumentID.String(), key.InstanceID.String())
	if err := row.Scan(&st.CurrentSequence, &st.CurrentFile, &st.CurrentOffset); err != nil {
		if err == sql.ErrNoRows {
			return engine.SequenceState{}, false, nil
		}
		return engine.SequenceState{}, false, engineerr.Wrap(engineerr.IoError, "cachedb: load sequence state", err)
	}
	return st, true, nil
}

// SaveSequenceState implements engine.SequenceStore.
func (d *DB) SaveSequenceState(key engine.SequenceKey, state engine.SequenceState) error {
	_, err := d.sql.Exec(`INSERT INTO sequence_state
		(sd_id, document_id, instance_id, current_sequence, current_file, current_offset)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (sd_id, document_id, instance_id) DO UPDATE SET
			current_sequence = excluded.current_sequence,
			current_file = excluded.current_file,
			current_offset = excluded.current_offset`,
		key.SDID.String(), key.DocumentID.String(), key.InstanceID.String(),
		state.CurrentSequence, state.CurrentFile, state.CurrentOffset)
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: save sequence state", err)
	}
	return nil
}
