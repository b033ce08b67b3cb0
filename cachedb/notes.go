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
	"github.com/inkwell/noteengine/ids"
)

// Note is the cache's denormalized view of a note, kept in sync with
// the authoritative CRDT document by whatever layer re-derives title
// and folder membership from it (spec.md §4.12).
type Note struct {
	ID         ids.ID
	SDID       ids.ID
	FolderID   ids.ID // ids.Zero if unfiled
	Title      string
	CreatedAt  int64
	ModifiedAt int64
	DeletedAt  int64 // 0 if not deleted
	Pinned     bool
}

// Folder mirrors one node of an SD's folder tree.
type Folder struct {
	ID       ids.ID
	SDID     ids.ID
	ParentID ids.ID // ids.Zero at the tree root
	Name     string
	OrderKey string
}

func nullableID(id ids.ID) any {
	if id.IsZero() {
		return nil
	}
	return id.String()
}

func idOrZero(s sql.NullString) (ids.ID, error) {
	if !s.Valid {
		return ids.Zero, nil
	}
	return ids.Parse(s.String)
}

// UpsertStorageDir registers (or updates) one entry in storage_dirs.
func (d *DB) UpsertStorageDir(id ids.ID, name, path string, createdAt int64, isActive bool) error {
	_, err := d.sql.Exec(`INSERT INTO storage_dirs (id, name, path, created_at, is_active) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, path = excluded.path, is_active = excluded.is_active`,
		id.String(), name, path, createdAt, boolToInt(isActive))
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: upsert storage dir", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertNote inserts or replaces a note's denormalized row and
// refreshes its FTS entry in the same call — the cache is always
// derived, so there's no reason to let the index drift from the row
// that feeds it.
func (d *DB) UpsertNote(n Note, bodyText string) error {
	return d.withTx(func(tx *sql.Tx) error {
		var deletedAt any
		if n.DeletedAt != 0 {
			deletedAt = n.DeletedAt
		}
		_, err := tx.Exec(`INSERT INTO notes (id, sd_id, folder_id, title, created_at, modified_at, deleted_at, pinned)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				sd_id = excluded.sd_id, folder_id = excluded.folder_id, title = excluded.title,
				modified_at = excluded.modified_at, deleted_at = excluded.deleted_at, pinned = excluded.pinned`,
			n.ID.String(), n.SDID.String(), nullableID(n.FolderID), n.Title, n.CreatedAt, n.ModifiedAt, deletedAt, boolToInt(n.Pinned))
		if err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: upsert note", err)
		}
		if _, err := tx.Exec(`DELETE FROM notes_fts WHERE note_id = ?`, n.ID.String()); err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: clear fts row", err)
		}
		if _, err := tx.Exec(`INSERT INTO notes_fts (note_id, title, body) VALUES (?, ?, ?)`,
			n.ID.String(), n.Title, bodyText); err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: insert fts row", err)
		}
		return nil
	})
}

// GetNoteBody returns the plain-text body cached in notes_fts for a
// note, i.e. the bodyText last passed to UpsertNote — a convenience
// for callers that want to display a note without loading its live
// document handle. A note with no cached row yields "".
func (d *DB) GetNoteBody(noteID ids.ID) (string, error) {
	var body string
	err := d.sql.QueryRow(`SELECT body FROM notes_fts WHERE note_id = ?`, noteID.String()).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", engineerr.Wrap(engineerr.IoError, "cachedb: get note body", err)
	}
	return body, nil
}

// SetPinned updates a note's pinned flag without touching anything
// else (spec.md §4.12's notes.pinned column).
func (d *DB) SetPinned(noteID ids.ID, pinned bool) error {
	if _, err := d.sql.Exec(`UPDATE notes SET pinned = ? WHERE id = ?`, boolToInt(pinned), noteID.String()); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: set pinned", err)
	}
	return nil
}

// SoftDeleteNote marks a note deleted without removing its row —
// the authoritative tombstone lives in the on-disk deletion feed
// (C9); this just mirrors it for listing queries (spec.md §4.12).
func (d *DB) SoftDeleteNote(noteID ids.ID, deletedAt int64) error {
	if _, err := d.sql.Exec(`UPDATE notes SET deleted_at = ? WHERE id = ?`, deletedAt, noteID.String()); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: soft delete note", err)
	}
	return nil
}

func scanNote(row interface{ Scan(dest ...any) error }) (Note, error) {
	var n Note
	var id, sdID, title string
	var folderID sql.NullString
	var deletedAt sql.NullInt64
	var pinned int
	if err := row.Scan(&id, &sdID, &folderID, &title, &n.CreatedAt, &n.ModifiedAt, &deletedAt, &pinned); err != nil {
		return Note{}, err
	}
	var err error
	if n.ID, err = ids.Parse(id); err != nil {
		return Note{}, err
	}
	if n.SDID, err = ids.Parse(sdID); err != nil {
		return Note{}, err
	}
	if n.FolderID, err = idOrZero(folderID); err != nil {
		return Note{}, err
	}
	n.Title = title
	if deletedAt.Valid {
		n.DeletedAt = deletedAt.Int64
	}
	n.Pinned = pinned != 0
	return n, nil
}

const noteColumns = `id, sd_id, folder_id, title, created_at, modified_at, deleted_at, pinned`

// ListNotesInFolder returns every non-deleted note directly inside
// folderID (ids.Zero for "unfiled"), newest-modified first.
func (d *DB) ListNotesInFolder(sdID, folderID ids.ID) ([]Note, error) {
	rows, err := d.sql.Query(`SELECT `+noteColumns+` FROM notes
		WHERE sd_id = ? AND folder_id IS ? AND deleted_at IS NULL
		ORDER BY modified_at DESC`, sdID.String(), nullableID(folderID))
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoError, "cachedb: list notes in folder", err)
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.IoError, "cachedb: scan note", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListAllNotes returns every non-deleted note in sdID regardless of
// folder — the backing query for the "all notes" virtual folder
// (SPEC_FULL.md's supplemented virtual-folders feature).
func (d *DB) ListAllNotes(sdID ids.ID) ([]Note, error) {
	rows, err := d.sql.Query(`SELECT `+noteColumns+` FROM notes
		WHERE sd_id = ? AND deleted_at IS NULL
		ORDER BY modified_at DESC`, sdID.String())
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoError, "cachedb: list all notes", err)
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.IoError, "cachedb: scan note", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListDeletedNotes returns every note in sdID that carries a
// tombstone, most-recently-deleted first — the backing query for the
// "trash" virtual folder.
func (d *DB) ListDeletedNotes(sdID ids.ID) ([]Note, error) {
	rows, err := d.sql.Query(`SELECT `+noteColumns+` FROM notes
		WHERE sd_id = ? AND deleted_at IS NOT NULL
		ORDER BY deleted_at DESC`, sdID.String())
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoError, "cachedb: list deleted notes", err)
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.IoError, "cachedb: scan note", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// SearchNotes runs a full-text query over title+body via notes_fts,
// returning matching note IDs ranked by FTS5's default bm25 ordering.
func (d *DB) SearchNotes(sdID ids.ID, query string) ([]ids.ID, error) {
	rows, err := d.sql.Query(`SELECT n.id FROM notes_fts f
		JOIN notes n ON n.id = f.note_id
		WHERE f.notes_fts MATCH ? AND n.sd_id = ? AND n.deleted_at IS NULL
		ORDER BY rank`, query, sdID.String())
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoError, "cachedb: search notes", err)
	}
	defer rows.Close()
	var out []ids.ID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, engineerr.Wrap(engineerr.IoError, "cachedb: scan search result", err)
		}
		id, err := ids.Parse(idStr)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.IoError, "cachedb: parse search result id", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertFolder inserts or replaces one folder tree node.
func (d *DB) UpsertFolder(f Folder) error {
	_, err := d.sql.Exec(`INSERT INTO folders (id, sd_id, parent_id, name, order_key) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET sd_id = excluded.sd_id, parent_id = excluded.parent_id,
			name = excluded.name, order_key = excluded.order_key`,
		f.ID.String(), f.SDID.String(), nullableID(f.ParentID), f.Name, f.OrderKey)
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: upsert folder", err)
	}
	return nil
}

// ListChildFolders returns the direct children of parentID
// (ids.Zero for the tree root), ordered by OrderKey.
func (d *DB) ListChildFolders(sdID, parentID ids.ID) ([]Folder, error) {
	rows, err := d.sql.Query(`SELECT id, sd_id, parent_id, name, order_key FROM folders
		WHERE sd_id = ? AND parent_id IS ? ORDER BY order_key`, sdID.String(), nullableID(parentID))
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoError, "cachedb: list child folders", err)
	}
	defer rows.Close()
	var out []Folder
	for rows.Next() {
		var f Folder
		var id, sdIDStr, name, orderKey string
		var parent sql.NullString
		if err := rows.Scan(&id, &sdIDStr, &parent, &name, &orderKey); err != nil {
			return nil, engineerr.Wrap(engineerr.IoError, "cachedb: scan folder", err)
		}
		var perr error
		if f.ID, perr = ids.Parse(id); perr != nil {
			return nil, perr
		}
		if f.SDID, perr = ids.Parse(sdIDStr); perr != nil {
			return nil, perr
		}
		if f.ParentID, perr = idOrZero(parent); perr != nil {
			return nil, perr
		}
		f.Name, f.OrderKey = name, orderKey
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetNoteTags replaces a note's tag associations wholesale, creating
// any tag row that doesn't already exist by name.
func (d *DB) SetNoteTags(noteID ids.ID, tagNames []string) error {
	return d.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM note_tags WHERE note_id = ?`, noteID.String()); err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: clear note tags", err)
		}
		for _, name := range tagNames {
			var tagID string
			row := tx.QueryRow(`SELECT id FROM tags WHERE name = ?`, name)
			err := row.Scan(&tagID)
			if err == sql.ErrNoRows {
				tagID = ids.New().String()
				if _, err := tx.Exec(`INSERT INTO tags (id, name) VALUES (?, ?)`, tagID, name); err != nil {
					return engineerr.Wrap(engineerr.IoError, "cachedb: insert tag", err)
				}
			} else if err != nil {
				return engineerr.Wrap(engineerr.IoError, "cachedb: look up tag", err)
			}
			if _, err := tx.Exec(`INSERT INTO note_tags (note_id, tag_id) VALUES (?, ?)`, noteID.String(), tagID); err != nil {
				return engineerr.Wrap(engineerr.IoError, "cachedb: insert note tag", err)
			}
		}
		return nil
	})
}
