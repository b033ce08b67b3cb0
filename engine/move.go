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
	"fmt"
	"path"

	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

// MoveState is one step of the C11 cross-SD move state machine
// (spec.md §4.11). Persisted so a crash mid-move resumes exactly
// where it left off instead of re-running completed steps.
type MoveState string

const (
	MoveInitiated   MoveState = "initiated"
	MoveCopying     MoveState = "copying"
	MoveFilesCopied MoveState = "files_copied"
	MoveDBUpdated   MoveState = "db_updated"
	MoveCleaning    MoveState = "cleaning"
	MoveCompleted   MoveState = "completed"
)

// MoveRecord is the durable row backing one in-flight move, shaped
// directly after spec.md §4.11/§4.12's `note_moves` table.
type MoveRecord struct {
	MoveID          ids.ID
	NoteID          ids.ID
	SrcSDID         ids.ID
	DstSDID         ids.ID
	OwnerInstanceID ids.ID
	State           MoveState
	UpdatedAtMillis int64
}

// MoveStore persists MoveRecord into the cache database's note_moves
// table (spec.md §4.12). Every method is expected to be transactional
// against that one row: CreateMove's INSERT-or-defer semantics and
// TakeOverMove's conditional UPDATE both depend on it.
type MoveStore interface {
	// CreateMove inserts a new row keyed by rec.NoteID. If a row for
	// that note already exists, it returns the existing row and
	// created=false: the caller defers to whichever move got there
	// first rather than racing a second one (spec.md §4.11 "Concurrent
	// moves of the same note").
	CreateMove(rec MoveRecord) (existing MoveRecord, created bool, err error)
	LoadMoveByNote(noteID ids.ID) (MoveRecord, bool, error)
	LoadMove(moveID ids.ID) (MoveRecord, bool, error)
	UpdateMoveState(moveID ids.ID, state MoveState, nowMillis int64) error
	// TakeOverMove reassigns ownership conditionally on the caller's
	// belief about the current owner: it fails (ok=false) if the row's
	// owner no longer matches priorOwner, the same shape as an
	// UPDATE ... WHERE owner_instance_id = ? affecting zero rows.
	TakeOverMove(moveID ids.ID, newOwner, priorOwner ids.ID, nowMillis int64) (ok bool, err error)
	DeleteMove(moveID ids.ID) error
	// RebindNoteSD performs the note_sync_state/notes/folders update
	// that makes the move visible to the rest of the system: the
	// note's owning SD switches from src to dst.
	RebindNoteSD(noteID, dstSDID ids.ID) error
}

// MoveManager drives the C11 state machine. It never holds a row's
// state in memory across calls: every step reloads from MoveStore
// first, so a takeover by another instance between steps is always
// observed.
type MoveManager struct {
	fs            fsadapter.FS
	cfg           Config
	store         MoveStore
	deletion      *DeletionLogger
	ownInstanceID ids.ID
}

func NewMoveManager(fs fsadapter.FS, cfg Config, store MoveStore, deletion *DeletionLogger, ownInstanceID ids.ID) *MoveManager {
	return &MoveManager{fs: fs, cfg: cfg, store: store, deletion: deletion, ownInstanceID: ownInstanceID}
}

// InitiateMove starts (or joins) a move of noteID from srcSDID to
// dstSDID. If a move for this note is already in flight, its existing
// record is returned unchanged rather than starting a competing one.
func (m *MoveManager) InitiateMove(moveID, noteID, srcSDID, dstSDID ids.ID, nowMillis int64) (MoveRecord, error) {
	rec := MoveRecord{
		MoveID:          moveID,
		NoteID:          noteID,
		SrcSDID:         srcSDID,
		DstSDID:         dstSDID,
		OwnerInstanceID: m.ownInstanceID,
		State:           MoveInitiated,
		UpdatedAtMillis: nowMillis,
	}
	existing, created, err := m.store.CreateMove(rec)
	if err != nil {
		return MoveRecord{}, err
	}
	if !created {
		return existing, nil
	}
	return rec, nil
}

// Advance performs the action for rec's current state and persists
// the transition to the next one, once. Callers loop it (or call
// DriveToCompletion) to walk a record through to MoveCompleted; it is
// split out a step at a time so a long-running driver can check a
// cancel flag between file boundaries per spec.md §5's "Cancellation".
func (m *MoveManager) Advance(rec MoveRecord, kind DocKind, srcRoot, dstRoot, profileID string, nowMillis int64) (MoveRecord, error) {
	_ = profileID // reserved: deletion-log entries are keyed by profile+instance, not by move
	switch rec.State {
	case MoveInitiated:
		return m.transition(rec, MoveCopying, nowMillis)

	case MoveCopying:
		if err := m.copyDocumentFiles(kind, rec.NoteID, srcRoot, dstRoot); err != nil {
			return rec, err
		}
		return m.transition(rec, MoveFilesCopied, nowMillis)

	case MoveFilesCopied:
		// The destination fsync itself happened inline with every
		// WriteFileAtomic in copyDocumentFiles; this state exists so a
		// crash between "files landed" and "DB flipped" is
		// distinguishable from a crash mid-copy.
		return m.transition(rec, MoveDBUpdated, nowMillis)

	case MoveDBUpdated:
		if err := m.store.RebindNoteSD(rec.NoteID, rec.DstSDID); err != nil {
			return rec, err
		}
		return m.transition(rec, MoveCleaning, nowMillis)

	case MoveCleaning:
		if err := m.cleanSource(rec, kind, srcRoot, nowMillis); err != nil {
			return rec, err
		}
		return m.transition(rec, MoveCompleted, nowMillis)

	case MoveCompleted:
		if err := m.store.DeleteMove(rec.MoveID); err != nil {
			return rec, err
		}
		return rec, nil

	default:
		return rec, engineerr.New(engineerr.Validation, fmt.Sprintf("move: unknown state %q for move %s", rec.State, rec.MoveID))
	}
}

// DriveToCompletion repeatedly calls Advance until rec reaches
// MoveCompleted and its row is removed, or cancel returns true, or an
// error occurs. cancel is checked between every step, never mid-step,
// so the filesystem is always left in one of the named states.
func (m *MoveManager) DriveToCompletion(rec MoveRecord, kind DocKind, srcRoot, dstRoot string, nowMillis int64, cancel func() bool) (MoveRecord, error) {
	for {
		if cancel != nil && cancel() {
			return rec, nil
		}
		wasCompleted := rec.State == MoveCompleted
		next, err := m.Advance(rec, kind, srcRoot, dstRoot, "", nowMillis)
		if err != nil {
			return next, err
		}
		rec = next
		if wasCompleted {
			// The row's DeleteMove just ran inside that Advance call.
			return rec, nil
		}
	}
}

func (m *MoveManager) transition(rec MoveRecord, next MoveState, nowMillis int64) (MoveRecord, error) {
	if err := m.store.UpdateMoveState(rec.MoveID, next, nowMillis); err != nil {
		return rec, err
	}
	rec.State = next
	rec.UpdatedAtMillis = nowMillis
	return rec, nil
}

// copyDocumentFiles copies every logs/packs/snapshots file for one
// document from srcRoot to dstRoot. It is safe to re-run: a file
// already present at the destination is simply overwritten with the
// same bytes, so a crash partway through just means the next
// MoveCopying pass re-copies a few files it didn't need to.
func (m *MoveManager) copyDocumentFiles(kind DocKind, noteID ids.ID, srcRoot, dstRoot string) error {
	dirs := []func(DocKind, ids.ID) string{logsDir, packsDir, snapshotsDir}
	for _, dirFn := range dirs {
		srcDir := path.Join(srcRoot, dirFn(kind, noteID))
		dstDir := path.Join(dstRoot, dirFn(kind, noteID))
		entries, err := m.fs.ListDir(srcDir)
		if err != nil {
			continue // nothing under this subdir yet
		}
		if len(entries) == 0 {
			continue
		}
		if err := m.fs.MkdirAll(dstDir, 0750); err != nil {
			return engineerr.IoErrorAt(dstDir, err)
		}
		for _, e := range entries {
			if e.IsDir {
				continue
			}
			data, err := m.fs.ReadFile(path.Join(srcDir, e.Name))
			if err != nil {
				return engineerr.IoErrorAt(path.Join(srcDir, e.Name), err)
			}
			dst := path.Join(dstDir, e.Name)
			if err := m.fs.WriteFileAtomic(dst, data, 0640); err != nil {
				return engineerr.IoErrorAt(dst, err)
			}
		}
	}
	return nil
}

// cleanSource writes the tombstone for this note in the source SD
// (so any instance still watching src learns the note left) and
// removes its on-disk files there.
func (m *MoveManager) cleanSource(rec MoveRecord, kind DocKind, srcRoot string, nowMillis int64) error {
	if m.deletion != nil {
		profileID := rec.OwnerInstanceID // best-effort: the move doesn't carry a separate profile id
		if err := m.deletion.RecordDeletion(srcRoot, profileID, m.ownInstanceID, rec.NoteID, 0, nowMillis); err != nil {
			return err
		}
	}
	if err := m.fs.RemoveAll(path.Join(srcRoot, docRoot(kind, rec.NoteID))); err != nil {
		return engineerr.IoErrorAt(path.Join(srcRoot, docRoot(kind, rec.NoteID)), err)
	}
	return nil
}

// Rollback reverses a move from any pre-MoveDBUpdated state: it
// deletes whatever partial copy landed at the destination and removes
// the row. Once MoveDBUpdated has run, the note's sd_id already points
// at dst, so rollback is no longer safe (spec.md §4.11
// "forward-complete is the only safe path" after that point) and this
// returns an error instead of silently doing nothing.
func (m *MoveManager) Rollback(rec MoveRecord, kind DocKind, dstRoot string) error {
	switch rec.State {
	case MoveInitiated, MoveCopying, MoveFilesCopied:
	default:
		return engineerr.New(engineerr.Validation, fmt.Sprintf("move: cannot roll back move %s from state %q", rec.MoveID, rec.State))
	}
	if err := m.fs.RemoveAll(path.Join(dstRoot, docRoot(kind, rec.NoteID))); err != nil {
		return engineerr.IoErrorAt(path.Join(dstRoot, docRoot(kind, rec.NoteID)), err)
	}
	return m.store.DeleteMove(rec.MoveID)
}

// TakeOver reassigns a stale move to newOwnerInstanceID. The caller
// supplies ownerLastActivityMillis (typically the mtime of the prior
// owner's activity log) since Activity Sync, not MoveManager, is what
// tracks per-instance liveness; this only enforces the staleness
// threshold and performs the conditional ownership swap (spec.md
// §4.11 "Takeover protocol").
func (m *MoveManager) TakeOver(rec MoveRecord, newOwnerInstanceID ids.ID, ownerLastActivityMillis, nowMillis int64) (bool, error) {
	staleAfter := m.cfg.MoveOwnerStaleSeconds
	if staleAfter <= 0 {
		staleAfter = 300
	}
	if nowMillis-ownerLastActivityMillis < staleAfter*1000 {
		return false, nil // prior owner is still active; no takeover
	}
	return m.store.TakeOverMove(rec.MoveID, newOwnerInstanceID, rec.OwnerInstanceID, nowMillis)
}
