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

// Package foldertree resolves the virtual folders a UI wants to show
// alongside the real folder tree — "all notes" and "trash" — without
// ever writing either of them into the folder-tree CRDT itself. Both
// are derived, read-only views over the cache database (cachedb),
// which is itself already a relational mirror of CRDT-derived state.
package foldertree

import (
	"github.com/inkwell/noteengine/cachedb"
	"github.com/inkwell/noteengine/ids"
)

// Kind identifies one of the fixed virtual folders. Real folders are
// addressed by their ids.ID in the folder tree; these two are never
// allocated a CRDT node, so they get fixed sentinel identifiers
// instead, following the same "reserve a byte pattern no random ID can
// collide with" convention as ids.FolderTreeSentinel.
type Kind int

const (
	AllNotes Kind = iota
	Trash
)

// ID returns the sentinel identifier a UI can use to address this
// virtual folder the same way it addresses a real one.
func (k Kind) ID() ids.ID {
	switch k {
	case AllNotes:
		return allNotesID
	case Trash:
		return trashID
	default:
		return ids.Zero
	}
}

var (
	allNotesID = ids.ID{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xfe}
	trashID    = ids.ID{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xfd}
)

// KindForID reports which virtual folder, if any, id addresses.
func KindForID(id ids.ID) (Kind, bool) {
	switch {
	case id.Equal(allNotesID):
		return AllNotes, true
	case id.Equal(trashID):
		return Trash, true
	default:
		return 0, false
	}
}

// NoteSource is the subset of cachedb.DB's read surface VirtualView
// needs. Declaring it here (rather than depending on *cachedb.DB
// directly) keeps this package's tests independent of a real SQLite
// file.
type NoteSource interface {
	ListAllNotes(sdID ids.ID) ([]cachedb.Note, error)
	ListDeletedNotes(sdID ids.ID) ([]cachedb.Note, error)
}

// VirtualView resolves a Kind for a given storage directory into the
// notes it should display.
type VirtualView struct {
	notes NoteSource
}

// New builds a VirtualView over the given note source, typically a
// *cachedb.DB.
func New(notes NoteSource) *VirtualView {
	return &VirtualView{notes: notes}
}

// Resolve returns the notes belonging to the given virtual folder
// within sdID, in the order the underlying cache query produces them
// (most-recently-modified first for AllNotes, most-recently-deleted
// first for Trash).
func (v *VirtualView) Resolve(sdID ids.ID, kind Kind) ([]cachedb.Note, error) {
	switch kind {
	case AllNotes:
		return v.notes.ListAllNotes(sdID)
	case Trash:
		return v.notes.ListDeletedNotes(sdID)
	default:
		return nil, nil
	}
}
