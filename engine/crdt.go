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

// CRDT is the capability interface the storage engine requires of a
// pluggable document implementation (spec.md §1, §9). No type from the
// underlying CRDT library is ever allowed to leak past this interface
// into the engine's own public surface — the engine only ever sees
// opaque update bytes and opaque encoded state.
type CRDT interface {
	// NewDoc creates a fresh, empty document of this CRDT kind.
	NewDoc() Doc
}

// Doc is a single loaded CRDT document instance.
type Doc interface {
	// ApplyUpdate applies an opaque update produced by EncodeDiff (on
	// some instance, possibly this one) to the document. Applying the
	// same update twice, or applying updates out of their causal
	// order across instances, must be safe and convergent.
	ApplyUpdate(update []byte) error

	// EncodeState returns the full current state of the document as
	// an opaque byte string, suitable for a snapshot.
	EncodeState() []byte

	// EncodeDiff returns an opaque update capturing everything in the
	// document that is not reflected in prev's encoded state. Used to
	// produce a local CRDT update after a local edit.
	EncodeDiff(prev []byte) []byte
}

// LoadDoc reconstructs a Doc from a previously encoded state, as
// produced by Doc.EncodeState.
type DocLoader interface {
	LoadDoc(state []byte) (Doc, error)
}
