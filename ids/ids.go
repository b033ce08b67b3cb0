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

// Package ids implements the 22-character base64url identifiers used
// for every entity in the engine (notes, folders, instances, profiles,
// storage directories, tags, comments).
package ids

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// ID is an opaque 128-bit identifier. Comparisons must use Equal, not
// the underlying representation, since the same identifier can arrive
// in either the 36-char hyphenated form or the 22-char compact form.
type ID [16]byte

// Zero is the empty identifier.
var Zero ID

// New allocates a fresh random identifier.
func New() ID {
	return ID(uuid.New())
}

// String renders the identifier in its canonical compact form: a
// 22-character base64url encoding with the padding stripped.
func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Equal reports whether two identifiers refer to the same entity.
func (id ID) Equal(other ID) bool {
	return id == other
}

// IsZero reports whether id is the unset identifier.
func (id ID) IsZero() bool {
	return id == Zero
}

// Parse accepts both the legacy 36-character hyphenated UUID form and
// the new 22-character compact form, returning the opaque ID either
// way. New identifiers emitted by this package are always compact;
// Parse exists so the engine can ingest files and cache rows written
// by older versions without a migration pass.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if len(s) == 36 {
		u, err := uuid.Parse(s)
		if err != nil {
			return Zero, err
		}
		return ID(u), nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Zero, err
	}
	if len(b) != 16 {
		return Zero, errInvalidLength
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// MustParse is Parse but panics on error. Intended for constants and
// tests, never for data arriving from disk or the network.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

var errInvalidLength = idLengthError{}

type idLengthError struct{}

func (idLengthError) Error() string { return "ids: decoded identifier is not 16 bytes" }
