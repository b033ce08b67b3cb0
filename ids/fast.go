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
package ids

import (
	"encoding/binary"
	"sync/atomic"
	"time"
)

var fastCounter uint64 = uint64(time.Now().UnixNano())

// NewFast returns a UUIDv4-like identifier without touching crypto/rand.
// It is not suitable for anything security-sensitive, but move IDs and
// internal correlation IDs are minted at high frequency during catch-up
// sync and must never stall on entropy starvation on headless or
// freshly-booted machines.
func NewFast() ID {
	ctr := atomic.AddUint64(&fastCounter, 1)
	now := uint64(time.Now().UnixNano())
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], ctr)
	binary.LittleEndian.PutUint64(b[8:16], ctr^now^(now<<17))
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return ID(b)
}

// FolderTreeSentinel is the reserved document ID for an SD's single
// folder-tree document. It never collides with a random note ID
// because the high bit pattern of a v4 UUID's byte 6 is fixed and this
// sentinel instead zeroes the whole identifier except a marker byte.
var FolderTreeSentinel = ID{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xff}
