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

import "github.com/inkwell/noteengine/codec"

// Record is one CRDT update entry as framed in a .crdtlog file
// (spec.md §4.2): varint(length) ‖ u64_be(timestampMillis) ‖
// varint(sequence) ‖ opaque_update_bytes.
type Record struct {
	TimestampMillis int64
	Sequence        uint64
	Update          []byte
}

// isSentinel reports whether this record is the zero-length
// termination sentinel written on a clean close.
func (r Record) isSentinel() bool { return len(r.Update) == 0 && r.Sequence == 0 && r.TimestampMillis == 0 }

// sentinelRecord is the record written to cleanly close a log file.
var sentinelRecord = Record{}

// encodeRecord frames r as length ‖ timestamp ‖ sequence ‖ update,
// where length covers everything after the length varint itself.
func encodeRecord(r Record) []byte {
	body := make([]byte, 0, 16+len(r.Update))
	body = codec.PutFixedU64(body, uint64(r.TimestampMillis))
	body = codec.PutUvarint(body, r.Sequence)
	body = append(body, r.Update...)

	out := make([]byte, 0, len(body)+codec.UvarintSize(uint64(len(body))))
	out = codec.PutUvarint(out, uint64(len(body)))
	out = append(out, body...)
	return out
}

// encodeSentinel frames the zero-length termination sentinel: a
// record whose length prefix is 0, per spec.md §4.2.
func encodeSentinel() []byte {
	return codec.PutUvarint(nil, 0)
}
