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
	"bytes"
	"io"

	"github.com/inkwell/noteengine/codec"
)

// LogReader streams records out of one .crdtlog file in file order
// (spec.md §4.3). It never re-orders records; the caller is
// responsible for vector-clock filtering. It tolerates a missing
// termination sentinel and a truncated trailing record, both signs of
// a crash mid-write rather than corruption.
type LogReader struct {
	r                 *bytes.Reader
	data              []byte
	offset            int64 // byte offset of the next record to read
	unfinalized       bool
	truncatedAtOffset int64 // -1 until a truncation is detected
}

// NewLogReader wraps the full contents of a log file for streaming
// record-by-record reads. Log files are small enough (rotated at 10
// MiB) that reading the whole thing into memory up front is simpler
// and just as fast as a buffered stream, while letting the reader
// look ahead for the sentinel without a second pass.
func NewLogReader(data []byte) *LogReader {
	return &LogReader{r: bytes.NewReader(data), data: data, truncatedAtOffset: -1}
}

// Next returns the next record, or io.EOF when the stream is
// exhausted (either by a sentinel or by reaching the physical end of
// file). After Next returns io.EOF, call Unfinalized and
// TruncatedAtOffset to learn why the stream ended.
func (lr *LogReader) Next() (Record, error) {
	if lr.offset >= int64(len(lr.data)) {
		lr.unfinalized = true
		return Record{}, io.EOF
	}

	remaining := lr.data[lr.offset:]
	br := bytes.NewReader(remaining)
	length, err := codec.ReadUvarint(br)
	if err != nil {
		// Not even a length varint fits in the remaining bytes: a
		// torn write of the length prefix itself.
		lr.unfinalized = true
		lr.truncatedAtOffset = lr.offset
		return Record{}, io.EOF
	}
	lengthVarintSize := int64(len(remaining)) - int64(br.Len())

	if length == 0 {
		// Termination sentinel: the file was closed cleanly here.
		// Anything after this point (there should be nothing) is
		// ignored.
		lr.offset += lengthVarintSize
		return Record{}, io.EOF
	}

	bodyStart := lr.offset + lengthVarintSize
	bodyEnd := bodyStart + int64(length)
	if bodyEnd > int64(len(lr.data)) {
		// The declared record length exceeds the bytes actually on
		// disk: a torn write of the record body. Stop here; this is
		// the crash-recovery signal spec.md §4.2/§7 describes.
		lr.unfinalized = true
		lr.truncatedAtOffset = lr.offset
		return Record{}, io.EOF
	}

	body := lr.data[bodyStart:bodyEnd]
	if len(body) < 8 {
		lr.unfinalized = true
		lr.truncatedAtOffset = lr.offset
		return Record{}, io.EOF
	}
	bodyReader := bytes.NewReader(body)
	ts, err := codec.ReadFixedU64(bodyReader)
	if err != nil {
		lr.unfinalized = true
		lr.truncatedAtOffset = lr.offset
		return Record{}, io.EOF
	}
	seq, err := codec.ReadUvarint(bodyReader)
	if err != nil {
		lr.unfinalized = true
		lr.truncatedAtOffset = lr.offset
		return Record{}, io.EOF
	}
	update := make([]byte, bodyReader.Len())
	copy(update, body[len(body)-bodyReader.Len():])

	lr.offset = bodyEnd
	return Record{TimestampMillis: int64(ts), Sequence: seq, Update: update}, nil
}

// Unfinalized reports whether the stream ended without a termination
// sentinel (either EOF mid-record, or simply no sentinel byte at all
// — an instance still actively writing this file).
func (lr *LogReader) Unfinalized() bool { return lr.unfinalized }

// TruncatedAtOffset returns the byte offset at which a torn trailing
// record was detected, or -1 if the stream ended cleanly (sentinel or
// clean EOF with no partial record).
func (lr *LogReader) TruncatedAtOffset() int64 { return lr.truncatedAtOffset }

// LastGoodOffset returns the byte offset immediately after the last
// fully-parsed record — the point a writer should truncate to before
// resuming appends to this file.
func (lr *LogReader) LastGoodOffset() int64 { return lr.offset }

// ReadAllRecords drains every record from data, for callers (cold
// load, pack job) that want the whole slice rather than incremental
// iteration.
func ReadAllRecords(data []byte) (records []Record, unfinalized bool, truncatedAtOffset int64) {
	lr := NewLogReader(data)
	for {
		rec, err := lr.Next()
		if err != nil {
			break
		}
		records = append(records, rec)
	}
	return records, lr.Unfinalized(), lr.TruncatedAtOffset()
}
