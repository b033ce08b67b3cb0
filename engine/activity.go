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
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

// ActivityEntry is one parsed line of a "profileId_instanceId.log"
// activity feed (spec.md §4.7): "{documentId}|{profileId}_{sequence}".
type ActivityEntry struct {
	DocumentID ids.ID
	ProfileID  ids.ID
	Sequence   uint64
}

func formatActivityLine(docID, profileID ids.ID, sequence uint64) string {
	return fmt.Sprintf("%s|%s_%d\n", docID.String(), profileID.String(), sequence)
}

// parseActivityLine parses one non-empty line, tolerating a missing
// trailing newline (the last line of a file being actively appended
// to).
func parseActivityLine(line string) (ActivityEntry, bool) {
	line = strings.TrimRight(line, "\n")
	if line == "" {
		return ActivityEntry{}, false
	}
	bar := strings.IndexByte(line, '|')
	if bar < 0 {
		return ActivityEntry{}, false
	}
	docID, err := ids.Parse(line[:bar])
	if err != nil {
		return ActivityEntry{}, false
	}
	rest := line[bar+1:]
	underscore := strings.LastIndexByte(rest, '_')
	if underscore < 0 {
		return ActivityEntry{}, false
	}
	profileID, err := ids.Parse(rest[:underscore])
	if err != nil {
		return ActivityEntry{}, false
	}
	seq, err := strconv.ParseUint(rest[underscore+1:], 10, 64)
	if err != nil {
		return ActivityEntry{}, false
	}
	return ActivityEntry{DocumentID: docID, ProfileID: profileID, Sequence: seq}, true
}

// ParseActivityLog parses every line in data, skipping any malformed
// trailing fragment (a torn write mid-line from a concurrent reader).
func ParseActivityLog(data []byte) []ActivityEntry {
	lines := strings.Split(string(data), "\n")
	out := make([]ActivityEntry, 0, len(lines))
	for _, l := range lines {
		if e, ok := parseActivityLine(l); ok {
			out = append(out, e)
		}
	}
	return out
}

// ActivityLogger is the Activity Logger (C7): one append-mostly
// plain-text file per (profile, instance) per SD, with a
// last-line-replace optimization that collapses a typing burst in one
// note into a single line instead of growing the file unboundedly.
type ActivityLogger struct {
	fs  fsadapter.FS
	cfg Config

	mu       sync.Mutex
	fileLock map[string]*sync.Mutex
}

func NewActivityLogger(fs fsadapter.FS, cfg Config) *ActivityLogger {
	return &ActivityLogger{fs: fs, cfg: cfg, fileLock: make(map[string]*sync.Mutex)}
}

func (a *ActivityLogger) lockFor(p string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.fileLock[p]
	if !ok {
		l = &sync.Mutex{}
		a.fileLock[p] = l
	}
	return l
}

// RecordChange implements ActivityAppender: it is called by
// docstore.go's ApplyLocalUpdate immediately after the CRDT record is
// fsynced (spec.md §4.6, §4.7).
func (a *ActivityLogger) RecordChange(sdRoot string, profileID, instanceID, docID ids.ID, sequence uint64, nowMillis int64) error {
	p := path.Join(sdRoot, activityLogPath(profileID, instanceID))
	fl := a.lockFor(p)
	fl.Lock()
	defer fl.Unlock()

	existing, err := a.fs.ReadFile(p)
	if err != nil {
		existing = nil // first write for this instance
	}

	newLine := formatActivityLine(docID, profileID, sequence)

	trimmed := bytes.TrimRight(existing, "\n")
	lastStart := 0
	if idx := bytes.LastIndexByte(trimmed, '\n'); idx >= 0 {
		lastStart = idx + 1
	}
	var lastLine string
	if len(trimmed) > 0 {
		lastLine = string(trimmed[lastStart:])
	}

	var data []byte
	if entry, ok := parseActivityLine(lastLine); ok && entry.DocumentID.Equal(docID) {
		// Last-line-replace: collapse a run of edits to the same
		// document into one line instead of growing the file.
		data = append(append([]byte{}, trimmed[:lastStart]...), []byte(newLine)...)
	} else if len(trimmed) > 0 {
		data = append(append([]byte{}, trimmed...), '\n')
		data = append(data, []byte(newLine)...)
	} else {
		data = []byte(newLine)
	}

	if err := a.fs.WriteFileAtomic(p, data, 0640); err != nil {
		return engineerr.IoErrorAt(p, err)
	}

	if int64(len(data)) > a.cfg.ActivityLogRotationBytes || countLines(data) > 1000 {
		return a.rotate(p, data)
	}
	return nil
}

func countLines(data []byte) int {
	data = bytes.TrimRight(data, "\n")
	if len(data) == 0 {
		return 0
	}
	return bytes.Count(data, []byte("\n")) + 1
}

// rotate keeps the newest 1000 lines in place, matching spec.md §4.7's
// "rewrite the file keeping only the newest 1000 lines" option (the
// simpler of the two permitted strategies, chosen because it avoids
// ever having to merge two files back together in ParseActivityLog
// callers, which only ever watch one filename per instance).
func (a *ActivityLogger) rotate(p string, data []byte) error {
	entries := ParseActivityLog(data)
	if len(entries) > 1000 {
		entries = entries[len(entries)-1000:]
	}
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(formatActivityLine(e.DocumentID, e.ProfileID, e.Sequence))
	}
	if err := a.fs.WriteFileAtomic(p, buf.Bytes(), 0640); err != nil {
		return engineerr.IoErrorAt(p, err)
	}
	return nil
}
