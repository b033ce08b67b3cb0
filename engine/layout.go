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

// Package engine is the storage/sync core: the append-only CRDT log,
// snapshots, sequence tracking, the document registry, activity and
// deletion feeds, background consolidation, and the cross-SD move
// state machine (spec.md §4). It depends only on fsadapter.FS for all
// I/O, never on the os package directly, so every algorithm here runs
// identically against a real Storage Directory or an in-memory test
// harness.
package engine

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/inkwell/noteengine/ids"
)

// DocKind distinguishes a note document from an SD's single folder
// tree document; both share the log/pack/snapshot machinery but live
// under different roots (spec.md §6.1).
type DocKind int

const (
	DocNote DocKind = iota
	DocFolderTree
)

// docRoot returns the directory holding logs/packs/snapshots for a
// document: "notes/{noteId}" for a note, "folders" for the one
// per-SD folder tree.
func docRoot(kind DocKind, noteID ids.ID) string {
	if kind == DocFolderTree {
		return "folders"
	}
	return path.Join("notes", noteID.String())
}

func logsDir(kind DocKind, noteID ids.ID) string      { return path.Join(docRoot(kind, noteID), "logs") }
func packsDir(kind DocKind, noteID ids.ID) string     { return path.Join(docRoot(kind, noteID), "packs") }
func snapshotsDir(kind DocKind, noteID ids.ID) string { return path.Join(docRoot(kind, noteID), "snapshots") }

// logFileName builds "{profileId}_{instanceId}_{creationMillis}.crdtlog".
func logFileName(profileID, instanceID ids.ID, creationMillis int64) string {
	return fmt.Sprintf("%s_%s_%d.crdtlog", profileID.String(), instanceID.String(), creationMillis)
}

// parsedLogName is the decomposition of a log file's name.
type parsedLogName struct {
	ProfileID      ids.ID
	InstanceID     ids.ID
	CreationMillis int64
}

func parseLogFileName(name string) (parsedLogName, error) {
	base := strings.TrimSuffix(name, ".crdtlog")
	if base == name {
		return parsedLogName{}, fmt.Errorf("layout: %q is not a .crdtlog file", name)
	}
	parts := strings.Split(base, "_")
	if len(parts) != 3 {
		return parsedLogName{}, fmt.Errorf("layout: malformed log filename %q", name)
	}
	profileID, err := ids.Parse(parts[0])
	if err != nil {
		return parsedLogName{}, fmt.Errorf("layout: bad profile id in %q: %w", name, err)
	}
	instanceID, err := ids.Parse(parts[1])
	if err != nil {
		return parsedLogName{}, fmt.Errorf("layout: bad instance id in %q: %w", name, err)
	}
	millis, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return parsedLogName{}, fmt.Errorf("layout: bad timestamp in %q: %w", name, err)
	}
	return parsedLogName{ProfileID: profileID, InstanceID: instanceID, CreationMillis: millis}, nil
}

// snapshotFileName builds "snapshot_{totalChanges}_{instanceId}.snapshot".
func snapshotFileName(totalChanges uint64, instanceID ids.ID) string {
	return fmt.Sprintf("snapshot_%d_%s.snapshot", totalChanges, instanceID.String())
}

type parsedSnapshotName struct {
	TotalChanges uint64
	InstanceID   ids.ID
}

func parseSnapshotFileName(name string) (parsedSnapshotName, error) {
	base := strings.TrimSuffix(name, ".snapshot")
	if base == name {
		return parsedSnapshotName{}, fmt.Errorf("layout: %q is not a .snapshot file", name)
	}
	if !strings.HasPrefix(base, "snapshot_") {
		return parsedSnapshotName{}, fmt.Errorf("layout: %q missing snapshot_ prefix", name)
	}
	rest := strings.TrimPrefix(base, "snapshot_")
	idx := strings.IndexByte(rest, '_')
	if idx < 0 {
		return parsedSnapshotName{}, fmt.Errorf("layout: malformed snapshot filename %q", name)
	}
	totalChanges, err := strconv.ParseUint(rest[:idx], 10, 64)
	if err != nil {
		return parsedSnapshotName{}, fmt.Errorf("layout: bad totalChanges in %q: %w", name, err)
	}
	instanceID, err := ids.Parse(rest[idx+1:])
	if err != nil {
		return parsedSnapshotName{}, fmt.Errorf("layout: bad instance id in %q: %w", name, err)
	}
	return parsedSnapshotName{TotalChanges: totalChanges, InstanceID: instanceID}, nil
}

// packFileName builds "{instanceId}_pack_{startSeq}-{endSeq}.yjson".
func packFileName(instanceID ids.ID, startSeq, endSeq uint64) string {
	return fmt.Sprintf("%s_pack_%d-%d.yjson", instanceID.String(), startSeq, endSeq)
}

type parsedPackName struct {
	InstanceID ids.ID
	StartSeq   uint64
	EndSeq     uint64
}

func parsePackFileName(name string) (parsedPackName, error) {
	base := strings.TrimSuffix(name, ".yjson")
	if base == name {
		return parsedPackName{}, fmt.Errorf("layout: %q is not a .yjson pack file", name)
	}
	idx := strings.Index(base, "_pack_")
	if idx < 0 {
		return parsedPackName{}, fmt.Errorf("layout: malformed pack filename %q", name)
	}
	instanceID, err := ids.Parse(base[:idx])
	if err != nil {
		return parsedPackName{}, fmt.Errorf("layout: bad instance id in %q: %w", name, err)
	}
	rangePart := base[idx+len("_pack_"):]
	dash := strings.IndexByte(rangePart, '-')
	if dash < 0 {
		return parsedPackName{}, fmt.Errorf("layout: malformed pack range in %q", name)
	}
	start, err := strconv.ParseUint(rangePart[:dash], 10, 64)
	if err != nil {
		return parsedPackName{}, fmt.Errorf("layout: bad start seq in %q: %w", name, err)
	}
	end, err := strconv.ParseUint(rangePart[dash+1:], 10, 64)
	if err != nil {
		return parsedPackName{}, fmt.Errorf("layout: bad end seq in %q: %w", name, err)
	}
	return parsedPackName{InstanceID: instanceID, StartSeq: start, EndSeq: end}, nil
}

// docKindFor classifies a document ID seen in an activity/deletion
// feed line: the one reserved per-SD folder tree ID is DocFolderTree,
// everything else is an ordinary note.
func docKindFor(docID ids.ID) DocKind {
	if docID.Equal(ids.FolderTreeSentinel) {
		return DocFolderTree
	}
	return DocNote
}

func activityLogPath(profileID, instanceID ids.ID) string {
	return path.Join("activity", profileID.String()+"_"+instanceID.String()+".log")
}

func deletionLogPath(profileID, instanceID ids.ID) string {
	return path.Join("deleted", profileID.String()+"_"+instanceID.String()+".log")
}
