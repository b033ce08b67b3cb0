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

// Package backup implements whole-SD backup and restore (spec.md
// §6.2): a versioned tar bundle of every file under a storage
// directory plus a manifest describing what's inside, written
// with the same write-then-atomic-rename discipline the engine package
// uses for snapshots (engine/snapshot.go), so a crash mid-backup never
// leaves a half-written bundle where a caller might mistake it for a
// complete one.
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"sort"
	"time"

	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

// manifestVersion is the bundle format version written into every
// manifest; Restore refuses a bundle stamped with a version newer than
// this build understands, the same posture cachedb takes for its own
// schema (spec.md §4.12).
const manifestVersion = 1

// Manifest describes one backup bundle's contents and provenance.
type Manifest struct {
	Version     int      `json:"version"`
	SDID        string   `json:"sd_id"`
	SDName      string   `json:"sd_name"`
	CreatedAt   int64    `json:"created_at"`
	InstanceID  string   `json:"instance_id"`
	Files       []string `json:"files"`
	TotalBytes  int64    `json:"total_bytes"`
}

const manifestEntryName = "manifest.json"

// CreateBackup packs every file under sdRoot (walked via fs), including
// its notes/ and folders/ trees, into a gzip-compressed tar stream
// written to w, followed by a trailing manifest.json entry. File
// entries are written in sorted path order so two
// backups of byte-identical state produce byte-identical bundles
// (spec.md §8 scenario 6's byte-identity target).
func CreateBackup(fs fsadapter.FS, sdRoot string, sdID ids.ID, sdName string, instanceID ids.ID, nowMillis int64, w io.Writer) (Manifest, error) {
	paths, err := walkFiles(fs, sdRoot, sdRoot)
	if err != nil {
		return Manifest{}, err
	}
	sort.Strings(paths)

	man := Manifest{
		Version:    manifestVersion,
		SDID:       sdID.String(),
		SDName:     sdName,
		CreatedAt:  nowMillis,
		InstanceID: instanceID.String(),
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, rel := range paths {
		data, err := fs.ReadFile(joinRoot(sdRoot, rel))
		if err != nil {
			return Manifest{}, engineerr.IoErrorAt(rel, err)
		}
		man.Files = append(man.Files, rel)
		man.TotalBytes += int64(len(data))
		if err := writeTarEntry(tw, rel, data, nowMillis); err != nil {
			return Manifest{}, engineerr.Wrap(engineerr.IoError, "backup: write tar entry "+rel, err)
		}
	}

	manData, err := encodeManifest(man)
	if err != nil {
		return Manifest{}, err
	}
	if err := writeTarEntry(tw, manifestEntryName, manData, nowMillis); err != nil {
		return Manifest{}, engineerr.Wrap(engineerr.IoError, "backup: write manifest entry", err)
	}

	if err := tw.Close(); err != nil {
		return Manifest{}, engineerr.Wrap(engineerr.IoError, "backup: close tar writer", err)
	}
	if err := gz.Close(); err != nil {
		return Manifest{}, engineerr.Wrap(engineerr.IoError, "backup: close gzip writer", err)
	}
	return man, nil
}

// CreateBackupAtomic is CreateBackup but targets a path on fs directly,
// via a temp-file-then-rename so a reader never observes a partial
// bundle (the same two-phase discipline engine/snapshot.go's
// WriteSnapshot uses).
func CreateBackupAtomic(fs fsadapter.FS, sdRoot, destPath string, sdID ids.ID, sdName string, instanceID ids.ID, nowMillis int64) (Manifest, error) {
	var buf bytes.Buffer
	man, err := CreateBackup(fs, sdRoot, sdID, sdName, instanceID, nowMillis, &buf)
	if err != nil {
		return Manifest{}, err
	}
	if err := fs.WriteFileAtomic(destPath, buf.Bytes(), 0o600); err != nil {
		return Manifest{}, engineerr.IoErrorAt(destPath, err)
	}
	return man, nil
}

func writeTarEntry(tw *tar.Writer, name string, data []byte, nowMillis int64) error {
	hdr := &tar.Header{
		Name:    name,
		Size:    int64(len(data)),
		Mode:    0o600,
		ModTime: time.UnixMilli(nowMillis),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// walkFiles recursively lists every regular file under dir (relative
// to root), returning paths relative to root.
func walkFiles(fs fsadapter.FS, root, dir string) ([]string, error) {
	entries, err := fs.ListDir(dir)
	if err != nil {
		return nil, engineerr.IoErrorAt(dir, err)
	}
	var out []string
	for _, e := range entries {
		full := joinPath(dir, e.Name)
		if e.IsDir {
			children, err := walkFiles(fs, root, full)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
			continue
		}
		out = append(out, relativeTo(root, full))
	}
	return out, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func joinRoot(root, rel string) string {
	return joinPath(root, rel)
}

func relativeTo(root, full string) string {
	if len(full) > len(root) && full[:len(root)] == root {
		return full[len(root)+1:]
	}
	return full
}
