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
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"

	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
)

// Mode selects how Restore re-keys the bundle's storage directory
// identity (spec.md §6.2).
type Mode int

const (
	// ModeOriginal restores the SD under the same ID the bundle was
	// taken from — for "undo a mistake on this exact SD" recovery.
	ModeOriginal Mode = iota
	// ModeNew restores under a fresh SD ID supplied by the caller, so the
	// result can coexist
	// alongside the SD the backup was taken from without the two being
	// treated as sync peers of each other.
	ModeNew
)

func encodeManifest(m Manifest) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoError, "backup: encode manifest", err)
	}
	return data, nil
}

func decodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, engineerr.CorruptAt(manifestEntryName, err.Error())
	}
	if m.Version > manifestVersion {
		return Manifest{}, engineerr.ErrSchemaTooNew
	}
	return m, nil
}

// RestoreResult reports what Restore wrote and under which SD identity.
type RestoreResult struct {
	Manifest Manifest
	SDID     ids.ID
}

// Restore reads a gzip-compressed tar bundle from r and writes its
// contents under destRoot on fs. In ModeOriginal the manifest's SD ID
// is returned unchanged; in ModeNew, newSDID is used instead and the
// manifest returned to the caller reflects the original bundle
// (callers that need the new ID's cache rows rebuilt should do so
// against RestoreResult.SDID, not Manifest.SDID).
func Restore(fs fsadapter.FS, r io.Reader, destRoot string, mode Mode, newSDID ids.ID) (RestoreResult, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return RestoreResult{}, engineerr.Wrap(engineerr.Corrupt, "backup: open gzip stream", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	var man Manifest
	var haveManifest bool
	files := make(map[string][]byte)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return RestoreResult{}, engineerr.Wrap(engineerr.Corrupt, "backup: read tar entry", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return RestoreResult{}, engineerr.Wrap(engineerr.Corrupt, "backup: read tar entry body "+hdr.Name, err)
		}
		if hdr.Name == manifestEntryName {
			man, err = decodeManifest(data)
			if err != nil {
				return RestoreResult{}, err
			}
			haveManifest = true
			continue
		}
		files[hdr.Name] = data
	}
	if !haveManifest {
		return RestoreResult{}, engineerr.CorruptAt(manifestEntryName, "bundle has no manifest entry")
	}

	// Every file the manifest claims must actually be present — a
	// truncated bundle is corrupt, not partially restorable.
	for _, name := range man.Files {
		if _, ok := files[name]; !ok {
			return RestoreResult{}, engineerr.CorruptAt(name, "file listed in manifest is missing from bundle")
		}
	}

	for _, name := range man.Files {
		if err := fs.WriteFileAtomic(joinPath(destRoot, name), files[name], 0o600); err != nil {
			return RestoreResult{}, engineerr.IoErrorAt(name, err)
		}
	}

	result := RestoreResult{Manifest: man}
	switch mode {
	case ModeNew:
		result.SDID = newSDID
	default:
		sdID, err := ids.Parse(man.SDID)
		if err != nil {
			return RestoreResult{}, engineerr.CorruptAt("manifest.sd_id", err.Error())
		}
		result.SDID = sdID
	}
	return result, nil
}

// RestoreFromBytes is a convenience wrapper around Restore for callers
// that already have the whole bundle in memory (e.g. freshly
// downloaded from an S3Target).
func RestoreFromBytes(fs fsadapter.FS, bundle []byte, destRoot string, mode Mode, newSDID ids.ID) (RestoreResult, error) {
	return Restore(fs, bytes.NewReader(bundle), destRoot, mode, newSDID)
}
