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
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/inkwell/noteengine/backup"
	"github.com/inkwell/noteengine/cachedb"
	"github.com/inkwell/noteengine/diagnostics"
	"github.com/inkwell/noteengine/engine"
	"github.com/inkwell/noteengine/enginelog"
	"github.com/inkwell/noteengine/fsadapter"
	"github.com/inkwell/noteengine/ids"
	"github.com/inkwell/noteengine/profilelock"
)

// profileManifest is the on-disk record of a profile's storage
// directories, the bit of bootstrapping information nothing else in
// the engine owns (spec.md treats SD discovery as the application's
// job, not the engine's).
type profileManifest struct {
	ProfileID  string `json:"profile_id"`
	InstanceID string `json:"instance_id"`
	SDID       string `json:"sd_id"`
	SDName     string `json:"sd_name"`
}

const manifestFile = "profile.json"

// session bundles every long-lived component the CLI's commands
// operate against — one storage directory's worth of engine wiring
// plus the cache DB and the lock guarding the profile root.
type session struct {
	root       string
	sdID       ids.ID
	sdRoot     string
	profileID  ids.ID
	instanceID ids.ID

	lock *profilelock.Lock
	db   *cachedb.DB
	fs   fsadapter.FS

	docs      *engine.DocumentStore
	activity  *engine.ActivitySync
	deletion  *engine.DeletionSync
	actLogger *engine.ActivityLogger
	delLogger *engine.DeletionLogger
	packer    *engine.Packer
	snap      *engine.Snapshotter
	gc        *engine.GC
	cfg       engine.Config

	diag *diagnostics.Runner
}

func openSession(root string) (*session, error) {
	lock, held, err := profilelock.TryAcquire(root)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, fmt.Errorf("profile %s is already open in another process", root)
	}

	manifest, err := loadOrCreateManifest(root)
	if err != nil {
		lock.Release()
		return nil, err
	}

	db, err := cachedb.Open(filepath.Join(root, "cache.sqlite"), enginelog.Default())
	if err != nil {
		lock.Release()
		return nil, err
	}

	sdID, _ := ids.Parse(manifest.SDID)
	profileID, _ := ids.Parse(manifest.ProfileID)
	instanceID, _ := ids.Parse(manifest.InstanceID)
	sdRoot := filepath.Join(root, "sd")

	fs := fsadapter.Native{}
	cfg := engine.DefaultConfig()
	seqMgr := engine.NewSequenceManager(fs, db)
	actLogger := engine.NewActivityLogger(fs, cfg)
	delLogger := engine.NewDeletionLogger(fs, cfg)
	docs := engine.NewDocumentStore(fs, cfg, lwwCRDT{}, lwwCRDT{}, seqMgr, actLogger, db, profileID, instanceID)
	activity := engine.NewActivitySync(fs, cfg, docs, db, db, profileID, instanceID)
	deletion := engine.NewDeletionSync(fs, docs, db, db, instanceID)
	packer := engine.NewPacker(fs, cfg, instanceID)
	snap := engine.NewSnapshotter(fs, cfg, instanceID)
	gc := engine.NewGC(fs, cfg)

	diag := diagnostics.NewRunner(db, docs, fs, cfg)

	if err := db.UpsertStorageDir(sdID, manifest.SDName, sdRoot, time.Now().UnixMilli(), true); err != nil {
		db.Close()
		lock.Release()
		return nil, err
	}

	return &session{
		root: root, sdID: sdID, sdRoot: sdRoot, profileID: profileID, instanceID: instanceID,
		lock: lock, db: db, fs: fs,
		docs: docs, activity: activity, deletion: deletion,
		actLogger: actLogger, delLogger: delLogger,
		packer: packer, snap: snap, gc: gc, cfg: cfg,
		diag: diag,
	}, nil
}

func (s *session) close() {
	if s.db != nil {
		s.db.Close()
	}
	s.lock.Release()
}

func loadOrCreateManifest(root string) (profileManifest, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return profileManifest{}, err
	}
	p := filepath.Join(root, manifestFile)
	data, err := os.ReadFile(p)
	if err == nil {
		var m profileManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return profileManifest{}, err
		}
		return m, nil
	}
	if !os.IsNotExist(err) {
		return profileManifest{}, err
	}

	m := profileManifest{
		ProfileID:  ids.New().String(),
		InstanceID: ids.New().String(),
		SDID:       ids.New().String(),
		SDName:     "primary",
	}
	data, err = json.MarshalIndent(m, "", "  ")
	if err != nil {
		return profileManifest{}, err
	}
	if err := os.WriteFile(p, data, 0o640); err != nil {
		return profileManifest{}, err
	}
	return m, nil
}

// createBackup writes a backup bundle for this profile's single
// storage directory to destPath on the native filesystem.
func (s *session) createBackup(destPath string) (backup.Manifest, error) {
	return backup.CreateBackupAtomic(s.fs, s.sdRoot, destPath, s.sdID, "primary", s.instanceID, time.Now().UnixMilli())
}

func (s *session) restoreBackup(bundlePath string, mode backup.Mode) (backup.RestoreResult, error) {
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return backup.RestoreResult{}, err
	}
	newID := ids.Zero
	if mode == backup.ModeNew {
		newID = ids.New()
	}
	return backup.RestoreFromBytes(s.fs, data, s.sdRoot, mode, newID)
}
