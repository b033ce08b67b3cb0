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
	"time"

	"github.com/docker/go-units"
)

// Config is the engine's tunable knob set (spec.md §6.4). Flat struct,
// package-level DefaultConfig constructor: the direct generalization
// of the teacher's storage.SettingsT (storage/settings.go).
type Config struct {
	PollInterval                   time.Duration
	LogRotationBytes                int64
	ActivityLogRotationBytes        int64
	SnapshotUpdatesTrigger          int
	StaleGapThreshold               int
	PackMinEntries                  int
	PackMinAgeSeconds               int64
	PackKeepUnpacked                int
	PackIntervalSeconds             int64
	SnapshotIntervalSeconds         int64
	SnapshotRetainCount             int
	PackRetentionSeconds            int64
	OrphanActivityRetentionSeconds  int64
	MoveOwnerStaleSeconds           int64
	BackupRoot                      string

	// ChunkThreshold is an unused extension point: spec.md §9 leaves
	// chunked per-note cache snapshots as an open question resolved
	// in favor of a single BLOB (see SPEC_FULL.md, cachedb package).
	// The field exists so a future chunking implementation has a
	// config slot without a schema migration.
	ChunkThreshold int64
}

// DefaultConfig mirrors spec.md §6.4's enumerated defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:                   5 * time.Second,
		LogRotationBytes:               10 * units.MiB,
		ActivityLogRotationBytes:       1 * units.MiB,
		SnapshotUpdatesTrigger:         1000,
		StaleGapThreshold:              50,
		PackMinEntries:                 100,
		PackMinAgeSeconds:              300,
		PackKeepUnpacked:               50,
		PackIntervalSeconds:            300,
		SnapshotIntervalSeconds:        1800,
		SnapshotRetainCount:            3,
		PackRetentionSeconds:           86400,
		OrphanActivityRetentionSeconds: 604800,
		MoveOwnerStaleSeconds:          300,
		BackupRoot:                     "",
	}
}

// Describe renders the byte-sized fields in human-readable form for
// diagnostics/CLI output, e.g. "10MiB" instead of "10485760".
func (c Config) Describe() map[string]string {
	return map[string]string{
		"log_rotation_bytes":          units.BytesSize(float64(c.LogRotationBytes)),
		"activity_log_rotation_bytes": units.BytesSize(float64(c.ActivityLogRotationBytes)),
	}
}
