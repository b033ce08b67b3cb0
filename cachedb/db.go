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

// Package cachedb is the Cache Database (C12): a relational local
// mirror of CRDT-derived state (spec.md §4.12), backed by
// modernc.org/sqlite. It is never authoritative — every row here can
// be re-derived from the on-disk CRDT logs/snapshots it mirrors — but
// it lets the UI list notes, search, and resolve folder membership
// without running a cold-load replay on every query.
//
// The teacher's own relational layer (storage/database.go,
// storage/table.go) is a hand-rolled engine because it *is* the
// product; here the cache is a side table, so an embedded SQL driver
// is the idiomatic choice instead of reinventing one.
package cachedb

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inkwell/noteengine/engineerr"
	"github.com/inkwell/noteengine/enginelog"
)

const schemaVersion = 1

// DB wraps the underlying *sql.DB with the schema this package owns.
type DB struct {
	sql *sql.DB
	log *enginelog.Logger
}

// Open opens (creating if absent) the SQLite database at path and
// brings its schema up to date. A database written by a newer schema
// version than this build understands fails with
// engineerr.ErrSchemaTooNew rather than risking a destructive
// downgrade (spec.md §4.12's schema-version field requirement).
func Open(path string, log *enginelog.Logger) (*DB, error) {
	if log == nil {
		log = enginelog.Default()
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.IoError, "cachedb: open "+path, err)
	}
	// The cache DB is a single shared-filesystem SQLite file accessed
	// by one process at a time (the profile lock in spec.md §5
	// enforces that); a single connection avoids SQLITE_BUSY noise
	// from modernc.org/sqlite's own internal pooling.
	sqlDB.SetMaxOpenConns(1)

	d := &DB{sql: sqlDB, log: log.With(enginelog.Fields{"component": "cachedb"})}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	if _, err := d.sql.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (
		id INTEGER PRIMARY KEY CHECK (id = 0),
		version INTEGER NOT NULL
	)`); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: create schema_meta", err)
	}

	var version int
	err := d.sql.QueryRow(`SELECT version FROM schema_meta WHERE id = 0`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		version = 0
	case err != nil:
		return engineerr.Wrap(engineerr.IoError, "cachedb: read schema version", err)
	}

	if version > schemaVersion {
		return engineerr.ErrSchemaTooNew
	}
	if version == schemaVersion {
		return nil
	}

	// migration_lock only exists once schema version 0 has been
	// applied; a fresh database acquires it right after creating the
	// table below. A lock row surviving into the next Open call means
	// a previous migration crashed mid-way — spec.md §7 treats one
	// older than an hour as stale and diagnostics-removable, but
	// migration itself always proceeds regardless of the lock's age,
	// since the schema_meta version is the real source of truth for
	// what's left to apply.
	haveLockTable := version > 0
	if haveLockTable {
		if _, err := d.sql.Exec(`INSERT INTO migration_lock (id, acquired_at) VALUES (0, ?)
			ON CONFLICT (id) DO UPDATE SET acquired_at = excluded.acquired_at`, time.Now().UnixMilli()); err != nil {
			return engineerr.Wrap(engineerr.IoError, "cachedb: acquire migration lock", err)
		}
	}

	for v := version; v < schemaVersion; v++ {
		stmt, ok := migrations[v]
		if !ok {
			return engineerr.CorruptAt(fmt.Sprintf("schema_meta:%d", v), "no migration registered for this schema version")
		}
		if _, err := d.sql.Exec(stmt); err != nil {
			return engineerr.Wrap(engineerr.IoError, fmt.Sprintf("cachedb: apply migration %d", v+1), err)
		}
		if !haveLockTable {
			// Migration 0 just created migration_lock.
			if _, err := d.sql.Exec(`INSERT INTO migration_lock (id, acquired_at) VALUES (0, ?)
				ON CONFLICT (id) DO UPDATE SET acquired_at = excluded.acquired_at`, time.Now().UnixMilli()); err != nil {
				return engineerr.Wrap(engineerr.IoError, "cachedb: acquire migration lock", err)
			}
			haveLockTable = true
		}
	}

	if _, err := d.sql.Exec(`INSERT INTO schema_meta (id, version) VALUES (0, ?)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version`, schemaVersion); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: record schema version", err)
	}
	if _, err := d.sql.Exec(`DELETE FROM migration_lock WHERE id = 0`); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: release migration lock", err)
	}
	d.log.Infof("schema at version %d", schemaVersion)
	return nil
}

// MigrationLockAge reports how long (in seconds) the migration_lock
// row has been held, for a diagnostics pass to judge staleness (spec.md
// §7: older than an hour is stale and removable).
func (d *DB) MigrationLockAge(nowMillis int64) (ageSeconds int64, present bool, err error) {
	var acquiredAt int64
	row := d.sql.QueryRow(`SELECT acquired_at FROM migration_lock WHERE id = 0`)
	if err := row.Scan(&acquiredAt); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, engineerr.Wrap(engineerr.IoError, "cachedb: read migration lock", err)
	}
	return (nowMillis - acquiredAt) / 1000, true, nil
}

// ClearMigrationLock removes a stale migration_lock row. Only
// meaningful after a crash mid-migration; a schema already at
// schemaVersion has no real lock to clear.
func (d *DB) ClearMigrationLock() error {
	if _, err := d.sql.Exec(`DELETE FROM migration_lock WHERE id = 0`); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: clear migration lock", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and
// rolling back on any error fn returns — the short-transaction
// discipline spec.md §5 asks for ("long operations use short
// transactions to avoid starving writers").
func (d *DB) withTx(fn func(*sql.Tx) error) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: begin tx", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return engineerr.Wrap(engineerr.IoError, "cachedb: commit tx", err)
	}
	return nil
}
