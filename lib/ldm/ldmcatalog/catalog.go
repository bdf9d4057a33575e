// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ldmcatalog records disk groups in a SQLite file, so that
// the layout of a set of disks can be kept after the disks are gone.
package ldmcatalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dlog"
	_ "modernc.org/sqlite"
)

// Catalog is an open catalog file.
type Catalog struct {
	conn *sql.DB
	path string
}

// Open opens or creates the catalog at path and brings its schema up
// to date.
func Open(ctx context.Context, path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("catalog %q: %w", path, err)
		}
	}
	// Pragmas in the DSN are applied to every pooled connection.
	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("catalog %q: open: %w", path, err)
	}
	cat := &Catalog{conn: conn, path: path}
	if err := cat.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("catalog %q: migrate: %w", path, err)
	}
	return cat, nil
}

func (c *Catalog) Close() error { return c.conn.Close() }
func (c *Catalog) Path() string { return c.path }

// SchemaVersion returns the newest migration applied to the file.
func (c *Catalog) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := c.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

func (c *Catalog) migrate(ctx context.Context) error {
	if _, err := c.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return err
	}
	have, err := c.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	for i, migration := range migrations {
		v := i + 1
		if v <= have {
			continue
		}
		dlog.Debugf(ctx, "catalog %q: applying schema v%d", c.path, v)
		tx, err := c.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migration); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("v%d: %w", v, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("v%d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("v%d: %w", v, err)
		}
	}
	return nil
}

var migrations = []string{
	migrationV1,
	migrationV2,
}

// migrationV1 holds the logical model.
const migrationV1 = `
CREATE TABLE disk_groups (
    guid          TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    object_id     INTEGER NOT NULL,
    committed_seq INTEGER NOT NULL,
    recorded_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE disks (
    guid            TEXT PRIMARY KEY,
    disk_group_guid TEXT NOT NULL REFERENCES disk_groups(guid) ON DELETE CASCADE,
    object_id       INTEGER NOT NULL,
    name            TEXT NOT NULL,
    device          TEXT,
    present         INTEGER NOT NULL,
    sector_size     INTEGER,
    data_start      INTEGER,
    data_size       INTEGER,
    metadata_start  INTEGER,
    metadata_size   INTEGER
);

CREATE TABLE volumes (
    disk_group_guid TEXT NOT NULL REFERENCES disk_groups(guid) ON DELETE CASCADE,
    object_id       INTEGER NOT NULL,
    guid            TEXT,
    name            TEXT NOT NULL,
    number          INTEGER,
    type            TEXT NOT NULL,
    size            INTEGER NOT NULL,
    part_type       INTEGER,
    hint            TEXT,
    PRIMARY KEY (disk_group_guid, object_id)
);

CREATE TABLE components (
    disk_group_guid TEXT NOT NULL REFERENCES disk_groups(guid) ON DELETE CASCADE,
    object_id       INTEGER NOT NULL,
    volume_id       INTEGER NOT NULL,
    name            TEXT NOT NULL,
    type            TEXT NOT NULL,
    stripe_size     INTEGER,
    n_columns       INTEGER,
    parity          TEXT,
    PRIMARY KEY (disk_group_guid, object_id)
);

CREATE TABLE partitions (
    disk_group_guid TEXT NOT NULL REFERENCES disk_groups(guid) ON DELETE CASCADE,
    object_id       INTEGER NOT NULL,
    component_id    INTEGER NOT NULL,
    disk_guid       TEXT NOT NULL,
    name            TEXT NOT NULL,
    start           INTEGER NOT NULL,
    vol_offset      INTEGER NOT NULL,
    size            INTEGER NOT NULL,
    column_index    INTEGER NOT NULL,
    PRIMARY KEY (disk_group_guid, object_id)
);

CREATE INDEX idx_partitions_disk ON partitions(disk_guid);
`

// migrationV2 adds the mapping of each volume.
const migrationV2 = `
ALTER TABLE volumes ADD COLUMN mapping_error TEXT;

CREATE TABLE mapping_targets (
    disk_group_guid TEXT NOT NULL REFERENCES disk_groups(guid) ON DELETE CASCADE,
    volume_id       INTEGER NOT NULL,
    seq             INTEGER NOT NULL,
    kind            TEXT NOT NULL,
    start_sector    INTEGER NOT NULL,
    length          INTEGER NOT NULL,
    description     TEXT NOT NULL,
    PRIMARY KEY (disk_group_guid, volume_id, seq)
);
`
