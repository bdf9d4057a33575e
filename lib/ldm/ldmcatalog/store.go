// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldmcatalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
)

// Store records the given disk groups, replacing anything previously
// recorded for them.  It is all-or-nothing.
func (c *Catalog) Store(ctx context.Context, groups []*ldm.DiskGroup) (err error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			err = derror.MultiError{err, fmt.Errorf("rollback: %w", rbErr)}
		}
	}()
	for _, dg := range groups {
		if err := storeGroup(ctx, tx, dg); err != nil {
			return fmt.Errorf("disk group %q: %w", dg.Name, err)
		}
	}
	return tx.Commit()
}

func storeGroup(ctx context.Context, tx *sql.Tx, dg *ldm.DiskGroup) error {
	guid := dg.GUID.String()
	if _, err := tx.ExecContext(ctx, `DELETE FROM disk_groups WHERE guid = ?`, guid); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO disk_groups (guid, name, object_id, committed_seq) VALUES (?, ?, ?, ?)`,
		guid, dg.Name, int64(dg.ID), int64(dg.CommittedSeq)); err != nil {
		return err
	}

	for _, disk := range dg.Disks() {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO disks (
				guid, disk_group_guid, object_id, name, device, present,
				sector_size, data_start, data_size, metadata_start, metadata_size
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			disk.GUID.String(), guid, int64(disk.ID), disk.Name, nullString(disk.Device), disk.Present(),
			disk.SectorSize, int64(disk.DataStart), int64(disk.DataSize),
			int64(disk.MetadataStart), int64(disk.MetadataSize)); err != nil {
			return fmt.Errorf("disk %q: %w", disk.Name, err)
		}
	}

	for _, vol := range dg.Volumes() {
		if err := storeVolume(ctx, tx, guid, vol); err != nil {
			return fmt.Errorf("volume %q: %w", vol.Name, err)
		}
	}
	return nil
}

func storeVolume(ctx context.Context, tx *sql.Tx, dgGUID string, vol *ldm.Volume) error {
	targets, mapErr := vol.MappingTargets()
	var mapErrStr sql.NullString
	if mapErr != nil {
		dlog.Warnf(ctx, "volume %q: %v", vol.Name, mapErr)
		mapErrStr = sql.NullString{String: mapErr.Error(), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO volumes (
			disk_group_guid, object_id, guid, name, number, type, size, part_type, hint, mapping_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dgGUID, int64(vol.ID), vol.GUID.String(), vol.Name, vol.Number, vol.Type.String(),
		int64(vol.Size), vol.PartType, nullString(vol.Hint), mapErrStr); err != nil {
		return err
	}

	for _, comp := range vol.Components() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO components (
				disk_group_guid, object_id, volume_id, name, type, stripe_size, n_columns, parity
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			dgGUID, int64(comp.ID), int64(vol.ID), comp.Name, comp.Type.String(),
			int64(comp.StripeSize), comp.NColumns, nullString(string(comp.Parity))); err != nil {
			return fmt.Errorf("component %q: %w", comp.Name, err)
		}
		for _, part := range comp.Partitions() {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO partitions (
					disk_group_guid, object_id, component_id, disk_guid, name, start, vol_offset, size, column_index
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				dgGUID, int64(part.ID), int64(comp.ID), part.Disk().GUID.String(), part.Name,
				int64(part.Start), int64(part.VolOffset), int64(part.Size), part.Index); err != nil {
				return fmt.Errorf("partition %q: %w", part.Name, err)
			}
		}
	}

	for i, target := range targets {
		off, length := target.Range()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mapping_targets (
				disk_group_guid, volume_id, seq, kind, start_sector, length, description
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			dgGUID, int64(vol.ID), i, targetKind(target), int64(off), int64(length),
			fmt.Sprint(target)); err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
	}
	return nil
}

func targetKind(target ldm.Target) string {
	switch target.(type) {
	case *ldm.LinearTarget:
		return "linear"
	case *ldm.StripedTarget:
		return "striped"
	case *ldm.MirrorTarget:
		return "mirror"
	case *ldm.RAID5Target:
		return "raid5"
	default:
		return fmt.Sprintf("%T", target)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// VolumeRow is a volume as recorded in the catalog.
type VolumeRow struct {
	DiskGroup    string
	Name         string
	Type         string
	Size         int64
	Hint         string
	MappingError string
	Targets      int
	Disks        []string
}

// Volumes lists every recorded volume, ordered by disk group name
// then volume number.
func (c *Catalog) Volumes(ctx context.Context) ([]VolumeRow, error) {
	rows, err := c.conn.QueryContext(ctx, `
		SELECT g.guid, g.name, v.object_id, v.name, v.type, v.size,
		       COALESCE(v.hint, ''), COALESCE(v.mapping_error, ''),
		       (SELECT COUNT(*) FROM mapping_targets t
		        WHERE t.disk_group_guid = v.disk_group_guid AND t.volume_id = v.object_id)
		FROM volumes v JOIN disk_groups g ON g.guid = v.disk_group_guid
		ORDER BY g.name, v.number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type key struct {
		dg  string
		vol int64
	}
	var keys []key
	var ret []VolumeRow
	for rows.Next() {
		var k key
		var row VolumeRow
		if err := rows.Scan(&k.dg, &row.DiskGroup, &k.vol, &row.Name, &row.Type, &row.Size,
			&row.Hint, &row.MappingError, &row.Targets); err != nil {
			return nil, err
		}
		keys = append(keys, k)
		ret = append(ret, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, k := range keys {
		disks, err := c.volumeDisks(ctx, k.dg, k.vol)
		if err != nil {
			return nil, err
		}
		ret[i].Disks = disks
	}
	return ret, nil
}

func (c *Catalog) volumeDisks(ctx context.Context, dgGUID string, volID int64) ([]string, error) {
	rows, err := c.conn.QueryContext(ctx, `
		SELECT DISTINCT d.name
		FROM partitions p
		JOIN components c ON c.disk_group_guid = p.disk_group_guid AND c.object_id = p.component_id
		JOIN disks d ON d.guid = p.disk_guid
		WHERE p.disk_group_guid = ? AND c.volume_id = ?
		ORDER BY d.name`, dgGUID, volID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		ret = append(ret, name)
	}
	return ret, rows.Err()
}
