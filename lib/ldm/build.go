// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldm

import (
	"context"
	"fmt"
	"sort"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmerr"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/vblk"
	"git.lukeshu.com/ldm-progs-ng/lib/maps"
)

// DiskGroups links the records gathered so far into disk groups,
// ordered by name then GUID.
//
// A group that references a record that no added device has
// supplied, or (unless Config.AllowDegraded) a member disk that has
// not been added, fails with ldmerr.ErrIncompleteDiskGroup.  The
// groups that could be built are returned alongside the error
// describing the ones that could not.
func (s *Session) DiskGroups(ctx context.Context) ([]*DiskGroup, error) {
	states := make([]*groupState, 0, len(s.groups))
	for _, group := range s.groups {
		states = append(states, group)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].name != states[j].name {
			return states[i].name < states[j].name
		}
		return states[i].guid.String() < states[j].guid.String()
	})

	var (
		ret  []*DiskGroup
		errs []error
	)
	for _, state := range states {
		ctx := dlog.WithField(ctx, "ldm.dg", state.name)
		dg, err := s.build(ctx, state)
		if err != nil {
			errs = append(errs, ldmerr.WithDiskGroup(err, state.name))
			continue
		}
		ret = append(ret, dg)
	}
	return ret, ldmerr.Combine(errs)
}

// recordsByKind splits a group's records by type, each list in
// object id order.
type recordsByKind struct {
	group      *vblk.DiskGroup
	disks      []*vblk.Disk
	volumes    []*vblk.Volume
	components []*vblk.Component
	partitions []*vblk.Partition
}

func (state *groupState) split() recordsByKind {
	var ret recordsByKind
	for _, rec := range maps.SortedValues(state.records) {
		switch rec := rec.(type) {
		case *vblk.DiskGroup:
			if rec.GUID == state.guid || ret.group == nil {
				ret.group = rec
			}
		case *vblk.Disk:
			ret.disks = append(ret.disks, rec)
		case *vblk.Volume:
			ret.volumes = append(ret.volumes, rec)
		case *vblk.Component:
			ret.components = append(ret.components, rec)
		case *vblk.Partition:
			ret.partitions = append(ret.partitions, rec)
		}
	}
	return ret
}

func (s *Session) build(ctx context.Context, state *groupState) (*DiskGroup, error) {
	recs := state.split()
	dg := &DiskGroup{
		GUID:         state.guid,
		Name:         state.name,
		CommittedSeq: state.committedSeq,
	}
	if recs.group != nil {
		dg.ID = recs.group.ID
	}

	var missing []string
	disks := make(map[ldmprim.ObjID]*Disk, len(recs.disks))
	for _, rec := range recs.disks {
		disk := &Disk{
			ID:   rec.ID,
			Name: rec.Name,
			GUID: rec.GUID,
		}
		if dev, ok := s.devices[rec.GUID]; ok {
			disk.Device = dev.File.Name()
			disk.SectorSize = dev.Region.SectorSize
			disk.DataStart = dev.Region.DataStart
			disk.DataSize = dev.Region.DataSize
			disk.MetadataStart = dev.Region.MetadataStart
			disk.MetadataSize = dev.Region.MetadataSize
			disk.file = dev.File
		} else {
			missing = append(missing, fmt.Sprintf("%s (%v)", rec.Name, rec.GUID))
		}
		disks[rec.ID] = disk
		dg.disks = append(dg.disks, disk)
	}

	var unresolved []error
	volumes := make(map[ldmprim.ObjID]*Volume, len(recs.volumes))
	for _, rec := range recs.volumes {
		vol := &Volume{
			ID:       rec.ID,
			Name:     rec.Name,
			Size:     rec.Size,
			PartType: rec.PartType,
			Hint:     rec.DriveHint,
			GUID:     rec.GUID,
			Number:   rec.VolumeNumber,
			group:    dg,
		}
		volumes[rec.ID] = vol
		dg.volumes = append(dg.volumes, vol)
	}
	sort.SliceStable(dg.volumes, func(i, j int) bool {
		return dg.volumes[i].Number < dg.volumes[j].Number
	})

	components := make(map[ldmprim.ObjID]*Component, len(recs.components))
	for _, rec := range recs.components {
		vol, ok := volumes[rec.VolumeID]
		if !ok {
			dlog.Warnf(ctx, "ignoring component %d %q: volume %d has no record", rec.ID, rec.Name, rec.VolumeID)
			continue
		}
		comp := &Component{
			ID:         rec.ID,
			Name:       rec.Name,
			Type:       rec.Type,
			StripeSize: rec.StripeSize,
			NColumns:   int(rec.NColumns),
			volume:     vol,
		}
		if comp.NColumns < 1 {
			comp.NColumns = 1
		}
		if comp.Type == vblk.ComponentRAID {
			comp.Parity = s.cfg.parity()
		}
		components[rec.ID] = comp
		vol.components = append(vol.components, comp)
	}

	hasIndex := make(map[ldmprim.ObjID]bool)
	for _, rec := range recs.partitions {
		comp, ok := components[rec.ComponentID]
		if !ok {
			dlog.Warnf(ctx, "ignoring partition %d %q: component %d has no record", rec.ID, rec.Name, rec.ComponentID)
			continue
		}
		disk, ok := disks[rec.DiskID]
		if !ok {
			unresolved = append(unresolved, ldmerr.WithVolume(ldmerr.WithObject(
				ldmerr.Errorf(ldmerr.ErrIncompleteDiskGroup, "partition %q references disk %d, which has no record",
					rec.Name, rec.DiskID),
				rec.ID), comp.volume.Name))
			continue
		}
		comp.partitions = append(comp.partitions, &Partition{
			ID:        rec.ID,
			Name:      rec.Name,
			Start:     rec.Start,
			VolOffset: rec.VolOffset,
			Size:      rec.Size,
			Index:     int(rec.Index),
			component: comp,
			disk:      disk,
		})
		if rec.HasIndex() {
			hasIndex[comp.ID] = true
		}
	}

	for _, rec := range recs.volumes {
		vol := volumes[rec.ID]
		if n := uint64(len(vol.components)); n != rec.NComponents {
			unresolved = append(unresolved, ldmerr.WithVolume(ldmerr.Errorf(ldmerr.ErrIncompleteDiskGroup,
				"volume has %d of %d component records", n, rec.NComponents), vol.Name))
		}
		for _, comp := range vol.components {
			sortPartitions(comp, hasIndex[comp.ID])
		}
		vol.Type = volumeType(rec, vol)
	}
	for _, rec := range recs.components {
		comp, ok := components[rec.ID]
		if !ok {
			continue
		}
		if n := uint64(len(comp.partitions)); n != rec.NParts {
			unresolved = append(unresolved, ldmerr.WithVolume(ldmerr.WithObject(ldmerr.Errorf(ldmerr.ErrIncompleteDiskGroup,
				"component %q has %d of %d partition records", comp.Name, n, rec.NParts),
				comp.ID), comp.volume.Name))
		}
	}

	if len(unresolved) > 0 {
		return nil, ldmerr.Combine(unresolved)
	}
	if len(missing) > 0 {
		if !s.cfg.AllowDegraded {
			return nil, ldmerr.Errorf(ldmerr.ErrIncompleteDiskGroup, "missing disks: %v", missing)
		}
		dlog.Warnf(ctx, "continuing without disks: %v", missing)
	}
	return dg, nil
}

// sortPartitions orders a component's partitions by column index
// then volume offset.  If none of them record an index, their order
// by volume offset is used as the index.
func sortPartitions(comp *Component, hasIndex bool) {
	parts := comp.partitions
	if !hasIndex {
		sort.SliceStable(parts, func(i, j int) bool {
			return parts[i].VolOffset < parts[j].VolOffset
		})
		for i, part := range parts {
			part.Index = i
		}
		return
	}
	sort.SliceStable(parts, func(i, j int) bool {
		if parts[i].Index != parts[j].Index {
			return parts[i].Index < parts[j].Index
		}
		return parts[i].VolOffset < parts[j].VolOffset
	})
}

func volumeType(rec *vblk.Volume, vol *Volume) VolumeType {
	if rec.VolumeType == "raid5" {
		return VolumeRAID5
	}
	if len(vol.components) > 1 {
		return VolumeMirrored
	}
	if len(vol.components) == 0 {
		return VolumeUnknown
	}
	comp := vol.components[0]
	switch comp.Type {
	case vblk.ComponentStriped:
		return VolumeStriped
	case vblk.ComponentSpanned:
		if len(comp.partitions) == 1 {
			return VolumeSimple
		}
		return VolumeSpanned
	case vblk.ComponentRAID:
		return VolumeRAID5
	default:
		return VolumeUnknown
	}
}
