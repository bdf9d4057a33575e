// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldm

import (
	"sort"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmerr"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/vblk"
	"git.lukeshu.com/ldm-progs-ng/lib/maps"
)

// MappingTargets describes the volume as an ordered list of targets
// that cover [0, Size) exactly once.
//
// It fails with ldmerr.ErrUnsupportedLayout if the components do not
// form a known layout, and with ldmerr.ErrInconsistentExtents if the
// partitions do not add up to the volume.  Disks that are absent are
// still described; deciding what to do about them is up to the
// caller.
func (v *Volume) MappingTargets() ([]Target, error) {
	ret, err := v.mappingTargets()
	if err != nil {
		return nil, ldmerr.WithDiskGroup(ldmerr.WithVolume(err, v.Name), v.group.Name)
	}
	return ret, nil
}

func (v *Volume) mappingTargets() ([]Target, error) {
	switch len(v.components) {
	case 0:
		return nil, ldmerr.Errorf(ldmerr.ErrUnsupportedLayout, "volume has no components")
	case 1:
		return v.components[0].targets(v.Size)
	}
	if v.Type == VolumeRAID5 {
		return nil, ldmerr.Errorf(ldmerr.ErrUnsupportedLayout, "RAID-5 volume has %d components", len(v.components))
	}
	mirror := &MirrorTarget{
		Offset: 0,
		Length: v.Size,
		Legs:   make([][]Target, 0, len(v.components)),
	}
	for _, comp := range v.components {
		leg, err := comp.targets(v.Size)
		if err != nil {
			return nil, err
		}
		mirror.Legs = append(mirror.Legs, leg)
	}
	return []Target{mirror}, nil
}

func (c *Component) targets(size ldmprim.SectorCount) ([]Target, error) {
	var ret []Target
	var err error
	switch c.Type {
	case vblk.ComponentStriped:
		if c.NColumns == 1 {
			ret, err = c.linear()
		} else {
			ret, err = c.striped(false)
		}
	case vblk.ComponentSpanned:
		ret, err = c.linear()
	case vblk.ComponentRAID:
		ret, err = c.striped(true)
	default:
		err = ldmerr.Errorf(ldmerr.ErrUnsupportedLayout, "component %q has unknown type %v", c.Name, c.Type)
	}
	if err != nil {
		return nil, ldmerr.WithObject(err, c.ID)
	}
	if total := sumLengths(ret); total != size {
		return nil, ldmerr.WithObject(ldmerr.Errorf(ldmerr.ErrInconsistentExtents,
			"component %q covers %d sectors, but the volume is %d sectors", c.Name, total, size), c.ID)
	}
	return ret, nil
}

func sumLengths(targets []Target) ldmprim.SectorCount {
	var ret ldmprim.SectorCount
	for _, target := range targets {
		_, length := target.Range()
		ret += length
	}
	return ret
}

func (p *Partition) extent() Extent {
	return Extent{Disk: p.disk, Start: p.PhysicalStart()}
}

// linear concatenates the partitions in volume-offset order.
func (c *Component) linear() ([]Target, error) {
	parts := c.Partitions()
	sort.SliceStable(parts, func(i, j int) bool {
		return parts[i].VolOffset < parts[j].VolOffset
	})
	ret := make([]Target, 0, len(parts))
	var next ldmprim.VolumeSector
	for _, part := range parts {
		if part.Size == 0 {
			continue
		}
		if part.VolOffset != next {
			return nil, ldmerr.WithObject(ldmerr.Errorf(ldmerr.ErrInconsistentExtents,
				"partition %q starts at volume sector %d, expected %d", part.Name, part.VolOffset, next), part.ID)
		}
		ret = append(ret, &LinearTarget{
			Offset:  part.VolOffset,
			Length:  part.Size,
			Backing: part.extent(),
		})
		next = next.Add(part.Size)
	}
	return ret, nil
}

// striped lays the partitions out as columns: a partition belongs to
// column Index%NColumns, and the k-th partitions of all columns
// together form the k-th segment of the component.  With parity set,
// one chunk of each row is parity.
func (c *Component) striped(parity bool) ([]Target, error) {
	n := c.NColumns
	switch {
	case parity && n < 3:
		return nil, ldmerr.Errorf(ldmerr.ErrUnsupportedLayout, "RAID-5 component %q has %d columns; need at least 3", c.Name, n)
	case !parity && n < 2:
		return nil, ldmerr.Errorf(ldmerr.ErrUnsupportedLayout, "striped component %q has %d columns", c.Name, n)
	case c.StripeSize <= 0:
		return nil, ldmerr.Errorf(ldmerr.ErrUnsupportedLayout, "component %q has no stripe size", c.Name)
	case len(c.partitions)%n != 0:
		return nil, ldmerr.Errorf(ldmerr.ErrUnsupportedLayout, "component %q has %d partitions, not a multiple of %d columns",
			c.Name, len(c.partitions), n)
	}

	columns := make(map[int][]*Partition, n)
	for _, part := range c.partitions {
		col := part.Index % n
		columns[col] = append(columns[col], part)
	}
	segments := len(c.partitions) / n
	for _, col := range maps.SortedKeys(columns) {
		if len(columns[col]) != segments {
			return nil, ldmerr.Errorf(ldmerr.ErrUnsupportedLayout, "component %q column %d has %d partitions, expected %d",
				c.Name, col, len(columns[col]), segments)
		}
	}

	dataColumns := ldmprim.SectorCount(n)
	if parity {
		dataColumns--
	}
	ret := make([]Target, 0, segments)
	var offset ldmprim.VolumeSector
	for seg := 0; seg < segments; seg++ {
		extents := make([]Extent, n)
		var colLen ldmprim.SectorCount
		for col := 0; col < n; col++ {
			part := columns[col][seg]
			if col == 0 {
				colLen = part.Size
			} else if part.Size != colLen {
				return nil, ldmerr.WithObject(ldmerr.Errorf(ldmerr.ErrInconsistentExtents,
					"partition %q is %d sectors, but column 0 of the same segment is %d",
					part.Name, part.Size, colLen), part.ID)
			}
			extents[col] = part.extent()
		}
		if seg < segments-1 && colLen%c.StripeSize != 0 {
			return nil, ldmerr.Errorf(ldmerr.ErrInconsistentExtents,
				"segment %d of component %q ends mid-stripe (%d sectors per column, stripe %d)",
				seg, c.Name, colLen, c.StripeSize)
		}
		length := colLen * dataColumns
		if parity {
			ret = append(ret, &RAID5Target{
				Offset:     offset,
				Length:     length,
				StripeSize: c.StripeSize,
				Parity:     c.Parity,
				Columns:    extents,
			})
		} else {
			ret = append(ret, &StripedTarget{
				Offset:     offset,
				Length:     length,
				StripeSize: c.StripeSize,
				Columns:    extents,
			})
		}
		offset = offset.Add(length)
	}
	return ret, nil
}
