// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldm

import (
	"fmt"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

// Target maps the volume range [Offset, Offset+Length) onto one or
// more disks.  The concrete types are *LinearTarget, *StripedTarget,
// *MirrorTarget, and *RAID5Target.
type Target interface {
	isTarget()
	Range() (ldmprim.VolumeSector, ldmprim.SectorCount)
}

// Extent is a position on a disk.  Start counts from the start of
// the disk, not its data area.
type Extent struct {
	Disk  *Disk
	Start ldmprim.PhysicalSector
}

func (e Extent) String() string {
	return fmt.Sprintf("%s@%d", e.Disk.Name, e.Start)
}

type LinearTarget struct {
	Offset  ldmprim.VolumeSector
	Length  ldmprim.SectorCount
	Backing Extent
}

// StripedTarget spreads its range over len(Columns) disks, StripeSize
// sectors at a time, each column holding Length/len(Columns) sectors.
type StripedTarget struct {
	Offset     ldmprim.VolumeSector
	Length     ldmprim.SectorCount
	StripeSize ldmprim.SectorCount
	Columns    []Extent
}

// MirrorTarget holds the same data on every leg.  Each leg is a list
// of targets covering exactly the MirrorTarget's range.
type MirrorTarget struct {
	Offset ldmprim.VolumeSector
	Length ldmprim.SectorCount
	Legs   [][]Target
}

// RAID5Target is like StripedTarget, but each row of chunks holds one
// parity chunk, placed according to Parity.  Each column holds
// Length/(len(Columns)-1) sectors.
type RAID5Target struct {
	Offset     ldmprim.VolumeSector
	Length     ldmprim.SectorCount
	StripeSize ldmprim.SectorCount
	Parity     ParityLayout
	Columns    []Extent
}

func (*LinearTarget) isTarget()  {}
func (*StripedTarget) isTarget() {}
func (*MirrorTarget) isTarget()  {}
func (*RAID5Target) isTarget()   {}

func (t *LinearTarget) Range() (ldmprim.VolumeSector, ldmprim.SectorCount)  { return t.Offset, t.Length }
func (t *StripedTarget) Range() (ldmprim.VolumeSector, ldmprim.SectorCount) { return t.Offset, t.Length }
func (t *MirrorTarget) Range() (ldmprim.VolumeSector, ldmprim.SectorCount)  { return t.Offset, t.Length }
func (t *RAID5Target) Range() (ldmprim.VolumeSector, ldmprim.SectorCount)   { return t.Offset, t.Length }

// ColumnLength is the number of sectors each column contributes.
func (t *StripedTarget) ColumnLength() ldmprim.SectorCount {
	return t.Length / ldmprim.SectorCount(len(t.Columns))
}

// ColumnLength is the number of sectors each column contributes,
// parity included.
func (t *RAID5Target) ColumnLength() ldmprim.SectorCount {
	return t.Length / ldmprim.SectorCount(len(t.Columns)-1)
}

func (t *LinearTarget) String() string {
	return fmt.Sprintf("%d+%d linear %v", t.Offset, t.Length, t.Backing)
}

func (t *StripedTarget) String() string {
	return fmt.Sprintf("%d+%d striped stripe=%d %v", t.Offset, t.Length, t.StripeSize, t.Columns)
}

func (t *MirrorTarget) String() string {
	return fmt.Sprintf("%d+%d mirror legs=%v", t.Offset, t.Length, t.Legs)
}

func (t *RAID5Target) String() string {
	return fmt.Sprintf("%d+%d raid5 stripe=%d parity=%v %v", t.Offset, t.Length, t.StripeSize, t.Parity, t.Columns)
}

// Disks returns every disk a target reads from, in column or leg
// order, without duplicates.
func Disks(targets []Target) []*Disk {
	var ret []*Disk
	seen := make(map[*Disk]bool)
	add := func(d *Disk) {
		if !seen[d] {
			seen[d] = true
			ret = append(ret, d)
		}
	}
	var walk func([]Target)
	walk = func(targets []Target) {
		for _, target := range targets {
			switch target := target.(type) {
			case *LinearTarget:
				add(target.Backing.Disk)
			case *StripedTarget:
				for _, col := range target.Columns {
					add(col.Disk)
				}
			case *RAID5Target:
				for _, col := range target.Columns {
					add(col.Disk)
				}
			case *MirrorTarget:
				for _, leg := range target.Legs {
					walk(leg)
				}
			}
		}
	}
	walk(targets)
	return ret
}
