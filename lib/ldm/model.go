// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldm

import (
	"fmt"

	"github.com/google/uuid"

	"git.lukeshu.com/ldm-progs-ng/lib/diskio"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/vblk"
)

// The objects below are built by Session.DiskGroups and never
// modified afterward, so they may be shared between goroutines.
// Returned slices are copies.

type VolumeType int

const (
	VolumeUnknown VolumeType = iota
	VolumeSimple
	VolumeSpanned
	VolumeStriped
	VolumeMirrored
	VolumeRAID5
)

var volumeTypeNames = []string{
	VolumeUnknown:  "unknown",
	VolumeSimple:   "simple",
	VolumeSpanned:  "spanned",
	VolumeStriped:  "striped",
	VolumeMirrored: "mirrored",
	VolumeRAID5:    "raid5",
}

func (t VolumeType) String() string {
	if t >= 0 && int(t) < len(volumeTypeNames) {
		return volumeTypeNames[t]
	}
	return fmt.Sprintf("VolumeType(%d)", int(t))
}

func (t VolumeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

type ComponentType = vblk.ComponentType

type DiskGroup struct {
	GUID         uuid.UUID
	Name         string
	ID           ldmprim.ObjID
	CommittedSeq uint64

	volumes []*Volume
	disks   []*Disk
}

// Volumes returns the group's volumes in volume-number order.
func (dg *DiskGroup) Volumes() []*Volume {
	return append([]*Volume(nil), dg.volumes...)
}

// Disks returns the member disks of the group, in record order.
func (dg *DiskGroup) Disks() []*Disk {
	return append([]*Disk(nil), dg.disks...)
}

func (dg *DiskGroup) Volume(name string) (*Volume, bool) {
	for _, vol := range dg.volumes {
		if vol.Name == name {
			return vol, true
		}
	}
	return nil, false
}

// Complete reports whether every member disk is present.
func (dg *DiskGroup) Complete() bool {
	for _, disk := range dg.disks {
		if !disk.Present() {
			return false
		}
	}
	return true
}

type Volume struct {
	ID       ldmprim.ObjID
	Name     string
	Type     VolumeType
	Size     ldmprim.SectorCount
	PartType uint8
	// Hint is the drive letter or mount point Windows last gave
	// the volume.
	Hint   string
	GUID   uuid.UUID
	Number uint8

	group      *DiskGroup
	components []*Component
}

func (v *Volume) DiskGroup() *DiskGroup { return v.group }

// Components returns the volume's components; for a mirrored volume
// each is one leg.
func (v *Volume) Components() []*Component {
	return append([]*Component(nil), v.components...)
}

// SectorSize is the sector size that the volume's offsets count in.
func (v *Volume) SectorSize() int64 {
	for _, comp := range v.components {
		for _, part := range comp.partitions {
			if part.disk.SectorSize > 0 {
				return part.disk.SectorSize
			}
		}
	}
	return diskio.DefaultSectorSize
}

type Component struct {
	ID   ldmprim.ObjID
	Name string
	Type ComponentType
	// StripeSize is 0 and NColumns is 1 for components that are
	// not striped.
	StripeSize ldmprim.SectorCount
	NColumns   int
	// Parity is set for RAID-5 components only.
	Parity ParityLayout

	volume     *Volume
	partitions []*Partition
}

func (c *Component) Volume() *Volume { return c.volume }

// Partitions returns the component's partitions ordered by column
// index, then by volume offset.
func (c *Component) Partitions() []*Partition {
	return append([]*Partition(nil), c.partitions...)
}

type Partition struct {
	ID   ldmprim.ObjID
	Name string
	// Start is relative to the data area of the disk.
	Start     ldmprim.PhysicalSector
	VolOffset ldmprim.VolumeSector
	Size      ldmprim.SectorCount
	// Index is the partition's position in the column rotation.
	Index int

	component *Component
	disk      *Disk
}

func (p *Partition) Component() *Component { return p.component }
func (p *Partition) Disk() *Disk           { return p.disk }

// PhysicalStart is the partition's start as a sector of the whole
// disk.
func (p *Partition) PhysicalStart() ldmprim.PhysicalSector {
	return p.disk.DataStart.Add(ldmprim.SectorCount(p.Start))
}

type Disk struct {
	ID   ldmprim.ObjID
	Name string
	GUID uuid.UUID
	// Device is the path the disk was added from; "" if absent.
	Device     string
	SectorSize int64

	DataStart     ldmprim.PhysicalSector
	DataSize      ldmprim.SectorCount
	MetadataStart ldmprim.PhysicalSector
	MetadataSize  ldmprim.SectorCount

	file diskio.File[int64]
}

// Present reports whether the disk's device was added to the
// session.  The ranges of an absent disk are zero.
func (d *Disk) Present() bool { return d.file != nil }

// File returns the device the disk was read from, or nil if absent.
// It remains owned by the Session.
func (d *Disk) File() diskio.File[int64] { return d.file }
