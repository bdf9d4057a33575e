// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ldmtest synthesizes LDM disk images in memory, for tests.
package ldmtest

import (
	"fmt"

	"github.com/google/uuid"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmdisk"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/vblk"
)

// Record type bytes (revision<<4 | kind) written by the builder.
const (
	typeVolume    = 0x51
	typeComponent = 0x32
	typePartition = 0x33
	typeDisk      = 0x44
	typeDiskGroup = 0x45
)

// DiskFixture is one member disk of a Builder's group.
type DiskFixture struct {
	ID       ldmprim.ObjID
	Name     string
	GUID     uuid.UUID
	DataSize ldmprim.SectorCount

	// Scheme defaults to ldmdisk.SchemeMBR.
	Scheme ldmdisk.Scheme
}

// Builder accumulates the records of one disk group.  Every image it
// produces carries the whole group database, as real member disks
// do.
type Builder struct {
	Name         string
	GUID         uuid.UUID
	CommittedSeq uint64
	SectorSize   int64
	// SlotSize is the VBLK slot size; records that do not fit are
	// split into fragments.
	SlotSize int

	// Extra records are appended to the database verbatim, after
	// the ones built by the Add* methods.
	Extra [][]byte

	nextID     ldmprim.ObjID
	groupID    ldmprim.ObjID
	disks      []*DiskFixture
	volumes    []*vblk.Volume
	components []*vblk.Component
	partitions []*vblk.Partition
}

func NewBuilder(name string) *Builder {
	b := &Builder{
		Name:         name,
		GUID:         uuid.New(),
		CommittedSeq: 10,
		SectorSize:   512,
		SlotSize:     128,
		nextID:       1,
	}
	b.groupID = b.id()
	return b
}

func (b *Builder) id() ldmprim.ObjID {
	ret := b.nextID
	b.nextID++
	return ret
}

func (b *Builder) AddDisk(name string, dataSize ldmprim.SectorCount) *DiskFixture {
	d := &DiskFixture{
		ID:       b.id(),
		Name:     name,
		GUID:     uuid.New(),
		DataSize: dataSize,
		Scheme:   ldmdisk.SchemeMBR,
	}
	b.disks = append(b.disks, d)
	return d
}

// AddVolume adds a volume of the given type ("gen" or "raid5").
func (b *Builder) AddVolume(name, typ string, size ldmprim.SectorCount) *vblk.Volume {
	vol := &vblk.Volume{
		Object: vblk.Object{
			Header: vblk.Header{Type: typeVolume},
			ID:     b.id(),
			Name:   name,
		},
		VolumeType:   typ,
		Unknown:      "",
		VolumeNumber: uint8(len(b.volumes) + 1),
		CommitID:     b.CommittedSeq,
		Size:         size,
		PartType:     0x07,
		GUID:         uuid.New(),
	}
	copy(vol.State[:], "ACTIVE")
	b.volumes = append(b.volumes, vol)
	return vol
}

// SetHint sets the drive hint of a volume.
func SetHint(vol *vblk.Volume, hint string) {
	vol.Header.Flags |= uint8(vblk.VolumeFlagDriveHint)
	vol.DriveHint = hint
}

// AddComponent adds a component to vol.  A non-zero stripeSize makes
// it carry stripe size and column count.
func (b *Builder) AddComponent(vol *vblk.Volume, name string, typ vblk.ComponentType, stripeSize ldmprim.SectorCount, nColumns uint64) *vblk.Component {
	comp := &vblk.Component{
		Object: vblk.Object{
			Header: vblk.Header{Type: typeComponent},
			ID:     b.id(),
			Name:   name,
		},
		State:    "ACTIVE",
		Type:     typ,
		CommitID: b.CommittedSeq,
		VolumeID: vol.ID,
	}
	if stripeSize > 0 {
		comp.Header.Flags |= vblk.ComponentFlagStripe
		comp.StripeSize = stripeSize
		comp.NColumns = nColumns
	}
	b.components = append(b.components, comp)
	return comp
}

// AddPartition adds a partition of comp on disk.  start is relative
// to the disk's data area.  A negative index leaves the index field
// out of the record.
func (b *Builder) AddPartition(comp *vblk.Component, disk *DiskFixture, name string, start ldmprim.PhysicalSector, volOffset ldmprim.VolumeSector, size ldmprim.SectorCount, index int) *vblk.Partition {
	part := &vblk.Partition{
		Object: vblk.Object{
			Header: vblk.Header{Type: typePartition},
			ID:     b.id(),
			Name:   name,
		},
		CommitID:    b.CommittedSeq,
		Start:       start,
		VolOffset:   volOffset,
		Size:        size,
		ComponentID: comp.ID,
		DiskID:      disk.ID,
	}
	if index >= 0 {
		part.Header.Flags |= vblk.PartitionFlagIndex
		part.Index = uint64(index)
	}
	b.partitions = append(b.partitions, part)
	return part
}

// Records returns the group's records in the order they are written
// to the database, with child counts filled in.
func (b *Builder) Records() []vblk.Record {
	nComps := make(map[ldmprim.ObjID]uint64)
	for _, comp := range b.components {
		nComps[comp.VolumeID]++
	}
	nParts := make(map[ldmprim.ObjID]uint64)
	for _, part := range b.partitions {
		nParts[part.ComponentID]++
	}

	ret := []vblk.Record{
		&vblk.DiskGroup{
			Object: vblk.Object{
				Header: vblk.Header{Type: typeDiskGroup},
				ID:     b.groupID,
				Name:   b.Name,
			},
			GUID:     b.GUID,
			CommitID: b.CommittedSeq,
		},
	}
	for _, d := range b.disks {
		ret = append(ret, &vblk.Disk{
			Object: vblk.Object{
				Header: vblk.Header{Type: typeDisk},
				ID:     d.ID,
				Name:   d.Name,
			},
			GUID: d.GUID,
		})
	}
	for _, vol := range b.volumes {
		vol.NComponents = nComps[vol.ID]
		ret = append(ret, vol)
	}
	for _, comp := range b.components {
		comp.NParts = nParts[comp.ID]
		ret = append(ret, comp)
	}
	for _, part := range b.partitions {
		ret = append(ret, part)
	}
	return ret
}

// Image renders the disk image of one member disk.
func (b *Builder) Image(d *DiskFixture) (*Image, error) {
	var payloads [][]byte
	for _, rec := range b.Records() {
		dat, err := vblk.MarshalRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d %q: %w", rec.ObjectID(), rec.ObjectName(), err)
		}
		payloads = append(payloads, dat)
	}
	payloads = append(payloads, b.Extra...)
	return render(b, d, payloads)
}

// Images renders every member disk.
func (b *Builder) Images() ([]*Image, error) {
	ret := make([]*Image, 0, len(b.disks))
	for _, d := range b.disks {
		img, err := b.Image(d)
		if err != nil {
			return nil, err
		}
		ret = append(ret, img)
	}
	return ret, nil
}
