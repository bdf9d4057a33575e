// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldmdisk

import (
	"fmt"

	"github.com/google/uuid"

	"git.lukeshu.com/ldm-progs-ng/lib/binstruct"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

var privHeadMagic = [8]byte{'P', 'R', 'I', 'V', 'H', 'E', 'A', 'D'}

// PrivHead is the private header that identifies a disk as a member
// of an LDM disk group.  All sector fields count in the disk's
// logical sector size.
type PrivHead struct {
	Magic        [8]byte `bin:"off=0x0,   siz=0x8"`
	Seq          uint32  `bin:"off=0x8,   siz=0x4"`
	VersionMajor uint16  `bin:"off=0xc,   siz=0x2"`
	VersionMinor uint16  `bin:"off=0xe,   siz=0x2"`
	Timestamp    uint64  `bin:"off=0x10,  siz=0x8"`
	Unknown0     uint64  `bin:"off=0x18,  siz=0x8"`
	Unknown1     uint64  `bin:"off=0x20,  siz=0x8"`
	Unknown2     uint64  `bin:"off=0x28,  siz=0x8"`

	DiskGUID      [0x40]byte `bin:"off=0x30,  siz=0x40"`
	HostGUID      [0x40]byte `bin:"off=0x70,  siz=0x40"`
	DiskGroupGUID [0x40]byte `bin:"off=0xb0,  siz=0x40"`
	DiskGroupName [0x20]byte `bin:"off=0xf0,  siz=0x20"`

	Unknown3 uint16  `bin:"off=0x110, siz=0x2"`
	Padding  [9]byte `bin:"off=0x112, siz=0x9"`

	LogicalDiskStart uint64 `bin:"off=0x11b, siz=0x8"`
	LogicalDiskSize  uint64 `bin:"off=0x123, siz=0x8"`
	ConfigStart      uint64 `bin:"off=0x12b, siz=0x8"`
	ConfigSize       uint64 `bin:"off=0x133, siz=0x8"`
	NumTOCs          uint64 `bin:"off=0x13b, siz=0x8"`
	TOCSize          uint64 `bin:"off=0x143, siz=0x8"`
	NumConfigs       uint32 `bin:"off=0x14b, siz=0x4"`
	NumLogs          uint32 `bin:"off=0x14f, siz=0x4"`
	ConfigBytes      uint64 `bin:"off=0x153, siz=0x8"`
	LogBytes         uint64 `bin:"off=0x15b, siz=0x8"`
	DiskSignature    uint32 `bin:"off=0x163, siz=0x4"`

	DiskSetGUID  [16]byte `bin:"off=0x167, siz=0x10"`
	DiskSetGUID2 [16]byte `bin:"off=0x177, siz=0x10"`

	binstruct.End `bin:"off=0x187"`
}

func (ph PrivHead) HasMagic() bool {
	return ph.Magic == privHeadMagic
}

func (ph PrivHead) Version() string {
	return fmt.Sprintf("%d.%d", ph.VersionMajor, ph.VersionMinor)
}

func (ph PrivHead) DiskID() (uuid.UUID, error) {
	return ldmprim.ParseGUIDText(ph.DiskGUID[:])
}

func (ph PrivHead) DiskGroupID() (uuid.UUID, error) {
	return ldmprim.ParseGUIDText(ph.DiskGroupGUID[:])
}

func (ph PrivHead) Name() string {
	return ldmprim.CString(ph.DiskGroupName[:])
}

func (ph PrivHead) DataStart() ldmprim.PhysicalSector {
	return ldmprim.PhysicalSector(ph.LogicalDiskStart)
}

func (ph PrivHead) DataSize() ldmprim.SectorCount {
	return ldmprim.SectorCount(ph.LogicalDiskSize)
}

func (ph PrivHead) MetadataStart() ldmprim.PhysicalSector {
	return ldmprim.PhysicalSector(ph.ConfigStart)
}

func (ph PrivHead) MetadataSize() ldmprim.SectorCount {
	return ldmprim.SectorCount(ph.ConfigSize)
}

// validate checks the header's internal consistency.  devSectors is
// the size of the device in sectors; overlap is whether the data
// area is required to end before the metadata area, which holds for
// MBR disks but not GPT disks.
func (ph PrivHead) validate(devSectors int64, overlap bool) error {
	if ph.VersionMajor != 2 || (ph.VersionMinor != 11 && ph.VersionMinor != 12) {
		return fmt.Errorf("unsupported PRIVHEAD version %s", ph.Version())
	}
	if ph.LogicalDiskSize == 0 {
		return fmt.Errorf("PRIVHEAD logical disk size is zero")
	}
	if ph.ConfigSize == 0 {
		return fmt.Errorf("PRIVHEAD metadata size is zero")
	}
	dev := uint64(max(devSectors, 0))
	if !within(ph.LogicalDiskStart, ph.LogicalDiskSize, dev) {
		return fmt.Errorf("PRIVHEAD data area at sector %d (+%d) runs past the end of the device (%d sectors)",
			ph.LogicalDiskStart, ph.LogicalDiskSize, dev)
	}
	if !within(ph.ConfigStart, ph.ConfigSize, dev) {
		return fmt.Errorf("PRIVHEAD metadata area at sector %d (+%d) runs past the end of the device (%d sectors)",
			ph.ConfigStart, ph.ConfigSize, dev)
	}
	if overlap && !within(ph.LogicalDiskStart, ph.LogicalDiskSize, ph.ConfigStart) {
		return fmt.Errorf("PRIVHEAD data area [%d,%d) overlaps metadata area at %d",
			ph.LogicalDiskStart, ph.LogicalDiskStart+ph.LogicalDiskSize, ph.ConfigStart)
	}
	if _, err := ph.DiskID(); err != nil {
		return fmt.Errorf("PRIVHEAD disk GUID: %w", err)
	}
	if _, err := ph.DiskGroupID(); err != nil {
		return fmt.Errorf("PRIVHEAD disk group GUID: %w", err)
	}
	return nil
}

// within reports whether [start,start+size) fits in [0,limit) without
// overflowing.
func within(start, size, limit uint64) bool {
	return start <= limit && size <= limit-start
}

// agrees reports whether two copies of the header describe the same
// disk.  The sequence number and timestamp may legitimately differ.
func (ph PrivHead) agrees(other PrivHead) bool {
	return ph.DiskGUID == other.DiskGUID &&
		ph.DiskGroupGUID == other.DiskGroupGUID &&
		ph.LogicalDiskStart == other.LogicalDiskStart &&
		ph.LogicalDiskSize == other.LogicalDiskSize &&
		ph.ConfigStart == other.ConfigStart &&
		ph.ConfigSize == other.ConfigSize
}
