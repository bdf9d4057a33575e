// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ldmprim holds the primitive types shared by the layers of
// an LDM reader.
package ldmprim

// All LDM offsets and lengths are counted in sectors of the disk's
// logical sector size.
type (
	// PhysicalSector is a sector offset from the start of a
	// physical disk.
	PhysicalSector int64
	// VolumeSector is a sector offset from the start of a volume.
	VolumeSector int64
	// SectorCount is a length in sectors.
	SectorCount int64
)

func (a PhysicalSector) Add(b SectorCount) PhysicalSector { return a + PhysicalSector(b) }
func (a PhysicalSector) Sub(b PhysicalSector) SectorCount { return SectorCount(a - b) }
func (a VolumeSector) Add(b SectorCount) VolumeSector     { return a + VolumeSector(b) }
func (a VolumeSector) Sub(b VolumeSector) SectorCount     { return SectorCount(a - b) }
func (a PhysicalSector) Bytes(sectorSize int64) int64     { return int64(a) * sectorSize }
func (a SectorCount) Bytes(sectorSize int64) int64        { return int64(a) * sectorSize }
func (a VolumeSector) Bytes(sectorSize int64) int64       { return int64(a) * sectorSize }

// ObjID identifies a record within one disk group's database.
type ObjID uint64
