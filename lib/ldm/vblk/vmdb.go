// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package vblk

import (
	"fmt"

	"github.com/google/uuid"

	"git.lukeshu.com/ldm-progs-ng/lib/binstruct"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

var vmdbMagic = [4]byte{'V', 'M', 'D', 'B'}

// VMDB is the header of the database area.  The VBLK slots follow
// it, each VBLKSize bytes, numbered from the start of the VMDB.
type VMDB struct {
	Magic        [4]byte `bin:"off=0x0,  siz=0x4"`
	LastSeq      uint32  `bin:"off=0x4,  siz=0x4"`
	VBLKSize     uint32  `bin:"off=0x8,  siz=0x4"`
	FirstOffset  uint32  `bin:"off=0xc,  siz=0x4"`
	UpdateStatus uint16  `bin:"off=0x10, siz=0x2"`
	VersionMajor uint16  `bin:"off=0x12, siz=0x2"`
	VersionMinor uint16  `bin:"off=0x14, siz=0x2"`

	DiskGroupName [31]byte   `bin:"off=0x16, siz=0x1f"`
	DiskGroupGUID [0x40]byte `bin:"off=0x35, siz=0x40"`

	CommittedSeq uint64 `bin:"off=0x75, siz=0x8"`
	PendingSeq   uint64 `bin:"off=0x7d, siz=0x8"`

	CommittedVolumes    uint32   `bin:"off=0x85, siz=0x4"`
	CommittedComponents uint32   `bin:"off=0x89, siz=0x4"`
	CommittedPartitions uint32   `bin:"off=0x8d, siz=0x4"`
	CommittedDisks      uint32   `bin:"off=0x91, siz=0x4"`
	Padding1            [12]byte `bin:"off=0x95, siz=0xc"`
	PendingVolumes      uint32   `bin:"off=0xa1, siz=0x4"`
	PendingComponents   uint32   `bin:"off=0xa5, siz=0x4"`
	PendingPartitions   uint32   `bin:"off=0xa9, siz=0x4"`
	PendingDisks        uint32   `bin:"off=0xad, siz=0x4"`
	Padding2            [12]byte `bin:"off=0xb1, siz=0xc"`

	LastAccessed uint64 `bin:"off=0xbd, siz=0x8"`

	binstruct.End `bin:"off=0xc5"`
}

func (h VMDB) Name() string { return ldmprim.CString(h.DiskGroupName[:]) }

func (h VMDB) GUID() (uuid.UUID, error) {
	return ldmprim.ParseGUIDText(h.DiskGroupGUID[:])
}

// FirstSlot is the number of the first VBLK slot.
func (h VMDB) FirstSlot() uint32 {
	return h.FirstOffset / h.VBLKSize
}

// Validate checks the header against the size of the database area
// it was read from.
func (h VMDB) Validate(dbSize int) error {
	if h.Magic != vmdbMagic {
		return fmt.Errorf("bad VMDB magic %q", h.Magic[:])
	}
	if h.VersionMajor != 4 || h.VersionMinor != 10 {
		return fmt.Errorf("unsupported VMDB version %d.%d", h.VersionMajor, h.VersionMinor)
	}
	if h.VBLKSize <= uint32(binstruct.StaticSize(SlotHead{})) {
		return fmt.Errorf("VBLK size %d is too small", h.VBLKSize)
	}
	if h.FirstOffset < uint32(binstruct.StaticSize(VMDB{})) || h.FirstOffset%h.VBLKSize != 0 {
		return fmt.Errorf("first VBLK offset %d is not a slot boundary past the header (slot size %d)",
			h.FirstOffset, h.VBLKSize)
	}
	if end := uint64(h.LastSeq) * uint64(h.VBLKSize); end > uint64(dbSize) {
		return fmt.Errorf("VBLK area ends at %#x, past the end of the database (%#x)", end, dbSize)
	}
	if _, err := h.GUID(); err != nil {
		return fmt.Errorf("VMDB disk group GUID: %w", err)
	}
	return nil
}
