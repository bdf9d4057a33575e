// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldmdisk

import (
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"

	"git.lukeshu.com/ldm-progs-ng/lib/binstruct"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

var (
	gptSignature = [8]byte{'E', 'F', 'I', ' ', 'P', 'A', 'R', 'T'}

	// GPTTypeLDMMetadata is the partition type of the partition
	// holding the LDM private region on a GPT disk.
	GPTTypeLDMMetadata = uuid.MustParse("5808C8AA-7E8F-42E0-85D2-E1E90434CFB3")
	// GPTTypeLDMData is the partition type of the partition that
	// holds LDM volume data on a GPT disk.
	GPTTypeLDMData = uuid.MustParse("AF9B60A0-1431-4F62-BC68-3311714A69AD")
)

type GPTHeader struct {
	Signature      [8]byte         `bin:"off=0x0,  siz=0x8"`
	Revision       binstruct.U32le `bin:"off=0x8,  siz=0x4"`
	HeaderSize     binstruct.U32le `bin:"off=0xc,  siz=0x4"`
	HeaderCRC32    binstruct.U32le `bin:"off=0x10, siz=0x4"`
	Reserved       binstruct.U32le `bin:"off=0x14, siz=0x4"`
	MyLBA          binstruct.U64le `bin:"off=0x18, siz=0x8"`
	AlternateLBA   binstruct.U64le `bin:"off=0x20, siz=0x8"`
	FirstUsableLBA binstruct.U64le `bin:"off=0x28, siz=0x8"`
	LastUsableLBA  binstruct.U64le `bin:"off=0x30, siz=0x8"`
	DiskGUID       [16]byte        `bin:"off=0x38, siz=0x10"`
	EntriesLBA     binstruct.U64le `bin:"off=0x48, siz=0x8"`
	NumEntries     binstruct.U32le `bin:"off=0x50, siz=0x4"`
	EntrySize      binstruct.U32le `bin:"off=0x54, siz=0x4"`
	EntriesCRC32   binstruct.U32le `bin:"off=0x58, siz=0x4"`

	binstruct.End `bin:"off=0x5c"`
}

type GPTEntry struct {
	TypeGUID   [16]byte        `bin:"off=0x0,  siz=0x10"`
	PartGUID   [16]byte        `bin:"off=0x10, siz=0x10"`
	FirstLBA   binstruct.U64le `bin:"off=0x20, siz=0x8"`
	LastLBA    binstruct.U64le `bin:"off=0x28, siz=0x8"`
	Attributes binstruct.U64le `bin:"off=0x30, siz=0x8"`
	Name       [72]byte        `bin:"off=0x38, siz=0x48"`

	binstruct.End `bin:"off=0x80"`
}

func (e GPTEntry) Type() uuid.UUID {
	return ldmprim.GUIDFromMixedEndian(e.TypeGUID)
}

// gptHeaderCRC computes the header checksum over the first
// HeaderSize bytes of sector, with the checksum field zeroed.
func gptHeaderCRC(sector []byte, headerSize uint32) (uint32, error) {
	if headerSize < 0x5c || int(headerSize) > len(sector) {
		return 0, fmt.Errorf("GPT header size %d out of range", headerSize)
	}
	tmp := make([]byte, headerSize)
	copy(tmp, sector[:headerSize])
	for i := 0x10; i < 0x14; i++ {
		tmp[i] = 0
	}
	return crc32.ChecksumIEEE(tmp), nil
}

// maxGPTEntryBytes bounds the partition entry array.  The UEFI
// minimum is 16 KiB; nothing real comes near this.
const maxGPTEntryBytes = 1 << 20

// checkGPTHeader validates the header read from headerSector against
// its checksum, and checks that its entry array is of a plausible
// size and lies within a device of devSize bytes.
func checkGPTHeader(header GPTHeader, headerSector []byte, sectorSize, devSize int64) error {
	sum, err := gptHeaderCRC(headerSector, uint32(header.HeaderSize))
	if err != nil {
		return err
	}
	if sum != uint32(header.HeaderCRC32) {
		return fmt.Errorf("GPT header checksum mismatch: stored=%#08x computed=%#08x",
			uint32(header.HeaderCRC32), sum)
	}
	entrySize := uint64(header.EntrySize)
	if entrySize < 0x80 || entrySize%0x80 != 0 || entrySize > uint64(sectorSize) {
		return fmt.Errorf("GPT entry size %#x is not a multiple of 0x80 within one sector", entrySize)
	}
	arrayBytes := uint64(header.NumEntries) * entrySize
	if arrayBytes == 0 || arrayBytes > maxGPTEntryBytes {
		return fmt.Errorf("GPT entry array of %dx%#x bytes is implausible", uint32(header.NumEntries), entrySize)
	}
	devSectors := uint64(max(devSize, 0) / sectorSize)
	if lba := uint64(header.EntriesLBA); lba > devSectors || arrayBytes > (devSectors-lba)*uint64(sectorSize) {
		return fmt.Errorf("GPT entry array at LBA %d runs past the end of the device", lba)
	}
	return nil
}

// findGPTEntry checks the entry array of an already-validated header
// and returns the first entry of the given type.
func findGPTEntry(header GPTHeader, entries []byte, typ uuid.UUID) (GPTEntry, bool, error) {
	if sum := crc32.ChecksumIEEE(entries); sum != uint32(header.EntriesCRC32) {
		return GPTEntry{}, false, fmt.Errorf("GPT entry array checksum mismatch: stored=%#08x computed=%#08x",
			uint32(header.EntriesCRC32), sum)
	}
	entrySize := int(header.EntrySize)
	for i := 0; i < int(header.NumEntries); i++ {
		var entry GPTEntry
		if _, err := binstruct.Unmarshal(entries[i*entrySize:], &entry); err != nil {
			return GPTEntry{}, false, fmt.Errorf("GPT entry %d: %w", i, err)
		}
		if entry.Type() == typ {
			return entry, true, nil
		}
	}
	return GPTEntry{}, false, nil
}
