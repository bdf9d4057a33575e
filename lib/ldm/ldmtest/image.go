// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldmtest

import (
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"

	"git.lukeshu.com/ldm-progs-ng/lib/binstruct"
	"git.lukeshu.com/ldm-progs-ng/lib/diskio"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmdisk"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/vblk"
)

// Geometry of the metadata region, in sectors, matching what
// Windows writes.
const (
	MetadataSize = 2048
	configStart  = 17
	configSize   = 1471
	logStart     = configStart + configSize
	logSize      = 224
	vmdbSize     = 512 // bytes before the first slot

	mbrDataStart   = 63
	gptNumEntries  = 128
	gptEntrySize   = 128
	gptHeaderBytes = 0x5c
)

// Image is a rendered disk.
type Image struct {
	Disk       *DiskFixture
	SectorSize int64
	Bytes      []byte

	PrivHeadSector ldmprim.PhysicalSector
	DataStart      ldmprim.PhysicalSector
	MetadataStart  ldmprim.PhysicalSector

	// Database is the byte offset of the VMDB.
	Database  int64
	SlotSize  int
	FirstSlot int
	NumSlots  int
}

func (img *Image) File(name string) diskio.File[int64] {
	return diskio.NewMemFile[int64](name, img.Bytes, img.SectorSize)
}

// Slot returns the bytes of VBLK slot i, for tests to corrupt.
func (img *Image) Slot(i int) []byte {
	off := img.Database + int64(i*img.SlotSize)
	return img.Bytes[off : off+int64(img.SlotSize)]
}

// DatabaseBytes returns the whole database area, VMDB first.
func (img *Image) DatabaseBytes() []byte {
	return img.Bytes[img.Database : img.Database+configSize*img.SectorSize]
}

// Data returns the data area of the disk.
func (img *Image) Data() []byte {
	off := img.DataStart.Bytes(img.SectorSize)
	return img.Bytes[off : off+img.Disk.DataSize.Bytes(img.SectorSize)]
}

func (img *Image) sector(s ldmprim.PhysicalSector) []byte {
	off := s.Bytes(img.SectorSize)
	return img.Bytes[off : off+img.SectorSize]
}

func put(dst []byte, v any) error {
	dat, err := binstruct.Marshal(v)
	if err != nil {
		return err
	}
	if len(dat) > len(dst) {
		return fmt.Errorf("%T: %d bytes do not fit in %d", v, len(dat), len(dst))
	}
	copy(dst, dat)
	return nil
}

func textGUID(id uuid.UUID) [0x40]byte {
	var ret [0x40]byte
	copy(ret[:], id.String())
	return ret
}

func render(b *Builder, d *DiskFixture, payloads [][]byte) (*Image, error) {
	ss := b.SectorSize
	img := &Image{
		Disk:       d,
		SectorSize: ss,
		SlotSize:   b.SlotSize,
		FirstSlot:  vmdbSize / b.SlotSize,
	}

	var total ldmprim.PhysicalSector
	switch d.Scheme {
	case ldmdisk.SchemeMBR, "":
		img.DataStart = mbrDataStart
		img.MetadataStart = img.DataStart.Add(d.DataSize)
		img.PrivHeadSector = 6
		total = img.MetadataStart.Add(MetadataSize)
	case ldmdisk.SchemeGPT:
		entrySectors := ldmprim.SectorCount(gptNumEntries * gptEntrySize / ss)
		img.MetadataStart = ldmprim.PhysicalSector(2).Add(entrySectors)
		img.DataStart = img.MetadataStart.Add(MetadataSize)
		img.PrivHeadSector = img.MetadataStart.Add(MetadataSize - 1)
		total = img.DataStart.Add(d.DataSize).Add(1 + entrySectors)
	default:
		return nil, fmt.Errorf("unknown scheme %q", d.Scheme)
	}
	img.Bytes = make([]byte, total.Bytes(ss))

	if err := renderPartitionTable(img, total); err != nil {
		return nil, err
	}

	head := ldmdisk.PrivHead{
		Seq:              1,
		VersionMajor:     2,
		VersionMinor:     12,
		DiskGUID:         textGUID(d.GUID),
		HostGUID:         textGUID(uuid.Nil),
		DiskGroupGUID:    textGUID(b.GUID),
		LogicalDiskStart: uint64(img.DataStart),
		LogicalDiskSize:  uint64(d.DataSize),
		ConfigStart:      uint64(img.MetadataStart),
		ConfigSize:       MetadataSize,
		NumTOCs:          2,
		TOCSize:          1,
		NumConfigs:       1,
		NumLogs:          1,
		ConfigBytes:      configSize,
		LogBytes:         logSize,
	}
	copy(head.Magic[:], "PRIVHEAD")
	copy(head.DiskGroupName[:], b.Name)
	for _, s := range []ldmprim.PhysicalSector{
		img.PrivHeadSector,
		img.MetadataStart.Add(MetadataSize - 192),
		img.MetadataStart.Add(MetadataSize - 1),
	} {
		if err := put(img.sector(s), head); err != nil {
			return nil, err
		}
	}

	var toc ldmdisk.TOCBlock
	copy(toc.Magic[:], "TOCBLOCK")
	toc.Seq1, toc.Seq2 = 1, 1
	copy(toc.Bitmaps[0].Name[:], ldmdisk.TOCConfig)
	toc.Bitmaps[0].Start = configStart
	toc.Bitmaps[0].Size = configSize
	copy(toc.Bitmaps[1].Name[:], ldmdisk.TOCLog)
	toc.Bitmaps[1].Start = logStart
	toc.Bitmaps[1].Size = logSize
	for _, rel := range []ldmprim.SectorCount{1, 2, MetadataSize - 3, MetadataSize - 2} {
		if err := put(img.sector(img.MetadataStart.Add(rel)), toc); err != nil {
			return nil, err
		}
	}

	img.Database = img.MetadataStart.Add(configStart).Bytes(ss)
	return img, renderDatabase(b, img, payloads)
}

func renderPartitionTable(img *Image, total ldmprim.PhysicalSector) error {
	var mbr ldmdisk.MBR
	mbr.Signature = 0xAA55
	switch img.Disk.Scheme {
	case ldmdisk.SchemeGPT:
		mbr.Partitions[0].Type = ldmdisk.MBRTypeProtective
		mbr.Partitions[0].StartLBA = 1
		mbr.Partitions[0].Sectors = binstruct.U32le(total - 1)
	default:
		mbr.Partitions[0].Type = ldmdisk.MBRTypeLDM
		mbr.Partitions[0].StartLBA = binstruct.U32le(img.DataStart)
		mbr.Partitions[0].Sectors = binstruct.U32le(total - img.DataStart)
	}
	if err := put(img.Bytes[:512], mbr); err != nil {
		return err
	}
	if img.Disk.Scheme != ldmdisk.SchemeGPT {
		return nil
	}

	ss := img.SectorSize
	entries := make([]byte, gptNumEntries*gptEntrySize)
	for i, ent := range []ldmdisk.GPTEntry{
		{
			TypeGUID: ldmprim.MixedEndian(ldmdisk.GPTTypeLDMMetadata),
			PartGUID: ldmprim.MixedEndian(uuid.New()),
			FirstLBA: binstruct.U64le(img.MetadataStart),
			LastLBA:  binstruct.U64le(img.MetadataStart.Add(MetadataSize - 1)),
		},
		{
			TypeGUID: ldmprim.MixedEndian(ldmdisk.GPTTypeLDMData),
			PartGUID: ldmprim.MixedEndian(uuid.New()),
			FirstLBA: binstruct.U64le(img.DataStart),
			LastLBA:  binstruct.U64le(img.DataStart.Add(img.Disk.DataSize - 1)),
		},
	} {
		if err := put(entries[i*gptEntrySize:], ent); err != nil {
			return err
		}
	}
	copy(img.Bytes[2*ss:], entries)

	entrySectors := ldmprim.SectorCount(gptNumEntries * gptEntrySize / ss)
	header := ldmdisk.GPTHeader{
		Revision:       0x00010000,
		HeaderSize:     gptHeaderBytes,
		MyLBA:          1,
		AlternateLBA:   binstruct.U64le(total - 1),
		FirstUsableLBA: binstruct.U64le(ldmprim.PhysicalSector(2).Add(entrySectors)),
		LastUsableLBA:  binstruct.U64le(total - 2 - ldmprim.PhysicalSector(entrySectors)),
		DiskGUID:       ldmprim.MixedEndian(uuid.New()),
		EntriesLBA:     2,
		NumEntries:     gptNumEntries,
		EntrySize:      gptEntrySize,
		EntriesCRC32:   binstruct.U32le(crc32.ChecksumIEEE(entries)),
	}
	copy(header.Signature[:], "EFI PART")
	headerSector := img.sector(1)
	if err := put(headerSector, header); err != nil {
		return err
	}
	header.HeaderCRC32 = binstruct.U32le(crc32.ChecksumIEEE(headerSector[:gptHeaderBytes]))
	return put(headerSector, header)
}

func renderDatabase(b *Builder, img *Image, payloads [][]byte) error {
	chunk := b.SlotSize - binstruct.StaticSize(vblk.SlotHead{})
	slot := img.FirstSlot
	for recNum, payload := range payloads {
		n := (len(payload) + chunk - 1) / chunk
		for entry := 0; entry < n; entry++ {
			head := vblk.SlotHead{
				Seq:      uint32(slot),
				RecordID: uint32(recNum + 1),
				Entry:    uint16(entry),
				NEntries: uint16(n),
			}
			copy(head.Magic[:], "VBLK")
			dst := img.Slot(slot)
			if err := put(dst, head); err != nil {
				return err
			}
			end := (entry + 1) * chunk
			if end > len(payload) {
				end = len(payload)
			}
			copy(dst[binstruct.StaticSize(vblk.SlotHead{}):], payload[entry*chunk:end])
			slot++
		}
	}
	// One trailing empty slot.
	var empty vblk.SlotHead
	copy(empty.Magic[:], "VBLK")
	empty.Seq = uint32(slot)
	if err := put(img.Slot(slot), empty); err != nil {
		return err
	}
	slot++
	img.NumSlots = slot - img.FirstSlot

	vmdb := vblk.VMDB{
		LastSeq:       uint32(slot),
		VBLKSize:      uint32(b.SlotSize),
		FirstOffset:   vmdbSize,
		VersionMajor:  4,
		VersionMinor:  10,
		DiskGroupGUID: textGUID(b.GUID),
		CommittedSeq:  b.CommittedSeq,
		PendingSeq:    b.CommittedSeq,
	}
	copy(vmdb.Magic[:], "VMDB")
	copy(vmdb.DiskGroupName[:], b.Name)
	for _, rec := range b.Records() {
		switch rec.(type) {
		case *vblk.Volume:
			vmdb.CommittedVolumes++
		case *vblk.Component:
			vmdb.CommittedComponents++
		case *vblk.Partition:
			vmdb.CommittedPartitions++
		case *vblk.Disk:
			vmdb.CommittedDisks++
		}
	}
	return put(img.Bytes[img.Database:], vmdb)
}
