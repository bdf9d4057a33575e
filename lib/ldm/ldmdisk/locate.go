// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ldmdisk finds and validates the LDM private region of a
// single disk: the private header, the table of contents, and the
// location of the metadata database.
package ldmdisk

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"

	"git.lukeshu.com/ldm-progs-ng/lib/binstruct"
	"git.lukeshu.com/ldm-progs-ng/lib/diskio"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmerr"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

type Scheme string

const (
	SchemeMBR Scheme = "mbr"
	SchemeGPT Scheme = "gpt"
)

// ByteRange is an absolute byte range on a device.
type ByteRange struct {
	Offset int64
	Size   int64
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%#x,%#x)", r.Offset, r.Offset+r.Size)
}

// PrivateRegion is everything learned about one disk before its
// database is decoded.
type PrivateRegion struct {
	Scheme     Scheme
	SectorSize int64

	// HeadSector is the sector that the authoritative PRIVHEAD
	// was read from.
	HeadSector ldmprim.PhysicalSector
	Head       PrivHead
	TOC        TOCBlock

	DiskGUID      uuid.UUID
	DiskGroupGUID uuid.UUID
	DiskGroupName string

	DataStart     ldmprim.PhysicalSector
	DataSize      ldmprim.SectorCount
	MetadataStart ldmprim.PhysicalSector
	MetadataSize  ldmprim.SectorCount

	// Database is the VMDB and the VBLK slots that follow it.
	Database ByteRange
	// Log is the transaction log area; it is located but not
	// interpreted.
	Log ByteRange
}

func readStruct[T any](dev diskio.File[int64], off int64, size int) (T, []byte, error) {
	var ret T
	buf := make([]byte, size)
	if err := diskio.ReadFull(dev, buf, off); err != nil {
		return ret, nil, err
	}
	if _, err := binstruct.Unmarshal(buf, &ret); err != nil {
		return ret, buf, err
	}
	return ret, buf, nil
}

const (
	maxSectorSize = 64 * 1024
	// maxDatabaseBytes bounds the database area.  Windows writes a
	// 1 MiB metadata region.
	maxDatabaseBytes = 64 * 1024 * 1024
)

// Locate finds the private region of dev.  If sectorSize is zero it
// is taken from the device.
//
// It fails with ldmerr.ErrNotLdm if the device carries no LDM
// partition or PRIVHEAD, and with ldmerr.ErrCorruptMetadata if the
// structures it finds are inconsistent.
func Locate(ctx context.Context, dev diskio.File[int64], sectorSize int64) (*PrivateRegion, error) {
	if sectorSize <= 0 {
		sectorSize = diskio.SectorSize(dev)
	}
	if sectorSize < 512 || sectorSize > maxSectorSize || sectorSize&(sectorSize-1) != 0 {
		return nil, ldmerr.WithDisk(fmt.Errorf("invalid sector size %d", sectorSize), dev.Name())
	}
	ret, err := locate(ctx, dev, sectorSize)
	if err != nil {
		return nil, ldmerr.WithDisk(err, dev.Name())
	}
	return ret, nil
}

func locate(ctx context.Context, dev diskio.File[int64], sectorSize int64) (*PrivateRegion, error) {
	mbr, _, err := readStruct[MBR](dev, 0, binstruct.StaticSize(MBR{}))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ldmerr.Errorf(ldmerr.ErrNotLdm, "device too small for a partition table")
		}
		return nil, err
	}
	if !mbr.Valid() {
		return nil, ldmerr.Errorf(ldmerr.ErrNotLdm, "no MBR signature")
	}

	var region PrivateRegion
	region.SectorSize = sectorSize
	switch {
	case mbr.HasType(MBRTypeProtective):
		region.Scheme = SchemeGPT
		sector, err := gptPrivHeadSector(ctx, dev, sectorSize)
		if err != nil {
			return nil, err
		}
		region.HeadSector = sector
	case mbr.HasType(MBRTypeLDM):
		region.Scheme = SchemeMBR
		region.HeadSector = mbrPrivHeadSector
	default:
		return nil, ldmerr.Errorf(ldmerr.ErrNotLdm, "no LDM partition in the MBR")
	}
	dlog.Debugf(ctx, "partition scheme=%s privhead-sector=%d", region.Scheme, region.HeadSector)

	head, _, err := readStruct[PrivHead](dev, region.HeadSector.Bytes(sectorSize), binstruct.StaticSize(PrivHead{}))
	if err != nil {
		return nil, ldmerr.Errorf(ldmerr.ErrNotLdm, "read PRIVHEAD: %w", err)
	}
	if !head.HasMagic() {
		return nil, ldmerr.Errorf(ldmerr.ErrNotLdm, "no PRIVHEAD at sector %d", region.HeadSector)
	}
	if err := head.validate(dev.Size()/sectorSize, region.Scheme == SchemeMBR); err != nil {
		return nil, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "%w", err)
	}
	region.Head = head
	region.DiskGUID, _ = head.DiskID()
	region.DiskGroupGUID, _ = head.DiskGroupID()
	region.DiskGroupName = head.Name()
	region.DataStart = head.DataStart()
	region.DataSize = head.DataSize()
	region.MetadataStart = head.MetadataStart()
	region.MetadataSize = head.MetadataSize()

	checkBackupHeads(ctx, dev, &region)

	toc, err := readTOC(ctx, dev, &region)
	if err != nil {
		return nil, err
	}
	region.TOC = toc

	config, _ := toc.Bitmap(TOCConfig)
	region.Database = ByteRange{
		Offset: region.MetadataStart.Add(ldmprim.SectorCount(config.Start)).Bytes(sectorSize),
		Size:   ldmprim.SectorCount(config.Size).Bytes(sectorSize),
	}
	if region.Database.Size > maxDatabaseBytes {
		return nil, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "database area %v is larger than %d bytes",
			region.Database, maxDatabaseBytes)
	}
	if log, ok := toc.Bitmap(TOCLog); ok {
		region.Log = ByteRange{
			Offset: region.MetadataStart.Add(ldmprim.SectorCount(log.Start)).Bytes(sectorSize),
			Size:   ldmprim.SectorCount(log.Size).Bytes(sectorSize),
		}
	}
	dlog.Debugf(ctx, "disk=%v group=%q data=%d+%d database=%v",
		region.DiskGUID, region.DiskGroupName, region.DataStart, region.DataSize, region.Database)
	return &region, nil
}

func gptPrivHeadSector(ctx context.Context, dev diskio.File[int64], sectorSize int64) (ldmprim.PhysicalSector, error) {
	header, headerSector, err := readStruct[GPTHeader](dev, sectorSize, int(sectorSize))
	if err != nil {
		return 0, ldmerr.Errorf(ldmerr.ErrNotLdm, "read GPT header: %w", err)
	}
	if header.Signature != gptSignature {
		return 0, ldmerr.Errorf(ldmerr.ErrNotLdm, "protective MBR but no GPT header")
	}
	if err := checkGPTHeader(header, headerSector, sectorSize, dev.Size()); err != nil {
		return 0, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "%w", err)
	}
	entries := make([]byte, int(header.NumEntries)*int(header.EntrySize))
	if err := diskio.ReadFull(dev, entries, int64(header.EntriesLBA)*sectorSize); err != nil {
		return 0, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "read GPT entries: %w", err)
	}
	entry, ok, err := findGPTEntry(header, entries, GPTTypeLDMMetadata)
	if err != nil {
		return 0, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "%w", err)
	}
	if !ok {
		return 0, ldmerr.Errorf(ldmerr.ErrNotLdm, "no LDM metadata partition in the GPT")
	}
	if last := uint64(entry.LastLBA); entry.FirstLBA > entry.LastLBA || last >= uint64(dev.Size()/sectorSize) {
		return 0, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "LDM metadata partition [%d,%d] is not within the device",
			uint64(entry.FirstLBA), last)
	}
	dlog.Debugf(ctx, "LDM metadata partition at LBA %d-%d", entry.FirstLBA, entry.LastLBA)
	return ldmprim.PhysicalSector(entry.LastLBA), nil
}

// checkBackupHeads compares the backup copies of the PRIVHEAD at the
// end of the metadata region with the authoritative one.  Only the
// authoritative copy is used; disagreement is reported, not fatal.
func checkBackupHeads(ctx context.Context, dev diskio.File[int64], region *PrivateRegion) {
	for _, rel := range []ldmprim.SectorCount{region.MetadataSize - 192, region.MetadataSize - 1} {
		if rel <= 0 {
			continue
		}
		sector := region.MetadataStart.Add(rel)
		if sector == region.HeadSector {
			continue
		}
		backup, _, err := readStruct[PrivHead](dev, sector.Bytes(region.SectorSize), binstruct.StaticSize(PrivHead{}))
		switch {
		case err != nil:
			dlog.Warnf(ctx, "backup PRIVHEAD at sector %d: %v", sector, err)
		case !backup.HasMagic():
			dlog.Debugf(ctx, "no backup PRIVHEAD at sector %d", sector)
		case !backup.agrees(region.Head):
			dlog.Warnf(ctx, "backup PRIVHEAD at sector %d disagrees with the primary; using the primary", sector)
		}
	}
}

// readTOC returns the first valid TOCBLOCK of the 4 copies.
func readTOC(ctx context.Context, dev diskio.File[int64], region *PrivateRegion) (TOCBlock, error) {
	var (
		ret  TOCBlock
		have bool
		errs []error
	)
	for _, rel := range []ldmprim.SectorCount{1, 2, region.MetadataSize - 3, region.MetadataSize - 2} {
		if rel <= 0 || rel >= region.MetadataSize {
			continue
		}
		sector := region.MetadataStart.Add(rel)
		toc, _, err := readStruct[TOCBlock](dev, sector.Bytes(region.SectorSize), binstruct.StaticSize(TOCBlock{}))
		if err == nil {
			err = toc.validate(uint64(region.MetadataSize))
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sector %d: %w", sector, err))
			continue
		}
		if !have {
			ret, have = toc, true
			continue
		}
		if toc.Bitmaps != ret.Bitmaps {
			dlog.Warnf(ctx, "TOCBLOCK at sector %d disagrees with the first valid copy; using the first", sector)
		}
	}
	if !have {
		if len(errs) == 0 {
			return TOCBlock{}, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "%d-sector metadata region is too small for a TOCBLOCK",
				region.MetadataSize)
		}
		return TOCBlock{}, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "no valid TOCBLOCK: %w", derror.MultiError(errs))
	}
	return ret, nil
}

// ReadDatabase reads the whole database area of the region.
func (r *PrivateRegion) ReadDatabase(dev diskio.File[int64]) ([]byte, error) {
	if r.Database.Offset < 0 || r.Database.Size <= 0 || r.Database.Size > maxDatabaseBytes ||
		r.Database.Size > dev.Size()-r.Database.Offset {
		return nil, ldmerr.WithDisk(
			ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "database area %v is not within the device", r.Database),
			dev.Name())
	}
	buf := make([]byte, r.Database.Size)
	if err := diskio.ReadFull(dev, buf, r.Database.Offset); err != nil {
		return nil, ldmerr.WithDisk(
			ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "read database %v: %w", r.Database, err),
			dev.Name())
	}
	return buf, nil
}
