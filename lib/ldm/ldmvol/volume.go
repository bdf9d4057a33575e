// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ldmvol reads the contents of an LDM volume through its
// mapping targets.
package ldmvol

import (
	"errors"
	"fmt"
	"io"

	"github.com/datawire/dlib/derror"

	"git.lukeshu.com/ldm-progs-ng/lib/diskio"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
	"git.lukeshu.com/ldm-progs-ng/lib/slices"
	"git.lukeshu.com/ldm-progs-ng/lib/textui"
)

// ErrDiskAbsent is returned for reads that need a member disk whose
// device was not added to the session.
var ErrDiskAbsent = errors.New("disk is absent")

// Volume is a read-only view of a volume's contents.  It implements
// diskio.File[int64].  The devices belong to the ldm.Session, so
// Close only drops the volume's caches.
type Volume struct {
	name       string
	sectorSize int64
	size       int64
	targets    []ldm.Target
	devs       map[*ldm.Disk]diskio.File[int64]
}

var _ diskio.File[int64] = (*Volume)(nil)

var blockSize = textui.Tunable(int64(64 * 1024))

// New returns a reader for vol.  If cacheBlocks is positive, each
// member device is read through a cache of that many blocks.
func New(vol *ldm.Volume, cacheBlocks int) (*Volume, error) {
	targets, err := vol.MappingTargets()
	if err != nil {
		return nil, err
	}
	ret := &Volume{
		name:       vol.Name,
		sectorSize: vol.SectorSize(),
		targets:    targets,
		devs:       make(map[*ldm.Disk]diskio.File[int64]),
	}
	ret.size = vol.Size.Bytes(ret.sectorSize)
	for _, disk := range ldm.Disks(targets) {
		if !disk.Present() {
			continue
		}
		var dev diskio.File[int64] = disk.File()
		if cacheBlocks > 0 {
			dev = diskio.NewBufferedFile[int64](noClose{dev}, blockSize, cacheBlocks)
		}
		ret.devs[disk] = dev
	}
	return ret, nil
}

type noClose struct {
	diskio.File[int64]
}

func (noClose) Close() error { return nil }

func (v *Volume) Name() string          { return v.name }
func (v *Volume) Size() int64           { return v.size }
func (v *Volume) SectorSize() int64     { return v.sectorSize }
func (v *Volume) Targets() []ldm.Target { return v.targets }

func (v *Volume) Close() error {
	var errs derror.MultiError
	for disk, dev := range v.devs {
		if err := dev.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(v.devs, disk)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (v *Volume) ReadAt(dat []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read %q: negative offset %d", v.name, off)
	}
	if off >= v.size {
		return 0, io.EOF
	}
	var short bool
	if off+int64(len(dat)) > v.size {
		dat = dat[:v.size-off]
		short = true
	}
	n, err := v.readAt(v.targets, dat, off)
	if err == nil && short {
		err = io.EOF
	}
	return n, err
}

func (v *Volume) readAt(targets []ldm.Target, dat []byte, off int64) (int, error) {
	done := 0
	for done < len(dat) {
		n, err := v.maybeShortReadAt(targets, dat[done:], off+int64(done))
		done += n
		if err != nil {
			return done, err
		}
	}
	return done, nil
}

// find returns the target containing byte off of the volume.
func (v *Volume) find(targets []ldm.Target, off int64) ldm.Target {
	i, ok := slices.Search(targets, func(target ldm.Target) int {
		start, length := target.Range()
		switch {
		case off < start.Bytes(v.sectorSize):
			return -1
		case off >= start.Add(length).Bytes(v.sectorSize):
			return 1
		default:
			return 0
		}
	})
	if !ok {
		return nil
	}
	return targets[i]
}

func (v *Volume) maybeShortReadAt(targets []ldm.Target, dat []byte, off int64) (int, error) {
	target := v.find(targets, off)
	if target == nil {
		return 0, fmt.Errorf("read %q: could not map offset %v", v.name, off)
	}
	start, length := target.Range()
	rel := off - start.Bytes(v.sectorSize)
	dat = dat[:slices.Min(int64(len(dat)), length.Bytes(v.sectorSize)-rel)]

	switch target := target.(type) {
	case *ldm.LinearTarget:
		return v.readDisk(target.Backing.Disk, dat, target.Backing.Start.Bytes(v.sectorSize)+rel)
	case *ldm.StripedTarget:
		g := v.geometry(target.StripeSize, target.ColumnLength(), len(target.Columns))
		pos := g.locate(rel)
		dat = dat[:slices.Min(int64(len(dat)), pos.avail)]
		col := target.Columns[pos.chunk%int64(len(target.Columns))]
		return v.readDisk(col.Disk, dat, col.Start.Bytes(v.sectorSize)+pos.colOff)
	case *ldm.RAID5Target:
		return v.readRAID5(target, dat, rel)
	case *ldm.MirrorTarget:
		var errs derror.MultiError
		for i, leg := range target.Legs {
			n, err := v.readAt(leg, dat, off)
			if err == nil {
				return n, nil
			}
			errs = append(errs, fmt.Errorf("leg %d: %w", i, err))
		}
		return 0, fmt.Errorf("read %q: every mirror leg failed: %w", v.name, errs)
	default:
		panic(fmt.Errorf("should not happen: unknown target type %T", target))
	}
}

func (v *Volume) readDisk(disk *ldm.Disk, dat []byte, off int64) (int, error) {
	dev, ok := v.devs[disk]
	if !ok {
		return 0, fmt.Errorf("disk %q: %w", disk.Name, ErrDiskAbsent)
	}
	if err := diskio.ReadFull(dev, dat, off); err != nil {
		return 0, fmt.Errorf("disk %q: read %d bytes at %d: %w", disk.Name, len(dat), off, err)
	}
	return len(dat), nil
}
