// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ldm reads Windows Logical Disk Manager ("dynamic disk")
// metadata from a set of devices, and describes each volume it finds
// as a list of mapping targets onto those devices.
package ldm

import (
	"context"
	"sort"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"
	"github.com/google/uuid"

	"git.lukeshu.com/ldm-progs-ng/lib/diskio"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmdisk"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmerr"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/vblk"
)

// Device is one device added to a Session.
type Device struct {
	File   diskio.File[int64]
	Region *ldmdisk.PrivateRegion
	DB     *vblk.Database
}

// groupState accumulates what the devices of one disk group say
// about it.
type groupState struct {
	guid         uuid.UUID
	name         string
	committedSeq uint64
	records      map[ldmprim.ObjID]vblk.Record
}

// A Session is the set of devices added so far and the disk groups
// they describe.  Adding devices is not safe for concurrent use; the
// objects returned by DiskGroups are.
type Session struct {
	cfg     Config
	devices map[uuid.UUID]*Device
	groups  map[uuid.UUID]*groupState
}

func NewSession(cfg Config) *Session {
	return &Session{
		cfg:     cfg,
		devices: make(map[uuid.UUID]*Device),
		groups:  make(map[uuid.UUID]*groupState),
	}
}

// AddDisk opens the device or image at path and adds it to the
// session.  A device with no LDM metadata yields an error matching
// ldmerr.ErrNotLdm; the session is unaffected and may still be used.
func (s *Session) AddDisk(ctx context.Context, path string) error {
	file, err := diskio.Open(ctx, path)
	if err != nil {
		return ldmerr.WithDisk(err, path)
	}
	added, err := s.addDevice(ctx, file)
	if !added {
		_ = file.Close()
	}
	return err
}

// AddDevice adds an already-open device.  On success the Session
// takes ownership of file and closes it in Close; otherwise it
// remains the caller's.
func (s *Session) AddDevice(ctx context.Context, file diskio.File[int64]) error {
	added, err := s.addDevice(ctx, file)
	if err == nil && !added {
		// Already present; this copy is not needed.
		return file.Close()
	}
	return err
}

func (s *Session) addDevice(ctx context.Context, file diskio.File[int64]) (bool, error) {
	ctx = dlog.WithField(ctx, "ldm.disk", file.Name())

	region, err := ldmdisk.Locate(ctx, file, s.cfg.SectorSize)
	if err != nil {
		return false, err
	}
	ctx = dlog.WithField(ctx, "ldm.dg", region.DiskGroupName)
	if have, ok := s.devices[region.DiskGUID]; ok {
		if have.File.Name() != file.Name() {
			dlog.Warnf(ctx, "disk %v is already present as %q; ignoring this copy",
				region.DiskGUID, have.File.Name())
		} else {
			dlog.Debugf(ctx, "disk %v already added", region.DiskGUID)
		}
		return false, nil
	}

	raw, err := region.ReadDatabase(file)
	if err != nil {
		return false, err
	}
	db, err := vblk.Decode(ctx, raw)
	if err != nil {
		return false, ldmerr.WithDiskGroup(ldmerr.WithDisk(err, file.Name()), region.DiskGroupName)
	}
	if guid, _ := db.VMDB.GUID(); guid != region.DiskGroupGUID {
		return false, ldmerr.WithDisk(ldmerr.Errorf(ldmerr.ErrCorruptMetadata,
			"database belongs to disk group %v, but the private header says %v",
			guid, region.DiskGroupGUID), file.Name())
	}

	s.devices[region.DiskGUID] = &Device{
		File:   file,
		Region: region,
		DB:     db,
	}
	s.merge(ctx, region, db)
	dlog.Infof(ctx, "added disk %v (%v)", region.DiskGUID, db.Stats)
	return true, nil
}

// merge folds one device's copy of the group database into the
// session.  Every member disk carries a full copy; the copy with the
// highest committed sequence number wins, and copies at the same
// sequence are combined by object id.
func (s *Session) merge(ctx context.Context, region *ldmdisk.PrivateRegion, db *vblk.Database) {
	seq := db.VMDB.CommittedSeq
	group, ok := s.groups[region.DiskGroupGUID]
	switch {
	case !ok:
		s.groups[region.DiskGroupGUID] = &groupState{
			guid:         region.DiskGroupGUID,
			name:         region.DiskGroupName,
			committedSeq: seq,
			records:      db.Index(),
		}
	case seq > group.committedSeq:
		dlog.Infof(ctx, "database at sequence %d supersedes sequence %d", seq, group.committedSeq)
		group.name = region.DiskGroupName
		group.committedSeq = seq
		group.records = db.Index()
	case seq == group.committedSeq:
		for id, rec := range db.Index() {
			if _, have := group.records[id]; !have {
				group.records[id] = rec
			}
		}
	default:
		dlog.Infof(ctx, "database at sequence %d is older than sequence %d; ignoring it", seq, group.committedSeq)
	}
}

// Devices returns the devices added so far, ordered by path.
func (s *Session) Devices() []*Device {
	ret := make([]*Device, 0, len(s.devices))
	for _, dev := range s.devices {
		ret = append(ret, dev)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].File.Name() < ret[j].File.Name()
	})
	return ret
}

// Records returns the records decoded from the device with the given
// disk GUID, in database order.
func (s *Session) Records(diskGUID uuid.UUID) ([]vblk.Record, bool) {
	dev, ok := s.devices[diskGUID]
	if !ok {
		return nil, false
	}
	return dev.DB.Records, true
}

// Close closes every device that was added.
func (s *Session) Close() error {
	var errs derror.MultiError
	for _, dev := range s.Devices() {
		if err := dev.File.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.devices = make(map[uuid.UUID]*Device)
	s.groups = make(map[uuid.UUID]*groupState)
	if len(errs) > 0 {
		return errs
	}
	return nil
}
