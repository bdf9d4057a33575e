// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package vblk decodes the LDM database: the VMDB header and the
// VBLK records that follow it.
package vblk

import (
	"context"
	"sort"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/ldm-progs-ng/lib/binstruct"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmerr"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
	"git.lukeshu.com/ldm-progs-ng/lib/maps"
	"git.lukeshu.com/ldm-progs-ng/lib/textui"
)

var slotMagic = [4]byte{'V', 'B', 'L', 'K'}

// SlotHead starts every VBLK slot.  A record that does not fit in
// one slot is split over NEntries slots sharing a RecordID.
type SlotHead struct {
	Magic    [4]byte `bin:"off=0x0, siz=0x4"`
	Seq      uint32  `bin:"off=0x4, siz=0x4"`
	RecordID uint32  `bin:"off=0x8, siz=0x4"`
	Entry    uint16  `bin:"off=0xc, siz=0x2"`
	NEntries uint16  `bin:"off=0xe, siz=0x2"`

	binstruct.End `bin:"off=0x10"`
}

// Stats counts what the decoder saw.
type Stats struct {
	Slots     int // non-empty slots
	Records   int // records decoded
	Fragments int // slots that were part of a multi-slot record
	Skipped   map[uint8]int
}

func (s Stats) String() string {
	skipped := 0
	for _, n := range s.Skipped {
		skipped += n
	}
	return textui.Sprintf("slots=%d records=%d fragments=%d skipped=%d",
		s.Slots, s.Records, s.Fragments, skipped)
}

// Database is the decoded content of one disk's copy of the
// database.
type Database struct {
	VMDB    VMDB
	Records []Record // in slot order
	Stats   Stats
}

type fragmentRun struct {
	first   int // slot number, for ordering
	total   uint16
	entries map[uint16][]byte
}

// Decode parses the raw bytes of a database area.  It fails with
// ldmerr.ErrCorruptMetadata if the VMDB or a slot is malformed, and
// with ldmerr.ErrTruncatedRecord if a multi-slot record is missing a
// fragment.
func Decode(ctx context.Context, dat []byte) (*Database, error) {
	var ret Database
	if _, err := binstruct.Unmarshal(dat, &ret.VMDB); err != nil {
		return nil, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "VMDB: %w", err)
	}
	if err := ret.VMDB.Validate(len(dat)); err != nil {
		return nil, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "%w", err)
	}
	ret.Stats.Skipped = make(map[uint8]int)
	dlog.Debugf(ctx, "VMDB group=%q committed=%d pending=%d slots=[%d,%d) slot-size=%d",
		ret.VMDB.Name(), ret.VMDB.CommittedSeq, ret.VMDB.PendingSeq,
		ret.VMDB.FirstSlot(), ret.VMDB.LastSeq, ret.VMDB.VBLKSize)

	type payload struct {
		slot int
		dat  []byte
	}
	var payloads []payload
	runs := make(map[uint32]*fragmentRun)

	slotSize := int(ret.VMDB.VBLKSize)
	headSize := binstruct.StaticSize(SlotHead{})
	for i := int(ret.VMDB.FirstSlot()); i < int(ret.VMDB.LastSeq); i++ {
		slot := dat[i*slotSize : (i+1)*slotSize]
		var head SlotHead
		if _, err := binstruct.Unmarshal(slot, &head); err != nil {
			return nil, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "slot %d: %w", i, err)
		}
		if head.Magic != slotMagic {
			return nil, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "slot %d: bad VBLK magic %q", i, head.Magic[:])
		}
		if head.NEntries == 0 {
			continue
		}
		ret.Stats.Slots++
		if head.NEntries == 1 {
			payloads = append(payloads, payload{slot: i, dat: slot[headSize:]})
			continue
		}
		ret.Stats.Fragments++
		if head.Entry >= head.NEntries {
			return nil, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "slot %d: fragment %d of record %d has only %d entries",
				i, head.Entry, head.RecordID, head.NEntries)
		}
		run, ok := runs[head.RecordID]
		if !ok {
			run = &fragmentRun{
				first:   i,
				total:   head.NEntries,
				entries: make(map[uint16][]byte, head.NEntries),
			}
			runs[head.RecordID] = run
		}
		if run.total != head.NEntries {
			return nil, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "slot %d: record %d claims both %d and %d fragments",
				i, head.RecordID, run.total, head.NEntries)
		}
		if _, dup := run.entries[head.Entry]; dup {
			return nil, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "slot %d: duplicate fragment %d of record %d",
				i, head.Entry, head.RecordID)
		}
		run.entries[head.Entry] = slot[headSize:]
	}

	for _, recID := range maps.SortedKeys(runs) {
		run := runs[recID]
		for entry := uint16(0); entry < run.total; entry++ {
			if _, ok := run.entries[entry]; !ok {
				return nil, ldmerr.Errorf(ldmerr.ErrTruncatedRecord, "record %d: fragment %d of %d is missing",
					recID, entry, run.total)
			}
		}
		buf := make([]byte, 0, int(run.total)*(slotSize-headSize))
		for entry := uint16(0); entry < run.total; entry++ {
			buf = append(buf, run.entries[entry]...)
		}
		payloads = append(payloads, payload{slot: run.first, dat: buf})
	}
	sort.SliceStable(payloads, func(i, j int) bool {
		return payloads[i].slot < payloads[j].slot
	})

	for _, p := range payloads {
		rec, err := UnmarshalRecord(p.dat)
		if err != nil {
			return nil, ldmerr.Errorf(ldmerr.ErrCorruptMetadata, "slot %d: %w", p.slot, err)
		}
		if rec == nil {
			typ := p.dat[3]
			ret.Stats.Skipped[typ]++
			dlog.Debugf(ctx, "slot %d: skipping record of unknown type %#02x", p.slot, typ)
			continue
		}
		ret.Stats.Records++
		ret.Records = append(ret.Records, rec)
	}
	dlog.Debugf(ctx, "decoded %v", ret.Stats)
	return &ret, nil
}

// Index returns the records keyed by object id.  Ids are unique
// across all kinds within one database.
func (db *Database) Index() map[ldmprim.ObjID]Record {
	ret := make(map[ldmprim.ObjID]Record, len(db.Records))
	for _, rec := range db.Records {
		ret[rec.ObjectID()] = rec
	}
	return ret
}
