// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package vblk

import (
	"fmt"

	"github.com/google/uuid"

	"git.lukeshu.com/ldm-progs-ng/lib/binstruct"
	"git.lukeshu.com/ldm-progs-ng/lib/fmtutil"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

type Kind uint8

const (
	KindVolume    Kind = 1
	KindComponent Kind = 2
	KindPartition Kind = 3
	KindDisk      Kind = 4
	KindDiskGroup Kind = 5
)

var kindNames = map[Kind]string{
	KindVolume:    "volume",
	KindComponent: "component",
	KindPartition: "partition",
	KindDisk:      "disk",
	KindDiskGroup: "disk-group",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Header is the fixed part at the start of every reassembled record.
type Header struct {
	Status uint16 `bin:"off=0x0, siz=0x2"`
	Flags  uint8  `bin:"off=0x2, siz=0x1"`
	Type   uint8  `bin:"off=0x3, siz=0x1"` // revision<<4 | kind
	Size   uint32 `bin:"off=0x4, siz=0x4"`

	binstruct.End `bin:"off=0x8"`
}

func (h Header) Kind() Kind      { return Kind(h.Type & 0x0f) }
func (h Header) Revision() uint8 { return h.Type >> 4 }

func (h Header) String() string {
	return fmt.Sprintf("%v/%d", h.Kind(), h.Revision())
}

// Record is one decoded database object.  The concrete types are
// *Volume, *Component, *Partition, *Disk, and *DiskGroup.
type Record interface {
	isRecord()
	setHeader(Header)
	Head() Header
	ObjectID() ldmprim.ObjID
	ObjectName() string
	binstruct.Marshaler
	binstruct.Unmarshaler
}

// Object holds the fields common to all records.  The Header must
// be set before UnmarshalBinary is called, since some optional
// fields are keyed on its flags.
type Object struct {
	Header Header
	ID     ldmprim.ObjID
	Name   string
}

func (*Object) isRecord()                   {}
func (o *Object) setHeader(h Header)       { o.Header = h }
func (o *Object) Head() Header             { return o.Header }
func (o *Object) ObjectID() ldmprim.ObjID  { return o.ID }
func (o *Object) ObjectName() string       { return o.Name }
func (o *Object) readHead(r *fieldReader)  { o.ID = r.id(); o.Name = r.str() }
func (o *Object) writeHead(w *fieldWriter) { w.id(o.ID); w.str(o.Name) }

func finish(r *fieldReader) (int, error) {
	return r.pos, r.err
}

////////////////////////////////////////////////////////////////////////////////

type VolumeFlags uint8

const (
	VolumeFlagDriveHint = VolumeFlags(1 << 1)
	VolumeFlagID1       = VolumeFlags(1 << 3)
	VolumeFlagID2       = VolumeFlags(1 << 5)
	VolumeFlagSize2     = VolumeFlags(1 << 7)
)

var volumeFlagNames = []string{"", "drive-hint", "", "id1", "", "id2", "", "size2"}

func (f VolumeFlags) Has(req VolumeFlags) bool { return f&req == req }
func (f VolumeFlags) String() string {
	return fmtutil.BitfieldString(f, volumeFlagNames, fmtutil.HexLower)
}

// Volume is a VOL5 record.
type Volume struct {
	Object
	VolumeType   string // "gen" or "raid5"
	Unknown      string
	State        [14]byte
	IntType      uint8
	Unknown2     uint8
	VolumeNumber uint8
	VolFlags     uint8
	NComponents  uint64
	CommitID     uint64
	VolumeID     uint64
	Size         ldmprim.SectorCount
	PartType     uint8
	GUID         uuid.UUID

	// Present according to Header.Flags.
	ID1       string
	ID2       string
	Size2     ldmprim.SectorCount
	DriveHint string
}

func (o *Volume) Flags() VolumeFlags { return VolumeFlags(o.Header.Flags) }

func (o *Volume) UnmarshalBinary(dat []byte) (int, error) {
	r := &fieldReader{dat: dat}
	o.readHead(r)
	o.VolumeType = r.str()
	o.Unknown = r.str()
	copy(o.State[:], r.take(len(o.State)))
	o.IntType = r.u8()
	o.Unknown2 = r.u8()
	o.VolumeNumber = r.u8()
	r.skip(3)
	o.VolFlags = r.u8()
	o.NComponents = r.num()
	o.CommitID = r.u64()
	o.VolumeID = r.u64()
	o.Size = ldmprim.SectorCount(r.num())
	r.skip(4)
	o.PartType = r.u8()
	o.GUID = r.guid()
	if o.Flags().Has(VolumeFlagID1) {
		o.ID1 = r.str()
	}
	if o.Flags().Has(VolumeFlagID2) {
		o.ID2 = r.str()
	}
	if o.Flags().Has(VolumeFlagSize2) {
		o.Size2 = ldmprim.SectorCount(r.num())
	}
	if o.Flags().Has(VolumeFlagDriveHint) {
		o.DriveHint = r.str()
	}
	return finish(r)
}

func (o Volume) MarshalBinary() ([]byte, error) {
	w := new(fieldWriter)
	o.writeHead(w)
	w.str(o.VolumeType)
	w.str(o.Unknown)
	w.buf = append(w.buf, o.State[:]...)
	w.u8(o.IntType)
	w.u8(o.Unknown2)
	w.u8(o.VolumeNumber)
	w.zero(3)
	w.u8(o.VolFlags)
	w.num(o.NComponents)
	w.u64(o.CommitID)
	w.u64(o.VolumeID)
	w.num(uint64(o.Size))
	w.zero(4)
	w.u8(o.PartType)
	w.guid(o.GUID)
	if o.Flags().Has(VolumeFlagID1) {
		w.str(o.ID1)
	}
	if o.Flags().Has(VolumeFlagID2) {
		w.str(o.ID2)
	}
	if o.Flags().Has(VolumeFlagSize2) {
		w.num(uint64(o.Size2))
	}
	if o.Flags().Has(VolumeFlagDriveHint) {
		w.str(o.DriveHint)
	}
	return w.buf, w.err
}

////////////////////////////////////////////////////////////////////////////////

type ComponentType uint8

const (
	ComponentStriped ComponentType = 1
	ComponentSpanned ComponentType = 2
	ComponentRAID    ComponentType = 3
)

func (t ComponentType) String() string {
	switch t {
	case ComponentStriped:
		return "striped"
	case ComponentSpanned:
		return "spanned"
	case ComponentRAID:
		return "raid"
	default:
		return fmt.Sprintf("component-type(%d)", uint8(t))
	}
}

// ComponentFlagStripe marks a component record that carries stripe
// size and column count.
const ComponentFlagStripe = 0x10

// Component is a CMP3 record.
type Component struct {
	Object
	State      string
	Type       ComponentType
	NParts     uint64
	CommitID   uint64
	VolumeID   ldmprim.ObjID
	StripeSize ldmprim.SectorCount
	NColumns   uint64
}

func (o *Component) UnmarshalBinary(dat []byte) (int, error) {
	r := &fieldReader{dat: dat}
	o.readHead(r)
	o.State = r.str()
	o.Type = ComponentType(r.u8())
	r.skip(4)
	o.NParts = r.num()
	o.CommitID = r.u64()
	r.skip(8)
	o.VolumeID = r.id()
	r.skip(1)
	if o.Header.Flags&ComponentFlagStripe != 0 {
		o.StripeSize = ldmprim.SectorCount(r.num())
		o.NColumns = r.num()
	}
	return finish(r)
}

func (o Component) MarshalBinary() ([]byte, error) {
	w := new(fieldWriter)
	o.writeHead(w)
	w.str(o.State)
	w.u8(uint8(o.Type))
	w.zero(4)
	w.num(o.NParts)
	w.u64(o.CommitID)
	w.zero(8)
	w.id(o.VolumeID)
	w.zero(1)
	if o.Header.Flags&ComponentFlagStripe != 0 {
		w.num(uint64(o.StripeSize))
		w.num(o.NColumns)
	}
	return w.buf, w.err
}

////////////////////////////////////////////////////////////////////////////////

// PartitionFlagIndex marks a partition record that carries its
// column index.
const PartitionFlagIndex = 0x08

// Partition is a PRT3 record.  Start is relative to the data area
// of the disk it lives on.
type Partition struct {
	Object
	CommitID    uint64
	Start       ldmprim.PhysicalSector
	VolOffset   ldmprim.VolumeSector
	Size        ldmprim.SectorCount
	ComponentID ldmprim.ObjID
	DiskID      ldmprim.ObjID
	Index       uint64
}

func (o *Partition) HasIndex() bool { return o.Header.Flags&PartitionFlagIndex != 0 }

func (o *Partition) UnmarshalBinary(dat []byte) (int, error) {
	r := &fieldReader{dat: dat}
	o.readHead(r)
	r.skip(4)
	o.CommitID = r.u64()
	o.Start = ldmprim.PhysicalSector(r.u64())
	o.VolOffset = ldmprim.VolumeSector(r.u64())
	o.Size = ldmprim.SectorCount(r.num())
	o.ComponentID = r.id()
	o.DiskID = r.id()
	if o.HasIndex() {
		o.Index = r.num()
	}
	return finish(r)
}

func (o Partition) MarshalBinary() ([]byte, error) {
	w := new(fieldWriter)
	o.writeHead(w)
	w.zero(4)
	w.u64(o.CommitID)
	w.u64(uint64(o.Start))
	w.u64(uint64(o.VolOffset))
	w.num(uint64(o.Size))
	w.id(o.ComponentID)
	w.id(o.DiskID)
	if o.HasIndex() {
		w.num(o.Index)
	}
	return w.buf, w.err
}

////////////////////////////////////////////////////////////////////////////////

// Disk is a DSK3 record (text GUID) or a DSK4 record (binary GUID).
type Disk struct {
	Object
	GUID    uuid.UUID
	AltName string // DSK3 only
}

func (o *Disk) UnmarshalBinary(dat []byte) (int, error) {
	r := &fieldReader{dat: dat}
	o.readHead(r)
	switch o.Header.Revision() {
	case 3:
		o.GUID = r.textGUID()
		o.AltName = r.str()
	case 4:
		o.GUID = r.guid()
	default:
		return 0, fmt.Errorf("unsupported disk record revision %d", o.Header.Revision())
	}
	return finish(r)
}

func (o Disk) MarshalBinary() ([]byte, error) {
	w := new(fieldWriter)
	o.writeHead(w)
	switch o.Header.Revision() {
	case 3:
		w.textGUID(o.GUID)
		w.str(o.AltName)
	case 4:
		w.guid(o.GUID)
	default:
		return nil, fmt.Errorf("unsupported disk record revision %d", o.Header.Revision())
	}
	return w.buf, w.err
}

////////////////////////////////////////////////////////////////////////////////

// DiskGroupFlagIDs marks a disk group record that carries two extra
// ids after the commit id.
const DiskGroupFlagIDs = 0x08

// DiskGroup is a DGR3 record (text GUID) or a DGR4 record (binary
// GUIDs).
type DiskGroup struct {
	Object
	GUID        uuid.UUID
	DiskSetGUID uuid.UUID // DGR4 only
	CommitID    uint64
	ID1         uint64
	ID2         uint64
}

func (o *DiskGroup) UnmarshalBinary(dat []byte) (int, error) {
	r := &fieldReader{dat: dat}
	o.readHead(r)
	switch o.Header.Revision() {
	case 3:
		o.GUID = r.textGUID()
	case 4:
		o.GUID = r.guid()
		o.DiskSetGUID = r.guid()
	default:
		return 0, fmt.Errorf("unsupported disk group record revision %d", o.Header.Revision())
	}
	r.skip(4)
	o.CommitID = r.u64()
	if o.Header.Flags&DiskGroupFlagIDs != 0 {
		o.ID1 = r.num()
		o.ID2 = r.num()
	}
	return finish(r)
}

func (o DiskGroup) MarshalBinary() ([]byte, error) {
	w := new(fieldWriter)
	o.writeHead(w)
	switch o.Header.Revision() {
	case 3:
		w.textGUID(o.GUID)
	case 4:
		w.guid(o.GUID)
		w.guid(o.DiskSetGUID)
	default:
		return nil, fmt.Errorf("unsupported disk group record revision %d", o.Header.Revision())
	}
	w.zero(4)
	w.u64(o.CommitID)
	if o.Header.Flags&DiskGroupFlagIDs != 0 {
		w.num(o.ID1)
		w.num(o.ID2)
	}
	return w.buf, w.err
}

////////////////////////////////////////////////////////////////////////////////

// recordTypes maps a header type byte to a constructor.  Type bytes
// not listed here are skipped by the decoder.
var recordTypes = map[uint8]func() Record{
	0x51: func() Record { return new(Volume) },
	0x32: func() Record { return new(Component) },
	0x33: func() Record { return new(Partition) },
	0x34: func() Record { return new(Disk) },
	0x44: func() Record { return new(Disk) },
	0x35: func() Record { return new(DiskGroup) },
	0x45: func() Record { return new(DiskGroup) },
}

// UnmarshalRecord decodes a reassembled record payload.  It returns
// (nil, nil) for a record type this package does not know.
func UnmarshalRecord(payload []byte) (Record, error) {
	var head Header
	n, err := binstruct.Unmarshal(payload, &head)
	if err != nil {
		return nil, err
	}
	newRec, ok := recordTypes[head.Type]
	if !ok {
		return nil, nil
	}
	rec := newRec()
	rec.setHeader(head)
	if _, err := rec.UnmarshalBinary(payload[n:]); err != nil {
		return nil, fmt.Errorf("%v record: %w", head, err)
	}
	return rec, nil
}

// MarshalRecord is the inverse of UnmarshalRecord; Header.Size is
// filled in from the encoded body.
func MarshalRecord(rec Record) ([]byte, error) {
	body, err := rec.MarshalBinary()
	if err != nil {
		return nil, err
	}
	head := rec.Head()
	head.Size = uint32(len(body))
	dat, err := binstruct.Marshal(head)
	if err != nil {
		return nil, err
	}
	return append(dat, body...), nil
}
