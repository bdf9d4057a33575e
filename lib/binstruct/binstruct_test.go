// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ldm-progs-ng/lib/binstruct"
)

func TestSmoke(t *testing.T) {
	t.Parallel()
	type UUID [16]byte
	type DevItem struct {
		DeviceID uint64 `bin:"off=0x0,    siz=0x8"` // device id

		NumBytes     uint64 `bin:"off=0x8,    siz=0x8"` // number of bytes
		NumBytesUsed uint64 `bin:"off=0x10,   siz=0x8"` // number of bytes used

		IOOptimalAlign uint32 `bin:"off=0x18,   siz=0x4"` // optimal I/O align
		IOOptimalWidth uint32 `bin:"off=0x1c,   siz=0x4"` // optimal I/O width
		IOMinSize      uint32 `bin:"off=0x20,   siz=0x4"` // minimal I/O size (sector size)

		Type        uint64 `bin:"off=0x24,   siz=0x8"` // type and info about this device
		Generation  uint64 `bin:"off=0x2c,   siz=0x8"` // expected generation for this device
		StartOffset uint64 `bin:"off=0x34,   siz=0x8"` // start of the partition
		DevGroup    uint32 `bin:"off=0x3c,   siz=0x4"` // grouping information for allocation decisions
		SeekSpeed   uint8  `bin:"off=0x40,   siz=0x1"` // 0-100 (100 is fastest)
		Bandwidth   uint8  `bin:"off=0x41,   siz=0x1"` // 0-100 (100 is fastest)

		DevUUID  UUID `bin:"off=0x42,   siz=0x10"` // device UUID
		FSUUID   UUID `bin:"off=0x52,   siz=0x10"` // FS UUID
		Reserved [0x2]byte `bin:"off=0x62,   siz=0x2"`

		binstruct.End `bin:"off=0x64"`
	}
	type TestType struct {
		Magic [5]byte         `bin:"off=0,siz=5"`
		Dev   DevItem         `bin:"off=5,siz=0x64"`
		Addr  binstruct.U64le `bin:"off=0x69, siz=8"`

		binstruct.End `bin:"off=0x71"`
	}

	assert.Equal(t, 0x71, binstruct.StaticSize(TestType{}))

	input := TestType{}
	copy(input.Magic[:], "mAgIc")
	input.Dev.DeviceID = 12
	input.Addr = 0xBEEF

	bs, err := binstruct.Marshal(input)
	require.NoError(t, err)
	assert.Equal(t, 0x71, len(bs))

	var output TestType
	n, err := binstruct.Unmarshal(bs, &output)
	require.NoError(t, err)
	assert.Equal(t, 0x71, n)
	assert.Equal(t, input, output)
}

func TestByteOrder(t *testing.T) {
	t.Parallel()
	type Head struct {
		Magic  [4]byte         `bin:"off=0x0, siz=0x4"`
		Seq    uint32          `bin:"off=0x4, siz=0x4"`
		Count  uint16          `bin:"off=0x8, siz=0x2"`
		LBA    binstruct.U32le `bin:"off=0xa, siz=0x4"`
		Offset uint64          `bin:"off=0xe, siz=0x8"`

		binstruct.End `bin:"off=0x16"`
	}
	dat := []byte{
		'V', 'B', 'L', 'K',
		0x00, 0x00, 0x01, 0x02,
		0x00, 0x03,
		0x04, 0x03, 0x02, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x08, 0x00,
	}
	var head Head
	n, err := binstruct.Unmarshal(dat, &head)
	require.NoError(t, err)
	assert.Equal(t, len(dat), n)
	assert.Equal(t, uint32(0x0102), head.Seq)
	assert.Equal(t, uint16(3), head.Count)
	assert.Equal(t, binstruct.U32le(0x01020304), head.LBA)
	assert.Equal(t, uint64(0x800), head.Offset)

	bs, err := binstruct.Marshal(head)
	require.NoError(t, err)
	assert.Equal(t, dat, bs)
}

func TestShortInput(t *testing.T) {
	t.Parallel()
	type Pair struct {
		A uint32 `bin:"off=0x0, siz=0x4"`
		B uint32 `bin:"off=0x4, siz=0x4"`

		binstruct.End `bin:"off=0x8"`
	}
	var p Pair
	_, err := binstruct.Unmarshal([]byte{1, 2, 3}, &p)
	assert.Error(t, err)
}

func TestInvalidType(t *testing.T) {
	t.Parallel()
	type BadOffset struct {
		A uint32 `bin:"off=0x0, siz=0x4"`
		B uint32 `bin:"off=0x8, siz=0x4"`

		binstruct.End `bin:"off=0xc"`
	}
	type BadSize struct {
		A uint16 `bin:"off=0x0, siz=0x4"`

		binstruct.End `bin:"off=0x4"`
	}
	type NoEnd struct {
		A uint32 `bin:"off=0x0, siz=0x4"`
	}
	type BadKind struct {
		A string `bin:"off=0x0, siz=0x4"`

		binstruct.End `bin:"off=0x4"`
	}
	testcases := map[string]any{
		"offset": BadOffset{},
		"size":   BadSize{},
		"no-end": NoEnd{},
		"kind":   BadKind{},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			assert.Panics(t, func() {
				binstruct.StaticSize(tc)
			})
		})
	}
}
