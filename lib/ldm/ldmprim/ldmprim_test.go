// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldmprim_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

func TestParseGUIDText(t *testing.T) {
	t.Parallel()
	var field [64]byte
	copy(field[:], "5808c8aa-7e8f-42e0-85d2-e1e90434cfb3")
	id, err := ldmprim.ParseGUIDText(field[:])
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("5808C8AA-7E8F-42E0-85D2-E1E90434CFB3"), id)

	_, err = ldmprim.ParseGUIDText([]byte("not-a-guid\x00\x00"))
	assert.Error(t, err)
}

func TestMixedEndian(t *testing.T) {
	t.Parallel()
	// The LDM metadata partition type, as it appears in a GPT entry.
	raw := [16]byte{
		0xAA, 0xC8, 0x08, 0x58,
		0x8F, 0x7E,
		0xE0, 0x42,
		0x85, 0xD2, 0xE1, 0xE9, 0x04, 0x34, 0xCF, 0xB3,
	}
	id := ldmprim.GUIDFromMixedEndian(raw)
	assert.Equal(t, "5808c8aa-7e8f-42e0-85d2-e1e90434cfb3", id.String())
	assert.Equal(t, raw, ldmprim.MixedEndian(id))
}

func TestSectorArithmetic(t *testing.T) {
	t.Parallel()
	start := ldmprim.PhysicalSector(63)
	assert.Equal(t, ldmprim.PhysicalSector(127), start.Add(64))
	assert.Equal(t, ldmprim.SectorCount(64), start.Add(64).Sub(start))
	assert.Equal(t, int64(63*512), start.Bytes(512))
	assert.Equal(t, ldmprim.VolumeSector(10), ldmprim.VolumeSector(4).Add(6))
}

func TestCString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Dg0", ldmprim.CString([]byte("Dg0\x00\x00\x00")))
	assert.Equal(t, "full", ldmprim.CString([]byte("full")))
}
