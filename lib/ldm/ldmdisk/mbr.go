// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldmdisk

import (
	"git.lukeshu.com/ldm-progs-ng/lib/binstruct"
)

const (
	mbrSignature = 0xAA55

	// MBRTypeLDM marks the single MBR partition that covers an
	// LDM disk.
	MBRTypeLDM = 0x42
	// MBRTypeProtective marks a GPT disk.
	MBRTypeProtective = 0xEE

	// mbrPrivHeadSector is where the PRIVHEAD lives on an MBR disk.
	mbrPrivHeadSector = 6
)

type MBRPartition struct {
	Status   uint8           `bin:"off=0x0, siz=0x1"`
	CHSFirst [3]byte         `bin:"off=0x1, siz=0x3"`
	Type     uint8           `bin:"off=0x4, siz=0x1"`
	CHSLast  [3]byte         `bin:"off=0x5, siz=0x3"`
	StartLBA binstruct.U32le `bin:"off=0x8, siz=0x4"`
	Sectors  binstruct.U32le `bin:"off=0xc, siz=0x4"`

	binstruct.End `bin:"off=0x10"`
}

type MBR struct {
	BootCode   [0x1b8]byte     `bin:"off=0x0,   siz=0x1b8"`
	DiskSig    binstruct.U32le `bin:"off=0x1b8, siz=0x4"`
	Reserved   [2]byte         `bin:"off=0x1bc, siz=0x2"`
	Partitions [4]MBRPartition `bin:"off=0x1be, siz=0x40"`
	Signature  binstruct.U16le `bin:"off=0x1fe, siz=0x2"`

	binstruct.End `bin:"off=0x200"`
}

func (mbr MBR) Valid() bool {
	return mbr.Signature == mbrSignature
}

// HasType reports whether any of the primary partitions has the
// given type.
func (mbr MBR) HasType(typ uint8) bool {
	for _, part := range mbr.Partitions {
		if part.Type == typ {
			return true
		}
	}
	return false
}
