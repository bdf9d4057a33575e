// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldmdisk

import (
	"fmt"

	"git.lukeshu.com/ldm-progs-ng/lib/binstruct"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

var tocBlockMagic = [8]byte{'T', 'O', 'C', 'B', 'L', 'O', 'C', 'K'}

const (
	TOCConfig = "config"
	TOCLog    = "log"
)

// TOCBitmap names one area of the metadata region.  Start and Size
// are in sectors relative to the start of the metadata region.
type TOCBitmap struct {
	Name   [8]byte `bin:"off=0x0,  siz=0x8"`
	Flags  uint16  `bin:"off=0x8,  siz=0x2"`
	Start  uint64  `bin:"off=0xa,  siz=0x8"`
	Size   uint64  `bin:"off=0x12, siz=0x8"`
	Flags2 uint64  `bin:"off=0x1a, siz=0x8"`

	binstruct.End `bin:"off=0x22"`
}

func (bm TOCBitmap) String() string {
	return fmt.Sprintf("%s[%d+%d]", ldmprim.CString(bm.Name[:]), bm.Start, bm.Size)
}

type TOCBlock struct {
	Magic    [8]byte      `bin:"off=0x0,  siz=0x8"`
	Seq1     uint32       `bin:"off=0x8,  siz=0x4"`
	Padding1 [4]byte      `bin:"off=0xc,  siz=0x4"`
	Seq2     uint32       `bin:"off=0x10, siz=0x4"`
	Padding2 [16]byte     `bin:"off=0x14, siz=0x10"`
	Bitmaps  [2]TOCBitmap `bin:"off=0x24, siz=0x44"`

	binstruct.End `bin:"off=0x68"`
}

func (toc TOCBlock) HasMagic() bool {
	return toc.Magic == tocBlockMagic
}

// Bitmap returns the area with the given name.
func (toc TOCBlock) Bitmap(name string) (TOCBitmap, bool) {
	for _, bm := range toc.Bitmaps {
		if ldmprim.CString(bm.Name[:]) == name {
			return bm, true
		}
	}
	return TOCBitmap{}, false
}

// validate checks that the block names a database area that lies
// within a metadata region of configSize sectors.
func (toc TOCBlock) validate(configSize uint64) error {
	if !toc.HasMagic() {
		return fmt.Errorf("bad TOCBLOCK magic %q", toc.Magic[:])
	}
	config, ok := toc.Bitmap(TOCConfig)
	if !ok {
		return fmt.Errorf("TOCBLOCK has no %q area", TOCConfig)
	}
	for _, bm := range toc.Bitmaps {
		if ldmprim.CString(bm.Name[:]) == "" {
			continue
		}
		if !within(bm.Start, bm.Size, configSize) {
			return fmt.Errorf("TOCBLOCK area %v extends past the metadata region (%d sectors)", bm, configSize)
		}
	}
	if config.Size == 0 {
		return fmt.Errorf("TOCBLOCK %q area is empty", TOCConfig)
	}
	return nil
}
