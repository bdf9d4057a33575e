// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"io"
	"os"
)

// OSFile is a regular file or block device.
type OSFile[A ~int64] struct {
	*os.File
	size       int64
	sectorSize int64
}

var (
	_ File[assertAddr] = (*OSFile[assertAddr])(nil)
	_ SectorSizer      = (*OSFile[assertAddr])(nil)
)

// OpenOSFile opens a file or block device read-only.
func OpenOSFile[A ~int64](filename string) (*OSFile[A], error) {
	fh, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	// Block devices report a zero size from stat(2).
	size, err := fh.Seek(0, io.SeekEnd)
	if err != nil {
		_ = fh.Close()
		return nil, err
	}
	return &OSFile[A]{
		File:       fh,
		size:       size,
		sectorSize: sectorSize(fh),
	}, nil
}

func (f *OSFile[A]) Size() A { return A(f.size) }

func (f *OSFile[A]) SectorSize() int64 { return f.sectorSize }

func (f *OSFile[A]) ReadAt(dat []byte, paddr A) (int, error) {
	return f.File.ReadAt(dat, int64(paddr))
}
