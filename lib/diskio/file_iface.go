// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package diskio provides read-only random access to raw disks and
// to the image formats that disks are commonly captured in.
package diskio

import (
	"io"
)

// File is a read-only random-access device.  Addresses are byte
// offsets.
type File[A ~int64] interface {
	Name() string
	Size() A
	Close() error
	ReadAt(p []byte, off A) (n int, err error)
}

// SectorSizer is implemented by Files that know the logical sector
// size of the underlying device.
type SectorSizer interface {
	SectorSize() int64
}

// DefaultSectorSize is assumed for Files that do not implement
// SectorSizer.
const DefaultSectorSize = 512

// SectorSize returns the logical sector size of a File.
func SectorSize[A ~int64](f File[A]) int64 {
	if ss, ok := f.(SectorSizer); ok {
		if sz := ss.SectorSize(); sz > 0 {
			return sz
		}
	}
	return DefaultSectorSize
}

type assertAddr int64

var _ io.ReaderAt = File[int64](nil)

// ReadFull reads exactly len(p) bytes at off; a short read is an
// error even if the File reports none.
func ReadFull[A ~int64](f File[A], p []byte, off A) error {
	n, err := f.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}
