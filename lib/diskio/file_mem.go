// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"bytes"
)

// MemFile is a File backed by a byte slice.
type MemFile[A ~int64] struct {
	name       string
	sectorSize int64
	inner      *bytes.Reader
}

var (
	_ File[assertAddr] = (*MemFile[assertAddr])(nil)
	_ SectorSizer      = (*MemFile[assertAddr])(nil)
)

func NewMemFile[A ~int64](name string, dat []byte, sectorSize int64) *MemFile[A] {
	return &MemFile[A]{
		name:       name,
		sectorSize: sectorSize,
		inner:      bytes.NewReader(dat),
	}
}

func (f *MemFile[A]) Name() string      { return f.name }
func (f *MemFile[A]) Size() A           { return A(f.inner.Size()) }
func (f *MemFile[A]) SectorSize() int64 { return f.sectorSize }
func (f *MemFile[A]) Close() error      { return nil }

func (f *MemFile[A]) ReadAt(dat []byte, off A) (int, error) {
	return f.inner.ReadAt(dat, int64(off))
}
