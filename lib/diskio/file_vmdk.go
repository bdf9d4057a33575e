// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"fmt"
	"path/filepath"

	extent "github.com/aarsakian/VMDK_Reader/extent"
)

// VMDKFile is a VMware virtual disk (monolithic or split sparse).
type VMDKFile[A ~int64] struct {
	name    string
	dir     string
	extents extent.Extents
	size    int64
}

var _ File[assertAddr] = (*VMDKFile[assertAddr])(nil)

func OpenVMDKFile[A ~int64](filename string) (_ *VMDKFile[A], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("vmdk: %s: %v", filename, r)
		}
	}()
	exts := extent.ProcessExtents(filename)
	size := exts.GetHDSize()
	if size <= 0 {
		return nil, fmt.Errorf("vmdk: %s: no extents", filename)
	}
	return &VMDKFile[A]{
		name:    filename,
		dir:     filepath.Dir(filename),
		extents: exts,
		size:    size,
	}, nil
}

func (f *VMDKFile[A]) Name() string { return f.name }
func (f *VMDKFile[A]) Size() A      { return A(f.size) }
func (f *VMDKFile[A]) Close() error { return nil }

func (f *VMDKFile[A]) ReadAt(dat []byte, off A) (int, error) {
	return readRetrieved(dat, int64(off), f.size, func(off, length int64) []byte {
		return f.extents.RetrieveData(f.dir, off, length)
	})
}
