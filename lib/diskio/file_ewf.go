// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	ewfLib "github.com/aarsakian/EWF_Reader/ewf"
)

// EWFFile is an Expert Witness Format (.E01, .E02, ...) image.
type EWFFile[A ~int64] struct {
	name string
	img  *ewfLib.EWF_Image
	size int64
}

var _ File[assertAddr] = (*EWFFile[assertAddr])(nil)

// ewfSegments returns every segment file of the set that filename
// belongs to, in segment order.
func ewfSegments(filename string) ([]string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	var segments []string
	for _, pat := range []string{base + ".E[0-9][0-9]", base + ".e[0-9][0-9]"} {
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, err
		}
		segments = append(segments, matches...)
	}
	if len(segments) == 0 {
		segments = []string{filename}
	}
	sort.Slice(segments, func(i, j int) bool {
		return strings.ToUpper(filepath.Ext(segments[i])) < strings.ToUpper(filepath.Ext(segments[j]))
	})
	return segments, nil
}

func OpenEWFFile[A ~int64](filename string) (_ *EWFFile[A], err error) {
	segments, err := ewfSegments(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ewf: %s: %v", filename, r)
		}
	}()
	img := new(ewfLib.EWF_Image)
	img.ParseEvidence(segments)
	size := int64(img.Chuncksize) * int64(img.NofChunks)
	if size <= 0 {
		return nil, fmt.Errorf("ewf: %s: image has no media data", filename)
	}
	return &EWFFile[A]{
		name: filename,
		img:  img,
		size: size,
	}, nil
}

func (f *EWFFile[A]) Name() string { return f.name }
func (f *EWFFile[A]) Size() A      { return A(f.size) }
func (f *EWFFile[A]) Close() error { return nil }

func (f *EWFFile[A]) ReadAt(dat []byte, off A) (int, error) {
	return readRetrieved(dat, int64(off), f.size, func(off, length int64) []byte {
		return f.img.RetrieveData(off, length)
	})
}

// readRetrieved adapts the "give me a slice" style of the image
// libraries to io.ReaderAt semantics.
func readRetrieved(dat []byte, off, size int64, retrieve func(off, length int64) []byte) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= size {
		return 0, io.EOF
	}
	want := int64(len(dat))
	if off+want > size {
		want = size - off
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read at %d: %v", off, r)
		}
	}()
	n = copy(dat, retrieve(off, want))
	if n < len(dat) {
		return n, io.EOF
	}
	return n, nil
}
