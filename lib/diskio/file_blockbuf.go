// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"io"

	"git.lukeshu.com/ldm-progs-ng/lib/containers"
)

// block is one cached, block-aligned read.  Dat is shorter than the
// block size only at the end of the device or on error, in which
// case Err says why.
type block struct {
	Dat []byte
	Err error
}

// BufferedFile caches fixed-size, block-aligned reads of an inner
// File.  Blocks are never written back, so a block is immutable once
// loaded and may be shared by concurrent readers.
type BufferedFile[A ~int64] struct {
	inner     File[A]
	blockSize A
	cache     *containers.LRUCache[A, *block]
}

var _ File[assertAddr] = (*BufferedFile[assertAddr])(nil)

// NewBufferedFile wraps file with a cache of cacheSize blocks of
// blockSize bytes each.
func NewBufferedFile[A ~int64](file File[A], blockSize A, cacheSize int) *BufferedFile[A] {
	return &BufferedFile[A]{
		inner:     file,
		blockSize: blockSize,
		cache:     containers.NewLRUCache[A, *block](cacheSize),
	}
}

func (bf *BufferedFile[A]) Name() string      { return bf.inner.Name() }
func (bf *BufferedFile[A]) Size() A           { return bf.inner.Size() }
func (bf *BufferedFile[A]) SectorSize() int64 { return SectorSize(bf.inner) }

func (bf *BufferedFile[A]) Close() error {
	bf.cache.Purge()
	return bf.inner.Close()
}

func (bf *BufferedFile[A]) load(start A) *block {
	return bf.cache.GetOrElse(start, func() *block {
		dat := make([]byte, bf.blockSize)
		n, err := bf.inner.ReadAt(dat, start)
		if n < len(dat) && err == nil {
			err = io.EOF
		}
		return &block{Dat: dat[:n], Err: err}
	})
}

func (bf *BufferedFile[A]) ReadAt(dat []byte, off A) (int, error) {
	var done int
	for done < len(dat) {
		pos := off + A(done)
		within := pos % bf.blockSize
		blk := bf.load(pos - within)
		if int(within) >= len(blk.Dat) {
			return done, blk.Err
		}
		n := copy(dat[done:], blk.Dat[within:])
		done += n
		if done < len(dat) && len(blk.Dat) < int(bf.blockSize) {
			// a short block can only be followed by more errors
			return done, blk.Err
		}
	}
	return done, nil
}
