// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"context"
	"path/filepath"
	"strings"
)

var compressionExts = map[string]Compression{
	".gz":     CompressionGzip,
	".zlib":   CompressionZlib,
	".bz2":    CompressionBzip2,
	".snappy": CompressionSnappy,
	".s2":     CompressionS2,
	".zst":    CompressionZstd,
}

// Open opens a raw device or disk image, choosing the backend by
// file name.
func Open(ctx context.Context, filename string) (File[int64], error) {
	var (
		ret File[int64]
		err error
	)
	ext := strings.ToLower(filepath.Ext(filename))
	if algorithm, ok := compressionExts[ext]; ok {
		ret, err = nilIfErr(OpenCompressedFile[int64](ctx, filename, algorithm))
		return ret, err
	}
	switch {
	case ext == ".vmdk":
		ret, err = nilIfErr(OpenVMDKFile[int64](filename))
	case len(ext) == 4 && ext[:2] == ".e" && isDigit(ext[2]) && isDigit(ext[3]):
		ret, err = nilIfErr(OpenEWFFile[int64](filename))
	default:
		ret, err = nilIfErr(OpenOSFile[int64](filename))
	}
	return ret, err
}

// nilIfErr keeps a typed nil pointer from becoming a non-nil
// interface.
func nilIfErr[T File[int64]](f T, err error) (File[int64], error) {
	if err != nil {
		return nil, err
	}
	return f, nil
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
