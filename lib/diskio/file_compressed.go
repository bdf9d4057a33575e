// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/dsnet/compress/bzip2"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies the codec of a compressed raw image.
type Compression string

const (
	CompressionNone   Compression = ""
	CompressionGzip   Compression = "gzip"
	CompressionZlib   Compression = "zlib"
	CompressionBzip2  Compression = "bzip2"
	CompressionSnappy Compression = "snappy"
	CompressionS2     Compression = "s2"
	CompressionZstd   Compression = "zstd"
)

func newDecompressor(algorithm Compression, r io.Reader) (io.ReadCloser, error) {
	switch algorithm {
	case CompressionGzip:
		return gzip.NewReader(r)
	case CompressionZlib:
		return zlib.NewReader(r)
	case CompressionBzip2:
		return bzip2.NewReader(r, &bzip2.ReaderConfig{})
	case CompressionSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case CompressionS2:
		return io.NopCloser(s2.NewReader(r)), nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %q", algorithm)
	}
}

// SpoolFile is a compressed image that has been decompressed into an
// unlinked temporary file.
type SpoolFile[A ~int64] struct {
	OSFile[A]
	name string
}

var _ File[assertAddr] = (*SpoolFile[assertAddr])(nil)

func (f *SpoolFile[A]) Name() string { return f.name }

// OpenCompressedFile decompresses a whole image so that it can be
// read at random offsets.
func OpenCompressedFile[A ~int64](ctx context.Context, filename string, algorithm Compression) (*SpoolFile[A], error) {
	src, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = src.Close()
	}()
	dec, err := newDecompressor(algorithm, src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	defer func() {
		_ = dec.Close()
	}()

	spool, err := os.CreateTemp("", "ldm-spool-*.img")
	if err != nil {
		return nil, err
	}
	// The spool stays readable through the open handle.
	_ = os.Remove(spool.Name())

	dlog.Infof(ctx, "decompressing %s image %q...", algorithm, filename)
	size, err := io.Copy(spool, dec)
	if err != nil {
		_ = spool.Close()
		return nil, fmt.Errorf("%s: decompress: %w", filename, err)
	}
	dlog.Infof(ctx, "decompressing %s image %q... done (%s)", algorithm, filename, humanize.IBytes(uint64(size)))

	return &SpoolFile[A]{
		OSFile: OSFile[A]{
			File:       spool,
			size:       size,
			sectorSize: DefaultSectorSize,
		},
		name: filename,
	}, nil
}
