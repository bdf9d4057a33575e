// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ldm-progs-ng/lib/diskio"
)

func testImage(size int) []byte {
	dat := make([]byte, size)
	for i := range dat {
		dat[i] = byte(i*7 + i/256)
	}
	return dat
}

func TestBufferedFile(t *testing.T) {
	t.Parallel()
	dat := testImage(10000)
	type TestCase struct {
		Off    int64
		Len    int
		ExpN   int
		ExpErr error
	}
	testcases := map[string]TestCase{
		"within-block":   {Off: 10, Len: 20, ExpN: 20},
		"across-blocks":  {Off: 500, Len: 2000, ExpN: 2000},
		"aligned":        {Off: 1024, Len: 1024, ExpN: 1024},
		"tail":           {Off: 9990, Len: 10, ExpN: 10},
		"past-end":       {Off: 9990, Len: 20, ExpN: 10, ExpErr: io.EOF},
		"start-past-end": {Off: 10000, Len: 20, ExpN: 0, ExpErr: io.EOF},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			bf := diskio.NewBufferedFile[int64](diskio.NewMemFile[int64]("mem", dat, 512), 1024, 4)
			buf := make([]byte, tc.Len)
			n, err := bf.ReadAt(buf, tc.Off)
			assert.Equal(t, tc.ExpN, n)
			assert.Equal(t, tc.ExpErr, err)
			assert.Equal(t, dat[tc.Off:tc.Off+int64(n)], buf[:n])
		})
	}
}

func TestBufferedFileReuse(t *testing.T) {
	t.Parallel()
	dat := testImage(4096)
	bf := diskio.NewBufferedFile[int64](diskio.NewMemFile[int64]("mem", dat, 4096), 512, 2)
	assert.Equal(t, int64(4096), bf.Size())
	assert.Equal(t, int64(4096), bf.SectorSize())
	for i := 0; i < 3; i++ {
		for off := int64(0); off < 4096; off += 333 {
			buf := make([]byte, 100)
			n, _ := bf.ReadAt(buf, off)
			assert.Equal(t, dat[off:off+int64(n)], buf[:n])
		}
	}
	assert.NoError(t, bf.Close())
}

func TestReadFull(t *testing.T) {
	t.Parallel()
	f := diskio.NewMemFile[int64]("mem", testImage(100), 512)
	assert.NoError(t, diskio.ReadFull[int64](f, make([]byte, 50), 50))
	assert.ErrorIs(t, diskio.ReadFull[int64](f, make([]byte, 50), 60), io.ErrUnexpectedEOF)
}

func TestOpenOSFile(t *testing.T) {
	t.Parallel()
	dat := testImage(3000)
	filename := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(filename, dat, 0o600))

	f, err := diskio.Open(dlog.NewTestContext(t, false), filename)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, f.Close())
	}()
	assert.Equal(t, filename, f.Name())
	assert.Equal(t, int64(3000), f.Size())
	assert.Equal(t, int64(diskio.DefaultSectorSize), diskio.SectorSize(f))

	buf := make([]byte, 100)
	require.NoError(t, diskio.ReadFull(f, buf, 2000))
	assert.Equal(t, dat[2000:2100], buf)
}

func TestOpenMissing(t *testing.T) {
	t.Parallel()
	f, err := diskio.Open(dlog.NewTestContext(t, false), filepath.Join(t.TempDir(), "nonexistent"))
	assert.Error(t, err)
	assert.Nil(t, f)
}

func TestOpenCompressed(t *testing.T) {
	t.Parallel()
	dat := testImage(64 * 1024)
	type TestCase struct {
		Ext      string
		Compress func(w io.Writer) io.WriteCloser
	}
	testcases := map[string]TestCase{
		"gzip": {
			Ext: ".gz",
			Compress: func(w io.Writer) io.WriteCloser {
				return gzip.NewWriter(w)
			},
		},
		"zstd": {
			Ext: ".zst",
			Compress: func(w io.Writer) io.WriteCloser {
				enc, err := zstd.NewWriter(w)
				require.NoError(t, err)
				return enc
			},
		},
		"bzip2": {
			Ext: ".bz2",
			Compress: func(w io.Writer) io.WriteCloser {
				enc, err := bzip2.NewWriter(w, &bzip2.WriterConfig{})
				require.NoError(t, err)
				return enc
			},
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			var compressed bytes.Buffer
			w := tc.Compress(&compressed)
			_, err := w.Write(dat)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			filename := filepath.Join(t.TempDir(), "disk.img"+tc.Ext)
			require.NoError(t, os.WriteFile(filename, compressed.Bytes(), 0o600))

			f, err := diskio.Open(dlog.NewTestContext(t, false), filename)
			require.NoError(t, err)
			defer func() {
				assert.NoError(t, f.Close())
			}()
			assert.Equal(t, filename, f.Name())
			assert.Equal(t, int64(len(dat)), f.Size())
			buf := make([]byte, 4096)
			require.NoError(t, diskio.ReadFull(f, buf, 8192))
			assert.Equal(t, dat[8192:8192+4096], buf)
		})
	}
}
