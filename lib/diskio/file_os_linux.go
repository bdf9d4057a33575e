// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package diskio

import (
	"os"

	"golang.org/x/sys/unix"
)

func sectorSize(fh *os.File) int64 {
	fi, err := fh.Stat()
	if err != nil || fi.Mode()&os.ModeDevice == 0 {
		return DefaultSectorSize
	}
	sz, err := unix.IoctlGetInt(int(fh.Fd()), unix.BLKSSZGET)
	if err != nil || sz <= 0 {
		return DefaultSectorSize
	}
	return int64(sz)
}
