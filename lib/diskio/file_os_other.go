// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !linux

package diskio

import (
	"os"
)

func sectorSize(*os.File) int64 {
	return DefaultSectorSize
}
