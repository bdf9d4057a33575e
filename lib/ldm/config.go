// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldm

// Config holds the tunables of a Session.
type Config struct {
	// SectorSize overrides the logical sector size of every added
	// device; 0 asks the device.
	SectorSize int64
	// AllowDegraded makes DiskGroups return groups whose only
	// defect is a member disk that has not been added; such disks
	// report Present() == false.
	AllowDegraded bool
	// RAID5Parity overrides the parity rotation assumed for RAID-5
	// components; "" means DefaultParity.
	RAID5Parity ParityLayout
}

func (cfg Config) parity() ParityLayout {
	if cfg.RAID5Parity == "" {
		return DefaultParity
	}
	return cfg.RAID5Parity
}
