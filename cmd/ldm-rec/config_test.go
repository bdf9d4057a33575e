// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "ldm-rec.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o600))
	return filename
}

func TestReadSettings(t *testing.T) {
	t.Parallel()
	filename := writeConfig(t, ""+
		"disks:\n"+
		"  - /dev/sdb\n"+
		"  - images/disk2.img\n"+
		"sector-size: 4096\n"+
		"allow-degraded: true\n"+
		"raid5-parity: right-asymmetric\n"+
		"cache-blocks: 16\n"+
		"verbosity: debug\n")
	cfg, err := readSettings(filename)
	require.NoError(t, err)
	assert.Equal(t, settings{
		Disks:         []string{"/dev/sdb", filepath.Join(filepath.Dir(filename), "images/disk2.img")},
		SectorSize:    4096,
		AllowDegraded: true,
		RAID5Parity:   ldm.ParityRightAsymmetric,
		CacheBlocks:   16,
		Verbosity:     "debug",
	}, cfg)
}

func TestReadSettingsErrors(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Content string
		ErrStr  string
	}
	testcases := map[string]TestCase{
		"unknown-key":  {Content: "disk: /dev/sdb\n", ErrStr: "field disk not found"},
		"bad-parity":   {Content: "raid5-parity: middle-out\n", ErrStr: "middle-out"},
		"bad-sectorsz": {Content: "sector-size: big\n", ErrStr: "cannot unmarshal"},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			_, err := readSettings(writeConfig(t, tc.Content))
			assert.ErrorContains(t, err, tc.ErrStr)
		})
	}
}

func TestReadSettingsEmpty(t *testing.T) {
	t.Parallel()
	cfg, err := readSettings(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, settings{}, cfg)
}

func TestReadSettingsMissing(t *testing.T) {
	t.Parallel()
	_, err := readSettings(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Error(t, err)
}

func TestSettingsOverride(t *testing.T) {
	t.Parallel()
	file := settings{
		Disks:       []string{"/dev/sdb"},
		SectorSize:  4096,
		RAID5Parity: ldm.ParityRightSymmetric,
	}

	var flagVals settings
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringArrayVar(&flagVals.Disks, "disk", nil, "")
	flags.Int64Var(&flagVals.SectorSize, "sector-size", 0, "")
	flags.BoolVar(&flagVals.AllowDegraded, "allow-degraded", false, "")
	flags.Var(&flagVals.RAID5Parity, "raid5-parity", "")
	flags.IntVar(&flagVals.CacheBlocks, "cache-blocks", defaultCacheBlocks, "")
	require.NoError(t, flags.Parse([]string{"--disk=/dev/sdc", "--allow-degraded"}))

	assert.Equal(t, settings{
		Disks:         []string{"/dev/sdb", "/dev/sdc"},
		SectorSize:    4096,
		AllowDegraded: true,
		RAID5Parity:   ldm.ParityRightSymmetric,
		CacheBlocks:   defaultCacheBlocks,
	}, file.override(flagVals, flags))
	assert.Equal(t, []string{"/dev/sdb"}, file.Disks)
}
