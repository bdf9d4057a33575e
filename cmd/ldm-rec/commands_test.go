// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmtest"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmvol"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/vblk"
)

func loadFixture(t *testing.T, names ...string) *loaded {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	l := &loaded{
		Session: ldm.NewSession(ldm.Config{}),
		Failed:  make(map[string]error),
	}
	t.Cleanup(func() { assert.NoError(t, l.Session.Close()) })
	for _, name := range names {
		b := ldmtest.NewBuilder(name)
		disk1 := b.AddDisk("Disk1", 1000)
		disk2 := b.AddDisk("Disk2", 1000)

		vol := b.AddVolume("Volume1", "gen", 200)
		ldmtest.SetHint(vol, "E:")
		comp := b.AddComponent(vol, "Volume1-01", vblk.ComponentStriped, 16, 2)
		b.AddPartition(comp, disk1, "Disk1-01", 0, 0, 100, 0)
		b.AddPartition(comp, disk2, "Disk2-01", 0, 0, 100, 1)

		vol = b.AddVolume(name+"Only", "gen", 50)
		comp = b.AddComponent(vol, name+"Only-01", vblk.ComponentSpanned, 0, 0)
		b.AddPartition(comp, disk2, "Disk2-02", 100, 0, 50, 0)

		imgs, err := b.Images()
		require.NoError(t, err)
		for _, img := range imgs {
			path := name + "/" + img.Disk.Name + ".img"
			l.Settings.Disks = append(l.Settings.Disks, path)
			require.NoError(t, l.Session.AddDevice(ctx, img.File(path)))
		}
	}
	var err error
	l.Groups, err = l.Session.DiskGroups(ctx)
	require.NoError(t, err)
	return l
}

func TestFindVolume(t *testing.T) {
	t.Parallel()
	l := loadFixture(t, "DgA", "DgB")

	vol, err := findVolume(l.Groups, "DgBOnly")
	require.NoError(t, err)
	assert.Equal(t, "DgB", vol.DiskGroup().Name)

	vol, err = findVolume(l.Groups, "DgA/Volume1")
	require.NoError(t, err)
	assert.Equal(t, "DgA", vol.DiskGroup().Name)

	_, err = findVolume(l.Groups, "Volume1")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = findVolume(l.Groups, "DgA/DgBOnly")
	assert.ErrorContains(t, err, "no volume")
}

func TestDumpJSON(t *testing.T) {
	t.Parallel()
	l := loadFixture(t, "DgA")

	var buf bytes.Buffer
	require.NoError(t, writeJSONFile(&buf, dumpGroups(l.Groups), lowmemjson.ReEncoder{
		Indent:                "\t",
		ForceTrailingNewlines: true,
	}))

	var parsed []struct {
		Name    string
		Volumes []struct {
			Name    string
			Type    string
			Hint    string
			Disks   []string
			Targets []string
		}
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	require.Len(t, parsed, 1)
	assert.Equal(t, "DgA", parsed[0].Name)
	require.Len(t, parsed[0].Volumes, 2)
	assert.Equal(t, "striped", parsed[0].Volumes[0].Type)
	assert.Equal(t, "E:", parsed[0].Volumes[0].Hint)
	assert.Equal(t, []string{"Disk1", "Disk2"}, parsed[0].Volumes[0].Disks)
	assert.Len(t, parsed[0].Volumes[0].Targets, 1)
	assert.Equal(t, "simple", parsed[0].Volumes[1].Type)
}

func TestPrintOutput(t *testing.T) {
	t.Parallel()
	l := loadFixture(t, "DgA")
	l.Settings.Disks = append(l.Settings.Disks, "blank.img")
	l.Failed["blank.img"] = assert.AnError

	var buf bytes.Buffer
	printScan(&buf, l)
	assert.Contains(t, buf.String(), `of disk group "DgA"`)
	assert.Contains(t, buf.String(), "blank.img: "+assert.AnError.Error())
	assert.Contains(t, buf.String(), `disk group "DgA": 2 volumes, 2 of 2 disks present`)

	buf.Reset()
	printGroups(&buf, l.Groups)
	assert.Contains(t, buf.String(), "Disk Group: DgA\n")
	assert.Contains(t, buf.String(), "    Volume: Volume1\n")
	assert.Contains(t, buf.String(), "      Hint: E:\n")

	buf.Reset()
	printTables(dlog.NewTestContext(t, false), &buf, l.Groups[0].Volumes())
	assert.Contains(t, buf.String(), "Device: ldm_vol_DgA_Volume1\n0 200 striped 2 16 ")
}

func TestCopyVolume(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	l := loadFixture(t, "DgA")
	ldmVol, err := findVolume(l.Groups, "Volume1")
	require.NoError(t, err)
	vol, err := ldmvol.New(ldmVol, 4)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, vol.Close())
	}()

	var out bytes.Buffer
	require.NoError(t, copyVolume(ctx, &out, vol))
	assert.Equal(t, 200*512, out.Len())
}
