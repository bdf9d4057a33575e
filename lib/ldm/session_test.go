// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldm_test

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ldm-progs-ng/lib/diskio"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmerr"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmtest"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/vblk"
	"git.lukeshu.com/ldm-progs-ng/lib/textui"
)

// threeDiskGroup has a simple volume, a spanned volume, and a
// 3-column striped volume spread over three disks.
func threeDiskGroup() (*ldmtest.Builder, []*ldmtest.DiskFixture) {
	b := ldmtest.NewBuilder("WinDg0")
	d1 := b.AddDisk("Disk1", 4000)
	d2 := b.AddDisk("Disk2", 4000)
	d3 := b.AddDisk("Disk3", 4000)

	simple := b.AddVolume("Volume1", "gen", 1000)
	ldmtest.SetHint(simple, "E:")
	comp := b.AddComponent(simple, "Volume1-01", vblk.ComponentSpanned, 0, 0)
	b.AddPartition(comp, d1, "Disk1-01", 0, 0, 1000, -1)

	spanned := b.AddVolume("Volume2", "gen", 1500)
	comp = b.AddComponent(spanned, "Volume2-01", vblk.ComponentSpanned, 0, 0)
	b.AddPartition(comp, d2, "Disk2-01", 0, 1000, 500, -1)
	b.AddPartition(comp, d1, "Disk1-02", 1000, 0, 1000, -1)

	striped := b.AddVolume("Volume3", "gen", 192)
	comp = b.AddComponent(striped, "Volume3-01", vblk.ComponentStriped, 64, 3)
	b.AddPartition(comp, d3, "Disk3-01", 0, 0, 64, 2)
	b.AddPartition(comp, d1, "Disk1-03", 2000, 0, 64, 0)
	b.AddPartition(comp, d2, "Disk2-02", 500, 0, 64, 1)

	return b, []*ldmtest.DiskFixture{d1, d2, d3}
}

func renderAll(t *testing.T, b *ldmtest.Builder) []*ldmtest.Image {
	t.Helper()
	imgs, err := b.Images()
	require.NoError(t, err)
	return imgs
}

func addImage(ctx context.Context, t *testing.T, sess *ldm.Session, img *ldmtest.Image) {
	t.Helper()
	require.NoError(t, sess.AddDevice(ctx, img.File(img.Disk.Name+".img")))
}

// describe renders everything DiskGroups returned, for comparing two
// sessions.
func describe(groups []*ldm.DiskGroup) string {
	var buf strings.Builder
	for _, dg := range groups {
		fmt.Fprintf(&buf, "group %s %v id=%d seq=%d\n", dg.Name, dg.GUID, dg.ID, dg.CommittedSeq)
		for _, disk := range dg.Disks() {
			fmt.Fprintf(&buf, "  disk %s %v dev=%q present=%v data=%d+%d meta=%d+%d\n",
				disk.Name, disk.GUID, disk.Device, disk.Present(),
				disk.DataStart, disk.DataSize, disk.MetadataStart, disk.MetadataSize)
		}
		for _, vol := range dg.Volumes() {
			fmt.Fprintf(&buf, "  volume %s %v size=%d hint=%q\n", vol.Name, vol.Type, vol.Size, vol.Hint)
			for _, comp := range vol.Components() {
				fmt.Fprintf(&buf, "    component %s %v stripe=%d cols=%d\n", comp.Name, comp.Type, comp.StripeSize, comp.NColumns)
				for _, part := range comp.Partitions() {
					fmt.Fprintf(&buf, "      partition %s %d@%d+%d idx=%d disk=%s\n",
						part.Name, part.VolOffset, part.Start, part.Size, part.Index, part.Disk().Name)
				}
			}
			targets, err := vol.MappingTargets()
			fmt.Fprintf(&buf, "    targets %v err=%v\n", targets, err)
		}
	}
	return buf.String()
}

func TestSessionBasic(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	b, disks := threeDiskGroup()
	sess := ldm.NewSession(ldm.Config{})
	defer func() { assert.NoError(t, sess.Close()) }()
	for _, img := range renderAll(t, b) {
		addImage(ctx, t, sess, img)
	}

	groups, err := sess.DiskGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	dg := groups[0]
	assert.Equal(t, "WinDg0", dg.Name)
	assert.Equal(t, b.GUID, dg.GUID)
	assert.Equal(t, uint64(10), dg.CommittedSeq)
	assert.True(t, dg.Complete())

	require.Len(t, dg.Disks(), 3)
	for i, disk := range dg.Disks() {
		assert.Equal(t, disks[i].GUID, disk.GUID)
		assert.Equal(t, disks[i].Name+".img", disk.Device)
		assert.True(t, disk.Present())
		assert.Equal(t, int64(512), disk.SectorSize)
	}

	vols := dg.Volumes()
	require.Len(t, vols, 3)
	assert.Equal(t, []string{"Volume1", "Volume2", "Volume3"},
		[]string{vols[0].Name, vols[1].Name, vols[2].Name})
	assert.Equal(t, ldm.VolumeSimple, vols[0].Type)
	assert.Equal(t, "E:", vols[0].Hint)
	assert.Equal(t, ldm.VolumeSpanned, vols[1].Type)
	assert.Equal(t, ldm.VolumeStriped, vols[2].Type)
	assert.Same(t, dg, vols[2].DiskGroup())

	// Column order comes from the recorded index, not record order.
	comps := vols[2].Components()
	require.Len(t, comps, 1)
	parts := comps[0].Partitions()
	require.Len(t, parts, 3)
	assert.Equal(t, []string{"Disk1-03", "Disk2-02", "Disk3-01"},
		[]string{parts[0].Name, parts[1].Name, parts[2].Name})
	assert.Same(t, comps[0], parts[0].Component())

	// A disk shared between volumes is one object.
	assert.Same(t, vols[0].Components()[0].Partitions()[0].Disk(), parts[0].Disk())

	recs, ok := sess.Records(disks[0].GUID)
	require.True(t, ok)
	assert.Len(t, recs, len(b.Records()))
	assert.Len(t, sess.Devices(), 3)
}

func TestSessionIdempotent(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	b, _ := threeDiskGroup()
	imgs := renderAll(t, b)

	once := ldm.NewSession(ldm.Config{})
	twice := ldm.NewSession(ldm.Config{})
	for _, img := range imgs {
		addImage(ctx, t, once, img)
		addImage(ctx, t, twice, img)
		addImage(ctx, t, twice, img)
	}
	addImage(ctx, t, twice, imgs[0])

	groupsOnce, err := once.DiskGroups(ctx)
	require.NoError(t, err)
	groupsTwice, err := twice.DiskGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, describe(groupsOnce), describe(groupsTwice))
	assert.Len(t, twice.Devices(), 3)
}

func TestSessionOrderIndependent(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	b, _ := threeDiskGroup()
	imgs := renderAll(t, b)

	orders := [][]int{
		{0, 1, 2},
		{2, 1, 0},
		{1, 2, 0},
		{2, 0, 1},
	}
	var descs []string
	for _, order := range orders {
		sess := ldm.NewSession(ldm.Config{})
		for _, i := range order {
			addImage(ctx, t, sess, imgs[i])
		}
		groups, err := sess.DiskGroups(ctx)
		require.NoError(t, err)
		descs = append(descs, describe(groups))
	}
	for _, desc := range descs[1:] {
		assert.Equal(t, descs[0], desc)
	}
}

func TestSessionIncomplete(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	b, disks := threeDiskGroup()
	imgs := renderAll(t, b)

	sess := ldm.NewSession(ldm.Config{})
	addImage(ctx, t, sess, imgs[0])
	addImage(ctx, t, sess, imgs[2])

	groups, err := sess.DiskGroups(ctx)
	assert.ErrorIs(t, err, ldmerr.ErrIncompleteDiskGroup)
	assert.Contains(t, err.Error(), "WinDg0")
	assert.Contains(t, err.Error(), disks[1].GUID.String())
	assert.Empty(t, groups)

	// Adding the missing disk resolves it without re-adding the
	// others.
	addImage(ctx, t, sess, imgs[1])
	groups, err = sess.DiskGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Complete())
}

func TestSessionDegraded(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	b, _ := threeDiskGroup()
	imgs := renderAll(t, b)

	sess := ldm.NewSession(ldm.Config{AllowDegraded: true})
	addImage(ctx, t, sess, imgs[0])
	addImage(ctx, t, sess, imgs[1])

	groups, err := sess.DiskGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	dg := groups[0]
	assert.False(t, dg.Complete())

	disks := dg.Disks()
	require.Len(t, disks, 3)
	assert.True(t, disks[0].Present())
	assert.False(t, disks[2].Present())
	assert.Nil(t, disks[2].File())
	assert.Equal(t, "", disks[2].Device)

	// Mapping is geometry only; the absent disk is still named.
	vol, ok := dg.Volume("Volume3")
	require.True(t, ok)
	targets, err := vol.MappingTargets()
	require.NoError(t, err)
	assert.Contains(t, ldm.Disks(targets), disks[2])
}

func TestSessionNotLdm(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	b, _ := threeDiskGroup()
	imgs := renderAll(t, b)

	sess := ldm.NewSession(ldm.Config{})
	addImage(ctx, t, sess, imgs[0])

	blank := diskio.NewMemFile[int64]("blank.img", make([]byte, 1<<20), 512)
	err := sess.AddDevice(ctx, blank)
	assert.ErrorIs(t, err, ldmerr.ErrNotLdm)
	assert.Contains(t, err.Error(), "blank.img")

	bad := renderAll(t, b)[1]
	copy(bad.Bytes[bad.PrivHeadSector.Bytes(512):], "NOTAHEAD")
	err = sess.AddDevice(ctx, bad.File("bad.img"))
	assert.ErrorIs(t, err, ldmerr.ErrNotLdm)

	addImage(ctx, t, sess, imgs[1])
	addImage(ctx, t, sess, imgs[2])
	groups, err := sess.DiskGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 1)
	assert.Len(t, sess.Devices(), 3)
}

func TestSessionCorruptDisk(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	b, disks := threeDiskGroup()
	b.SlotSize = 64
	imgs := renderAll(t, b)

	// Drop the second fragment of Disk2's first multi-slot record.
	bad := imgs[1]
	corrupted := false
	for i := bad.FirstSlot; i < bad.FirstSlot+bad.NumSlots; i++ {
		slot := bad.Slot(i)
		if binary.BigEndian.Uint16(slot[0xe:]) > 1 && binary.BigEndian.Uint16(slot[0xc:]) == 1 {
			binary.BigEndian.PutUint16(slot[0xe:], 0)
			corrupted = true
			break
		}
	}
	require.True(t, corrupted)

	sess := ldm.NewSession(ldm.Config{})
	defer func() { assert.NoError(t, sess.Close()) }()
	err := sess.AddDevice(ctx, bad.File("Disk2.img"))
	assert.ErrorIs(t, err, ldmerr.ErrTruncatedRecord)
	assert.Contains(t, err.Error(), "Disk2.img")
	assert.Contains(t, err.Error(), "WinDg0")
	assert.Empty(t, sess.Devices())

	addImage(ctx, t, sess, imgs[0])
	addImage(ctx, t, sess, imgs[2])
	clean, err := b.Image(disks[1])
	require.NoError(t, err)
	addImage(ctx, t, sess, clean)

	groups, err := sess.DiskGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Complete())
	assert.Len(t, groups[0].Volumes(), 3)
	assert.Len(t, sess.Devices(), 3)
}

func TestSessionNewestDatabaseWins(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	b, disks := threeDiskGroup()
	old := renderAll(t, b)

	// The volume was renamed after Disk1 was last seen.
	for _, rec := range b.Records() {
		if vol, ok := rec.(*vblk.Volume); ok && vol.Name == "Volume2" {
			vol.Name = "Renamed"
		}
	}
	b.CommittedSeq = 11
	newer, err := b.Image(disks[1])
	require.NoError(t, err)

	for name, imgs := range map[string][]*ldmtest.Image{
		"old-first": {old[0], newer, old[2]},
		"new-first": {newer, old[2], old[0]},
	} {
		imgs := imgs
		t.Run(name, func(t *testing.T) {
			sess := ldm.NewSession(ldm.Config{})
			for _, img := range imgs {
				addImage(ctx, t, sess, img)
			}
			groups, err := sess.DiskGroups(ctx)
			require.NoError(t, err)
			require.Len(t, groups, 1)
			assert.Equal(t, uint64(11), groups[0].CommittedSeq)
			_, ok := groups[0].Volume("Renamed")
			assert.True(t, ok)
			_, ok = groups[0].Volume("Volume2")
			assert.False(t, ok)
		})
	}
}

func TestSessionDanglingReference(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	b, disks := threeDiskGroup()
	vol := b.AddVolume("Volume4", "gen", 10)
	comp := b.AddComponent(vol, "Volume4-01", vblk.ComponentSpanned, 0, 0)
	b.AddPartition(comp, &ldmtest.DiskFixture{ID: 999, Name: "Ghost"}, "Ghost-01", 0, 0, 10, -1)

	sess := ldm.NewSession(ldm.Config{AllowDegraded: true})
	for _, d := range disks {
		img, err := b.Image(d)
		require.NoError(t, err)
		addImage(ctx, t, sess, img)
	}
	_, err := sess.DiskGroups(ctx)
	assert.ErrorIs(t, err, ldmerr.ErrIncompleteDiskGroup)
	assert.Contains(t, err.Error(), `volume "Volume4"`)
}

func TestSessionOrphanRecords(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	ctx := dlog.WithLogger(context.Background(), textui.NewLogger(&out, dlog.LogLevelInfo))
	b, disks := threeDiskGroup()
	orphanComp := b.AddComponent(&vblk.Volume{Object: vblk.Object{ID: 998}}, "Orphan-01", vblk.ComponentSpanned, 0, 0)
	orphanPart := b.AddPartition(&vblk.Component{Object: vblk.Object{ID: 997}}, disks[0], "Orphan-02", 3000, 0, 10, -1)

	sess := ldm.NewSession(ldm.Config{})
	defer func() { assert.NoError(t, sess.Close()) }()
	for _, img := range renderAll(t, b) {
		addImage(ctx, t, sess, img)
	}
	groups, err := sess.DiskGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Complete())
	assert.Len(t, groups[0].Volumes(), 3)

	assert.Contains(t, out.String(), fmt.Sprintf(`ignoring component %d "Orphan-01": volume 998 has no record`, orphanComp.ID))
	assert.Contains(t, out.String(), fmt.Sprintf(`ignoring partition %d "Orphan-02": component 997 has no record`, orphanPart.ID))
}

func TestSessionAddDisk(t *testing.T) {
	t.Parallel()
	ctx := dlog.NewTestContext(t, false)
	b, _ := threeDiskGroup()
	dir := t.TempDir()

	sess := ldm.NewSession(ldm.Config{})
	for _, img := range renderAll(t, b) {
		filename := filepath.Join(dir, img.Disk.Name+".img")
		require.NoError(t, os.WriteFile(filename, img.Bytes, 0o600))
		require.NoError(t, sess.AddDisk(ctx, filename))
		require.NoError(t, sess.AddDisk(ctx, filename))
	}
	assert.Error(t, sess.AddDisk(ctx, filepath.Join(dir, "missing.img")))

	groups, err := sess.DiskGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, filepath.Join(dir, "Disk1.img"), groups[0].Disks()[0].Device)
	assert.NoError(t, sess.Close())
	assert.Empty(t, sess.Devices())
}
