// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldm_test

import (
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmerr"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmtest"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/vblk"
)

// mappingVolume builds a 3-disk group around one volume named "Vol"
// and returns it.
func mappingVolume(t *testing.T, cfg ldm.Config, build func(*ldmtest.Builder, []*ldmtest.DiskFixture)) (*ldm.Volume, []*ldm.Disk) {
	t.Helper()
	ctx := dlog.NewTestContext(t, false)
	b := ldmtest.NewBuilder("MapDg0")
	fixtures := []*ldmtest.DiskFixture{
		b.AddDisk("Disk1", 2000),
		b.AddDisk("Disk2", 2000),
		b.AddDisk("Disk3", 2000),
	}
	build(b, fixtures)

	sess := ldm.NewSession(cfg)
	t.Cleanup(func() { assert.NoError(t, sess.Close()) })
	for _, img := range renderAll(t, b) {
		addImage(ctx, t, sess, img)
	}
	groups, err := sess.DiskGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	vol, ok := groups[0].Volume("Vol")
	require.True(t, ok)
	return vol, groups[0].Disks()
}

func at(disk *ldm.Disk, start ldmprim.PhysicalSector) ldm.Extent {
	return ldm.Extent{Disk: disk, Start: disk.DataStart + start}
}

// assertCovers checks that targets tile [0, size) in order, and that
// every mirror leg tiles its mirror's range.
func assertCovers(t *testing.T, targets []ldm.Target, off ldmprim.VolumeSector, size ldmprim.SectorCount) {
	t.Helper()
	next := off
	for _, target := range targets {
		start, length := target.Range()
		assert.Equal(t, next, start)
		assert.Greater(t, length, ldmprim.SectorCount(0))
		if mirror, ok := target.(*ldm.MirrorTarget); ok {
			for _, leg := range mirror.Legs {
				assertCovers(t, leg, start, length)
			}
		}
		next = start.Add(length)
	}
	assert.Equal(t, off.Add(size), next)
}

func TestMappingTargets(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Config  ldm.Config
		Build   func(*ldmtest.Builder, []*ldmtest.DiskFixture)
		ExpType ldm.VolumeType
		Exp     func([]*ldm.Disk) []ldm.Target
	}
	testcases := map[string]TestCase{
		"simple": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 500), "Vol-01", vblk.ComponentSpanned, 0, 0)
				b.AddPartition(comp, d[1], "Disk2-01", 100, 0, 500, -1)
			},
			ExpType: ldm.VolumeSimple,
			Exp: func(disks []*ldm.Disk) []ldm.Target {
				return []ldm.Target{
					&ldm.LinearTarget{Offset: 0, Length: 500, Backing: at(disks[1], 100)},
				}
			},
		},
		"spanned": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 500), "Vol-01", vblk.ComponentSpanned, 0, 0)
				b.AddPartition(comp, d[2], "Disk3-01", 0, 300, 200, -1)
				b.AddPartition(comp, d[0], "Disk1-01", 50, 0, 300, -1)
			},
			ExpType: ldm.VolumeSpanned,
			Exp: func(disks []*ldm.Disk) []ldm.Target {
				return []ldm.Target{
					&ldm.LinearTarget{Offset: 0, Length: 300, Backing: at(disks[0], 50)},
					&ldm.LinearTarget{Offset: 300, Length: 200, Backing: at(disks[2], 0)},
				}
			},
		},
		"striped-3-columns": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 192), "Vol-01", vblk.ComponentStriped, 64, 3)
				b.AddPartition(comp, d[0], "Disk1-01", 10, 0, 64, 0)
				b.AddPartition(comp, d[1], "Disk2-01", 20, 0, 64, 1)
				b.AddPartition(comp, d[2], "Disk3-01", 30, 0, 64, 2)
			},
			ExpType: ldm.VolumeStriped,
			Exp: func(disks []*ldm.Disk) []ldm.Target {
				return []ldm.Target{
					&ldm.StripedTarget{
						Offset:     0,
						Length:     192,
						StripeSize: 64,
						Columns:    []ldm.Extent{at(disks[0], 10), at(disks[1], 20), at(disks[2], 30)},
					},
				}
			},
		},
		"striped-2-segments": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 384), "Vol-01", vblk.ComponentStriped, 64, 2)
				b.AddPartition(comp, d[0], "Disk1-02", 500, 256, 64, 2)
				b.AddPartition(comp, d[1], "Disk2-01", 0, 0, 128, 1)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 128, 0)
				b.AddPartition(comp, d[1], "Disk2-02", 500, 256, 64, 3)
			},
			ExpType: ldm.VolumeStriped,
			Exp: func(disks []*ldm.Disk) []ldm.Target {
				return []ldm.Target{
					&ldm.StripedTarget{
						Offset:     0,
						Length:     256,
						StripeSize: 64,
						Columns:    []ldm.Extent{at(disks[0], 0), at(disks[1], 0)},
					},
					&ldm.StripedTarget{
						Offset:     256,
						Length:     128,
						StripeSize: 64,
						Columns:    []ldm.Extent{at(disks[0], 500), at(disks[1], 500)},
					},
				}
			},
		},
		"mirror": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				vol := b.AddVolume("Vol", "gen", 100)
				b.AddPartition(b.AddComponent(vol, "Vol-01", vblk.ComponentSpanned, 0, 0), d[0], "Disk1-01", 0, 0, 100, -1)
				b.AddPartition(b.AddComponent(vol, "Vol-02", vblk.ComponentSpanned, 0, 0), d[1], "Disk2-01", 7, 0, 100, -1)
			},
			ExpType: ldm.VolumeMirrored,
			Exp: func(disks []*ldm.Disk) []ldm.Target {
				return []ldm.Target{
					&ldm.MirrorTarget{
						Offset: 0,
						Length: 100,
						Legs: [][]ldm.Target{
							{&ldm.LinearTarget{Offset: 0, Length: 100, Backing: at(disks[0], 0)}},
							{&ldm.LinearTarget{Offset: 0, Length: 100, Backing: at(disks[1], 7)}},
						},
					},
				}
			},
		},
		"mirror-of-spans": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				vol := b.AddVolume("Vol", "gen", 100)
				comp := b.AddComponent(vol, "Vol-01", vblk.ComponentSpanned, 0, 0)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 40, -1)
				b.AddPartition(comp, d[2], "Disk3-01", 0, 40, 60, -1)
				b.AddPartition(b.AddComponent(vol, "Vol-02", vblk.ComponentSpanned, 0, 0), d[1], "Disk2-01", 0, 0, 100, -1)
			},
			ExpType: ldm.VolumeMirrored,
			Exp: func(disks []*ldm.Disk) []ldm.Target {
				return []ldm.Target{
					&ldm.MirrorTarget{
						Offset: 0,
						Length: 100,
						Legs: [][]ldm.Target{
							{
								&ldm.LinearTarget{Offset: 0, Length: 40, Backing: at(disks[0], 0)},
								&ldm.LinearTarget{Offset: 40, Length: 60, Backing: at(disks[2], 0)},
							},
							{&ldm.LinearTarget{Offset: 0, Length: 100, Backing: at(disks[1], 0)}},
						},
					},
				}
			},
		},
		"raid5": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "raid5", 256), "Vol-01", vblk.ComponentRAID, 64, 3)
				b.AddPartition(comp, d[2], "Disk3-01", 0, 0, 128, 2)
				b.AddPartition(comp, d[1], "Disk2-01", 0, 0, 128, 1)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 128, 0)
			},
			ExpType: ldm.VolumeRAID5,
			Exp: func(disks []*ldm.Disk) []ldm.Target {
				return []ldm.Target{
					&ldm.RAID5Target{
						Offset:     0,
						Length:     256,
						StripeSize: 64,
						Parity:     ldm.ParityLeftSymmetric,
						Columns:    []ldm.Extent{at(disks[0], 0), at(disks[1], 0), at(disks[2], 0)},
					},
				}
			},
		},
		"raid5-configured-parity": {
			Config: ldm.Config{RAID5Parity: ldm.ParityRightAsymmetric},
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "raid5", 128), "Vol-01", vblk.ComponentRAID, 32, 3)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 64, 0)
				b.AddPartition(comp, d[1], "Disk2-01", 0, 0, 64, 1)
				b.AddPartition(comp, d[2], "Disk3-01", 0, 0, 64, 2)
			},
			ExpType: ldm.VolumeRAID5,
			Exp: func(disks []*ldm.Disk) []ldm.Target {
				return []ldm.Target{
					&ldm.RAID5Target{
						Offset:     0,
						Length:     128,
						StripeSize: 32,
						Parity:     ldm.ParityRightAsymmetric,
						Columns:    []ldm.Extent{at(disks[0], 0), at(disks[1], 0), at(disks[2], 0)},
					},
				}
			},
		},
		"empty-partition": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 50), "Vol-01", vblk.ComponentSpanned, 0, 0)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 50, -1)
				b.AddPartition(comp, d[1], "Disk2-01", 0, 50, 0, -1)
			},
			ExpType: ldm.VolumeSpanned,
			Exp: func(disks []*ldm.Disk) []ldm.Target {
				return []ldm.Target{
					&ldm.LinearTarget{Offset: 0, Length: 50, Backing: at(disks[0], 0)},
				}
			},
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			vol, disks := mappingVolume(t, tc.Config, tc.Build)
			assert.Equal(t, tc.ExpType, vol.Type)
			targets, err := vol.MappingTargets()
			require.NoError(t, err)
			assert.Equal(t, tc.Exp(disks), targets)
			assertCovers(t, targets, 0, vol.Size)
		})
	}
}

func TestMappingTargetsFailures(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Build  func(*ldmtest.Builder, []*ldmtest.DiskFixture)
		ExpErr error
	}
	testcases := map[string]TestCase{
		"no-components": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				b.AddVolume("Vol", "gen", 10)
			},
			ExpErr: ldmerr.ErrUnsupportedLayout,
		},
		"gap": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 250), "Vol-01", vblk.ComponentSpanned, 0, 0)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 100, -1)
				b.AddPartition(comp, d[1], "Disk2-01", 0, 150, 100, -1)
			},
			ExpErr: ldmerr.ErrInconsistentExtents,
		},
		"overlap": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 150), "Vol-01", vblk.ComponentSpanned, 0, 0)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 100, -1)
				b.AddPartition(comp, d[1], "Disk2-01", 0, 50, 100, -1)
			},
			ExpErr: ldmerr.ErrInconsistentExtents,
		},
		"short": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 200), "Vol-01", vblk.ComponentSpanned, 0, 0)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 100, -1)
			},
			ExpErr: ldmerr.ErrInconsistentExtents,
		},
		"short-mirror-leg": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				vol := b.AddVolume("Vol", "gen", 100)
				b.AddPartition(b.AddComponent(vol, "Vol-01", vblk.ComponentSpanned, 0, 0), d[0], "Disk1-01", 0, 0, 100, -1)
				b.AddPartition(b.AddComponent(vol, "Vol-02", vblk.ComponentSpanned, 0, 0), d[1], "Disk2-01", 0, 0, 90, -1)
			},
			ExpErr: ldmerr.ErrInconsistentExtents,
		},
		"uneven-columns": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 192), "Vol-01", vblk.ComponentStriped, 64, 3)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 64, 0)
				b.AddPartition(comp, d[1], "Disk2-01", 0, 0, 64, 1)
				b.AddPartition(comp, d[2], "Disk3-01", 0, 0, 32, 2)
			},
			ExpErr: ldmerr.ErrInconsistentExtents,
		},
		"segment-ends-mid-stripe": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 328), "Vol-01", vblk.ComponentStriped, 64, 2)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 100, 0)
				b.AddPartition(comp, d[1], "Disk2-01", 0, 0, 100, 1)
				b.AddPartition(comp, d[0], "Disk1-02", 500, 200, 64, 2)
				b.AddPartition(comp, d[1], "Disk2-02", 500, 200, 64, 3)
			},
			ExpErr: ldmerr.ErrInconsistentExtents,
		},
		"partitions-not-multiple-of-columns": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 256), "Vol-01", vblk.ComponentStriped, 64, 3)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 64, 0)
				b.AddPartition(comp, d[1], "Disk2-01", 0, 0, 64, 1)
				b.AddPartition(comp, d[2], "Disk3-01", 0, 0, 64, 2)
				b.AddPartition(comp, d[0], "Disk1-02", 100, 0, 64, 3)
			},
			ExpErr: ldmerr.ErrUnsupportedLayout,
		},
		"raid5-two-columns": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "raid5", 64), "Vol-01", vblk.ComponentRAID, 64, 2)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 64, 0)
				b.AddPartition(comp, d[1], "Disk2-01", 0, 0, 64, 1)
			},
			ExpErr: ldmerr.ErrUnsupportedLayout,
		},
		"raid5-mirrored": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				vol := b.AddVolume("Vol", "raid5", 64)
				b.AddPartition(b.AddComponent(vol, "Vol-01", vblk.ComponentSpanned, 0, 0), d[0], "Disk1-01", 0, 0, 64, -1)
				b.AddPartition(b.AddComponent(vol, "Vol-02", vblk.ComponentSpanned, 0, 0), d[1], "Disk2-01", 0, 0, 64, -1)
			},
			ExpErr: ldmerr.ErrUnsupportedLayout,
		},
		"unknown-component-type": {
			Build: func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
				comp := b.AddComponent(b.AddVolume("Vol", "gen", 64), "Vol-01", vblk.ComponentType(9), 0, 0)
				b.AddPartition(comp, d[0], "Disk1-01", 0, 0, 64, -1)
			},
			ExpErr: ldmerr.ErrUnsupportedLayout,
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			vol, _ := mappingVolume(t, ldm.Config{}, tc.Build)
			targets, err := vol.MappingTargets()
			assert.ErrorIs(t, err, tc.ExpErr)
			assert.Contains(t, err.Error(), `volume "Vol"`)
			assert.Contains(t, err.Error(), `disk group "MapDg0"`)
			assert.Nil(t, targets)
		})
	}
}

func TestDisks(t *testing.T) {
	t.Parallel()
	vol, disks := mappingVolume(t, ldm.Config{}, func(b *ldmtest.Builder, d []*ldmtest.DiskFixture) {
		vol := b.AddVolume("Vol", "gen", 100)
		comp := b.AddComponent(vol, "Vol-01", vblk.ComponentSpanned, 0, 0)
		b.AddPartition(comp, d[2], "Disk3-01", 0, 0, 40, -1)
		b.AddPartition(comp, d[0], "Disk1-01", 0, 40, 60, -1)
		comp = b.AddComponent(vol, "Vol-02", vblk.ComponentSpanned, 0, 0)
		b.AddPartition(comp, d[0], "Disk1-02", 100, 0, 50, -1)
		b.AddPartition(comp, d[1], "Disk2-01", 0, 50, 50, -1)
	})
	targets, err := vol.MappingTargets()
	require.NoError(t, err)
	assert.Equal(t, []*ldm.Disk{disks[2], disks[0], disks[1]}, ldm.Disks(targets))
	assert.Equal(t, int64(512), vol.SectorSize())
}
