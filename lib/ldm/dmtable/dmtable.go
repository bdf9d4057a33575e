// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dmtable renders LDM volumes as Linux device-mapper tables,
// suitable for `dmsetup create NAME --table`.
package dmtable

import (
	"fmt"
	"strings"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmerr"
)

// dmSectorSize is the unit of every device-mapper table.
const dmSectorSize = 512

// raid1RegionSize is the (ignored, but mandatory) chunk size argument
// given to dm-raid for raid1.
const raid1RegionSize = 128

// Line is one line of a table.  Start and Length are in 512-byte
// sectors.
type Line struct {
	Start  uint64
	Length uint64
	Target string
	Args   []string
}

func (l Line) String() string {
	return fmt.Sprintf("%d %d %s %s", l.Start, l.Length, l.Target, strings.Join(l.Args, " "))
}

// Table is the table of one device-mapper device.
type Table struct {
	Name  string
	Lines []Line
}

// String renders the table in dmsetup syntax, one line per target,
// each newline-terminated.
func (t Table) String() string {
	var buf strings.Builder
	for _, line := range t.Lines {
		buf.WriteString(line.String())
		buf.WriteByte('\n')
	}
	return buf.String()
}

// DeviceName is the device-mapper name of a volume.
func DeviceName(vol *ldm.Volume) string {
	return "ldm_vol_" + sanitize(vol.DiskGroup().Name) + "_" + sanitize(vol.Name)
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r <= ' ' || r == 0x7f:
			return '_'
		default:
			return r
		}
	}, name)
}

func mapperPath(name string) string {
	return "/dev/mapper/" + name
}

var raid5Types = map[ldm.ParityLayout]string{
	ldm.ParityLeftAsymmetric:  "raid5_la",
	ldm.ParityLeftSymmetric:   "raid5_ls",
	ldm.ParityRightAsymmetric: "raid5_ra",
	ldm.ParityRightSymmetric:  "raid5_rs",
}

// Tables returns the tables needed to create vol.  Devices that the
// volume's own table refers to (mirror legs, RAID-5 members) come
// first; the volume's table, named DeviceName(vol), is last.
//
// Mirror legs and RAID-5 members on absent disks are left out of the
// array.  A linear or striped range on an absent disk is an error.
func Tables(vol *ldm.Volume) ([]Table, error) {
	targets, err := vol.MappingTargets()
	if err != nil {
		return nil, err
	}
	sectorSize := vol.SectorSize()
	if sectorSize%dmSectorSize != 0 {
		return nil, ldmerr.WithVolume(ldmerr.Errorf(ldmerr.ErrUnsupportedLayout,
			"sector size %d is not a multiple of %d", sectorSize, dmSectorSize), vol.Name)
	}
	g := &generator{
		scale: uint64(sectorSize / dmSectorSize),
	}
	name := DeviceName(vol)
	top, err := g.table(name, targets)
	if err != nil {
		return nil, ldmerr.WithDiskGroup(ldmerr.WithVolume(err, vol.Name), vol.DiskGroup().Name)
	}
	return append(g.deps, top), nil
}

type generator struct {
	scale uint64
	deps  []Table
}

func (g *generator) table(name string, targets []ldm.Target) (Table, error) {
	tbl := Table{Name: name}
	for i, target := range targets {
		segName := name
		if len(targets) > 1 {
			segName = fmt.Sprintf("%s_s%d", name, i)
		}
		line, err := g.line(segName, target)
		if err != nil {
			return Table{}, err
		}
		tbl.Lines = append(tbl.Lines, line)
	}
	return tbl, nil
}

func (g *generator) extent(e ldm.Extent) (string, error) {
	if !e.Disk.Present() {
		return "", fmt.Errorf("disk %q (%v) is absent", e.Disk.Name, e.Disk.GUID)
	}
	return fmt.Sprintf("%s %d", e.Disk.Device, uint64(e.Start)*g.scale), nil
}

func (g *generator) line(name string, target ldm.Target) (Line, error) {
	start, length := target.Range()
	ret := Line{
		Start:  uint64(start) * g.scale,
		Length: uint64(length) * g.scale,
	}
	switch target := target.(type) {
	case *ldm.LinearTarget:
		ext, err := g.extent(target.Backing)
		if err != nil {
			return Line{}, err
		}
		ret.Target = "linear"
		ret.Args = []string{ext}
	case *ldm.StripedTarget:
		ret.Target = "striped"
		ret.Args = []string{
			fmt.Sprint(len(target.Columns)),
			fmt.Sprint(uint64(target.StripeSize) * g.scale),
		}
		for _, col := range target.Columns {
			ext, err := g.extent(col)
			if err != nil {
				return Line{}, err
			}
			ret.Args = append(ret.Args, ext)
		}
	case *ldm.MirrorTarget:
		ret.Target = "raid"
		ret.Args = []string{"raid1", "1", fmt.Sprint(raid1RegionSize), fmt.Sprint(len(target.Legs))}
		for i, leg := range target.Legs {
			if !present(leg) {
				ret.Args = append(ret.Args, "-", "-")
				continue
			}
			legName := fmt.Sprintf("%s_leg%d", name, i)
			tbl, err := g.table(legName, leg)
			if err != nil {
				return Line{}, err
			}
			g.deps = append(g.deps, tbl)
			ret.Args = append(ret.Args, "-", mapperPath(legName))
		}
	case *ldm.RAID5Target:
		typ, ok := raid5Types[target.Parity]
		if !ok {
			return Line{}, ldmerr.Errorf(ldmerr.ErrUnsupportedLayout, "unknown parity layout %q", target.Parity)
		}
		colLen := uint64(target.ColumnLength()) * g.scale
		ret.Target = "raid"
		ret.Args = []string{typ, "1", fmt.Sprint(uint64(target.StripeSize) * g.scale), fmt.Sprint(len(target.Columns))}
		for i, col := range target.Columns {
			if !col.Disk.Present() {
				ret.Args = append(ret.Args, "-", "-")
				continue
			}
			ext, err := g.extent(col)
			if err != nil {
				return Line{}, err
			}
			colName := fmt.Sprintf("%s_col%d", name, i)
			g.deps = append(g.deps, Table{
				Name: colName,
				Lines: []Line{{
					Start:  0,
					Length: colLen,
					Target: "linear",
					Args:   []string{ext},
				}},
			})
			ret.Args = append(ret.Args, "-", mapperPath(colName))
		}
	default:
		panic(fmt.Errorf("should not happen: unknown target type %T", target))
	}
	return ret, nil
}

func present(targets []ldm.Target) bool {
	for _, disk := range ldm.Disks(targets) {
		if !disk.Present() {
			return false
		}
	}
	return true
}
