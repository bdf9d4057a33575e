// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldmvol

import (
	"fmt"

	"github.com/datawire/dlib/derror"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

// geometry describes the rows of a striped or RAID-5 target, in
// bytes.  Rows are chunk bytes tall on each column, except that a
// column length that is not a multiple of the stripe size leaves a
// shorter final row.
type geometry struct {
	chunk    int64
	fullRows int64
	tail     int64
	dataCols int64
}

func (v *Volume) geometry(stripe, colLen ldmprim.SectorCount, dataCols int) geometry {
	return geometry{
		chunk:    stripe.Bytes(v.sectorSize),
		fullRows: int64(colLen / stripe),
		tail:     (colLen % stripe).Bytes(v.sectorSize),
		dataCols: int64(dataCols),
	}
}

// position is where a byte of the target's data lives.
type position struct {
	row    int64
	chunk  int64 // index of the data chunk within the target
	colOff int64 // offset within the column
	avail  int64 // bytes left in the chunk
}

func (g geometry) locate(rel int64) position {
	rowBytes := g.chunk * g.dataCols
	if row := rel / rowBytes; row < g.fullRows {
		within := rel % g.chunk
		return position{
			row:    row,
			chunk:  rel / g.chunk,
			colOff: row*g.chunk + within,
			avail:  g.chunk - within,
		}
	}
	rel -= g.fullRows * rowBytes
	d := rel / g.tail
	within := rel % g.tail
	return position{
		row:    g.fullRows,
		chunk:  g.fullRows*g.dataCols + d,
		colOff: g.fullRows*g.chunk + within,
		avail:  g.tail - within,
	}
}

func (v *Volume) readRAID5(target *ldm.RAID5Target, dat []byte, rel int64) (int, error) {
	n := len(target.Columns)
	g := v.geometry(target.StripeSize, target.ColumnLength(), n-1)
	pos := g.locate(rel)
	if int64(len(dat)) > pos.avail {
		dat = dat[:pos.avail]
	}
	d := int(pos.chunk - pos.row*g.dataCols)
	dataCol, _ := target.Parity.Place(pos.row, d, n)

	col := target.Columns[dataCol]
	_, err := v.readDisk(col.Disk, dat, col.Start.Bytes(v.sectorSize)+pos.colOff)
	if err == nil {
		return len(dat), nil
	}

	// Rebuild the chunk from the other columns, parity included.
	for i := range dat {
		dat[i] = 0
	}
	buf := make([]byte, len(dat))
	errs := derror.MultiError{err}
	for i, other := range target.Columns {
		if i == dataCol {
			continue
		}
		if _, err := v.readDisk(other.Disk, buf, other.Start.Bytes(v.sectorSize)+pos.colOff); err != nil {
			errs = append(errs, err)
			continue
		}
		for j := range dat {
			dat[j] ^= buf[j]
		}
	}
	if len(errs) > 1 {
		return 0, fmt.Errorf("read %q: cannot reconstruct RAID-5 chunk: %w", v.name, errs)
	}
	return len(dat), nil
}
