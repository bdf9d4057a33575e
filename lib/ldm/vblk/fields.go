// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package vblk

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

// MaxNumLen is the widest variable-length number; numbers are
// stored as a length byte followed by that many big-endian bytes.
const MaxNumLen = 8

// fieldReader walks the variable-length body of a record.  The
// first error sticks, and every later read returns zero values.
type fieldReader struct {
	dat []byte
	pos int
	err error
}

func (r *fieldReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.dat) {
		r.err = fmt.Errorf("field at offset %#x: need %d bytes, only have %d",
			r.pos, n, len(r.dat)-r.pos)
		return nil
	}
	ret := r.dat[r.pos : r.pos+n]
	r.pos += n
	return ret
}

func (r *fieldReader) skip(n int) { r.take(n) }

func (r *fieldReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *fieldReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *fieldReader) num() uint64 {
	n := r.u8()
	if r.err == nil && n > MaxNumLen {
		r.err = fmt.Errorf("number at offset %#x: length %d exceeds %d", r.pos-1, n, MaxNumLen)
		return 0
	}
	var ret uint64
	for _, b := range r.take(int(n)) {
		ret = ret<<8 | uint64(b)
	}
	return ret
}

func (r *fieldReader) id() ldmprim.ObjID { return ldmprim.ObjID(r.num()) }

func (r *fieldReader) str() string {
	n := r.u8()
	return string(r.take(int(n)))
}

func (r *fieldReader) guid() uuid.UUID {
	var ret uuid.UUID
	copy(ret[:], r.take(16))
	return ret
}

func (r *fieldReader) textGUID() uuid.UUID {
	s := r.str()
	if r.err != nil {
		return uuid.Nil
	}
	ret, err := ldmprim.ParseGUIDText([]byte(s))
	if err != nil {
		r.err = err
	}
	return ret
}

// fieldWriter is the inverse of fieldReader.
type fieldWriter struct {
	buf []byte
	err error
}

func (w *fieldWriter) zero(n int) { w.buf = append(w.buf, make([]byte, n)...) }

func (w *fieldWriter) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *fieldWriter) u64(v uint64) { w.buf = binary.BigEndian.AppendUint64(w.buf, v) }

func (w *fieldWriter) num(v uint64) {
	var tmp [MaxNumLen]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	i := 0
	for i < MaxNumLen-1 && tmp[i] == 0 {
		i++
	}
	w.u8(uint8(MaxNumLen - i))
	w.buf = append(w.buf, tmp[i:]...)
}

func (w *fieldWriter) id(v ldmprim.ObjID) { w.num(uint64(v)) }

func (w *fieldWriter) str(s string) {
	if len(s) > 0xff && w.err == nil {
		w.err = fmt.Errorf("string %q is longer than 255 bytes", s)
		return
	}
	w.u8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *fieldWriter) guid(v uuid.UUID) { w.buf = append(w.buf, v[:]...) }

func (w *fieldWriter) textGUID(v uuid.UUID) { w.str(v.String()) }
