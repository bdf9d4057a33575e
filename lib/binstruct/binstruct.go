// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package binstruct reads and writes fixed-layout binary structures
// that are described by struct tags:
//
//	type Head struct {
//		Magic [8]byte `bin:"off=0x0, siz=0x8"`
//		Seq   uint64  `bin:"off=0x8, siz=0x8"`
//
//		binstruct.End `bin:"off=0x10"`
//	}
//
// Every field must be tagged with its offset and size, and the
// struct must end with a binstruct.End giving the total size; the
// tags are checked against the Go types the first time a type is
// used.  Plain unsigned integers are big-endian, as LDM metadata is.
// Little-endian fields (in MBR and GPT structures) use the *le types.
package binstruct

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"reflect"
)

type Marshaler = encoding.BinaryMarshaler

type Unmarshaler interface {
	UnmarshalBinary([]byte) (int, error)
}

// StaticSizer must be implemented by a Marshaler/Unmarshaler that
// is used as a struct field or array element.
type StaticSizer interface {
	BinaryStaticSize() int
}

// End marks the end of a struct; its offset is the struct's size.
type End struct{}

// InvalidTypeError is panicked when asked to handle a type that
// binstruct does not support, or whose tags are wrong.
type InvalidTypeError struct {
	Type reflect.Type
	Err  error
}

func (e *InvalidTypeError) Error() string { return fmt.Sprintf("%v: %v", e.Type, e.Err) }
func (e *InvalidTypeError) Unwrap() error { return e.Err }

// Error is returned when data cannot be marshaled or unmarshaled.
type Error struct {
	Type  reflect.Type
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("%v.%s: %v", e.Type, e.Field, e.Err)
}
func (e *Error) Unwrap() error { return e.Err }

func need(dat []byte, n int) error {
	if len(dat) < n {
		return fmt.Errorf("need at least %v bytes, only have %v", n, len(dat))
	}
	return nil
}

func Marshal(obj any) ([]byte, error) {
	if mar, ok := obj.(Marshaler); ok {
		dat, err := mar.MarshalBinary()
		if err != nil {
			err = &Error{Type: reflect.TypeOf(obj), Err: err}
		}
		return dat, err
	}
	val := reflect.ValueOf(obj)
	for val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	return mustCodec(val.Type()).marshal(val)
}

// Unmarshal decodes dat into the value that dstPtr points to, and
// returns the number of bytes consumed.
func Unmarshal(dat []byte, dstPtr any) (int, error) {
	if unmar, ok := dstPtr.(Unmarshaler); ok {
		n, err := unmar.UnmarshalBinary(dat)
		if err != nil {
			err = &Error{Type: reflect.TypeOf(dstPtr), Err: err}
		}
		return n, err
	}
	ptr := reflect.ValueOf(dstPtr)
	if ptr.Kind() != reflect.Ptr {
		panic(&InvalidTypeError{Type: ptr.Type(), Err: fmt.Errorf("not a pointer")})
	}
	dst := ptr.Elem()
	return mustCodec(dst.Type()).unmarshal(dat, dst)
}

// StaticSize returns the encoded size of obj's type.
func StaticSize(obj any) int {
	return mustCodec(reflect.TypeOf(obj)).size
}

////////////////////////////////////////////////////////////////////////////////

type U8 uint8

func (U8) BinaryStaticSize() int            { return 1 }
func (x U8) MarshalBinary() ([]byte, error) { return []byte{byte(x)}, nil }
func (x *U8) UnmarshalBinary(dat []byte) (int, error) {
	if err := need(dat, 1); err != nil {
		return 0, err
	}
	*x = U8(dat[0])
	return 1, nil
}

type (
	U16le uint16
	U32le uint32
	U64le uint64
)

func (U16le) BinaryStaticSize() int { return 2 }
func (U32le) BinaryStaticSize() int { return 4 }
func (U64le) BinaryStaticSize() int { return 8 }

func (x U16le) MarshalBinary() ([]byte, error) {
	return binary.LittleEndian.AppendUint16(nil, uint16(x)), nil
}

func (x U32le) MarshalBinary() ([]byte, error) {
	return binary.LittleEndian.AppendUint32(nil, uint32(x)), nil
}

func (x U64le) MarshalBinary() ([]byte, error) {
	return binary.LittleEndian.AppendUint64(nil, uint64(x)), nil
}

func (x *U16le) UnmarshalBinary(dat []byte) (int, error) {
	if err := need(dat, 2); err != nil {
		return 0, err
	}
	*x = U16le(binary.LittleEndian.Uint16(dat))
	return 2, nil
}

func (x *U32le) UnmarshalBinary(dat []byte) (int, error) {
	if err := need(dat, 4); err != nil {
		return 0, err
	}
	*x = U32le(binary.LittleEndian.Uint32(dat))
	return 4, nil
}

func (x *U64le) UnmarshalBinary(dat []byte) (int, error) {
	if err := need(dat, 8); err != nil {
		return 0, err
	}
	*x = U64le(binary.LittleEndian.Uint64(dat))
	return 8, nil
}
