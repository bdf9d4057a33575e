// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package binstruct

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"git.lukeshu.com/go/typedsync"
)

// A codec is the compiled encoder/decoder for one type.
type codec struct {
	size      int
	unmarshal func(dat []byte, dst reflect.Value) (int, error)
	marshal   func(val reflect.Value) ([]byte, error)
}

var (
	codecs typedsync.Map[reflect.Type, *codec]

	byteType        = reflect.TypeOf(byte(0))
	endType         = reflect.TypeOf(End{})
	staticSizerType = reflect.TypeOf((*StaticSizer)(nil)).Elem()
	marshalerType   = reflect.TypeOf((*Marshaler)(nil)).Elem()
	unmarshalerType = reflect.TypeOf((*Unmarshaler)(nil)).Elem()
)

func mustCodec(typ reflect.Type) *codec {
	if c, ok := codecs.Load(typ); ok {
		return c
	}
	c, err := compile(typ)
	if err != nil {
		panic(&InvalidTypeError{Type: typ, Err: err})
	}
	c, _ = codecs.LoadOrStore(typ, c)
	return c
}

func compile(typ reflect.Type) (*codec, error) {
	if typ.Implements(staticSizerType) {
		return compileMethods(typ)
	}
	if typ.Implements(marshalerType) || reflect.PointerTo(typ).Implements(unmarshalerType) {
		return nil, errors.New("implements binstruct.Marshaler or binstruct.Unmarshaler but not binstruct.StaticSizer")
	}
	switch typ.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return compileUint(int(typ.Size())), nil
	case reflect.Array:
		return compileArray(typ)
	case reflect.Struct:
		return compileStruct(typ)
	default:
		return nil, fmt.Errorf("kind=%v is not a supported statically-sized kind", typ.Kind())
	}
}

func compileMethods(typ reflect.Type) (*codec, error) {
	if !typ.Implements(marshalerType) || !reflect.PointerTo(typ).Implements(unmarshalerType) {
		return nil, errors.New("implements binstruct.StaticSizer but not both binstruct.Marshaler and binstruct.Unmarshaler")
	}
	//nolint:forcetypeassert // checked above
	size := reflect.Zero(typ).Interface().(StaticSizer).BinaryStaticSize()
	return &codec{
		size: size,
		unmarshal: func(dat []byte, dst reflect.Value) (int, error) {
			//nolint:forcetypeassert // checked above
			return dst.Addr().Interface().(Unmarshaler).UnmarshalBinary(dat)
		},
		marshal: func(val reflect.Value) ([]byte, error) {
			//nolint:forcetypeassert // checked above
			return val.Interface().(Marshaler).MarshalBinary()
		},
	}, nil
}

// compileUint handles plain unsigned integers, which are big-endian.
func compileUint(size int) *codec {
	return &codec{
		size: size,
		unmarshal: func(dat []byte, dst reflect.Value) (int, error) {
			if err := need(dat, size); err != nil {
				return 0, err
			}
			var v uint64
			for _, b := range dat[:size] {
				v = v<<8 | uint64(b)
			}
			dst.SetUint(v)
			return size, nil
		},
		marshal: func(val reflect.Value) ([]byte, error) {
			ret := make([]byte, size)
			v := val.Uint()
			for i := size - 1; i >= 0; i-- {
				ret[i] = byte(v)
				v >>= 8
			}
			return ret, nil
		},
	}
}

func compileArray(typ reflect.Type) (*codec, error) {
	if typ.Elem() == byteType {
		size := typ.Len()
		return &codec{
			size: size,
			unmarshal: func(dat []byte, dst reflect.Value) (int, error) {
				if err := need(dat, size); err != nil {
					return 0, err
				}
				reflect.Copy(dst, reflect.ValueOf(dat[:size]))
				return size, nil
			},
			marshal: func(val reflect.Value) ([]byte, error) {
				ret := make([]byte, size)
				for i := range ret {
					ret[i] = byte(val.Index(i).Uint())
				}
				return ret, nil
			},
		}, nil
	}
	elem, err := compile(typ.Elem())
	if err != nil {
		return nil, err
	}
	return &codec{
		size: elem.size * typ.Len(),
		unmarshal: func(dat []byte, dst reflect.Value) (int, error) {
			n := 0
			for i := 0; i < dst.Len(); i++ {
				_n, err := elem.unmarshal(dat[n:], dst.Index(i))
				n += _n
				if err != nil {
					return n, err
				}
			}
			return n, nil
		},
		marshal: func(val reflect.Value) ([]byte, error) {
			ret := make([]byte, 0, elem.size*val.Len())
			for i := 0; i < val.Len(); i++ {
				dat, err := elem.marshal(val.Index(i))
				ret = append(ret, dat...)
				if err != nil {
					return ret, err
				}
			}
			return ret, nil
		},
	}, nil
}

type fieldTag struct {
	skip bool
	off  int
	siz  int
}

func parseFieldTag(str string) (fieldTag, error) {
	var ret fieldTag
	for _, part := range strings.Split(str, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
			continue
		case part == "-":
			return fieldTag{skip: true}, nil
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return fieldTag{}, fmt.Errorf("option is not a key=value pair: %q", part)
		}
		num, err := strconv.ParseInt(val, 0, 0)
		if err != nil {
			return fieldTag{}, fmt.Errorf("option %q: %w", key, err)
		}
		switch key {
		case "off":
			ret.off = int(num)
		case "siz":
			ret.siz = int(num)
		default:
			return fieldTag{}, fmt.Errorf("unrecognized option %q", key)
		}
	}
	return ret, nil
}

type structField struct {
	index int
	name  string
	codec *codec
}

func compileStruct(typ reflect.Type) (*codec, error) {
	var fields []structField
	off, end := 0, -1
	for i := 0; i < typ.NumField(); i++ {
		info := typ.Field(i)
		fail := func(err error) (*codec, error) {
			return nil, fmt.Errorf("field %v %q: %w", i, info.Name, err)
		}
		if info.Anonymous && info.Type != endType {
			return fail(errors.New("embedded fields are not supported"))
		}
		tag, err := parseFieldTag(info.Tag.Get("bin"))
		if err != nil {
			return fail(err)
		}
		if tag.skip {
			continue
		}
		if tag.off != off {
			return fail(fmt.Errorf("tag says off=%#x but the previous fields end at %#x", tag.off, off))
		}
		if info.Type == endType {
			end = off
			continue
		}
		c, err := compile(info.Type)
		if err != nil {
			return fail(err)
		}
		if tag.siz != c.size {
			return fail(fmt.Errorf("tag says siz=%#x but the type's size is %#x", tag.siz, c.size))
		}
		off += c.size
		fields = append(fields, structField{index: i, name: info.Name, codec: c})
	}
	if end != off && (end >= 0 || len(fields) > 0) {
		return nil, fmt.Errorf("binstruct.End is at %v, but the fields end at %v", end, off)
	}
	size := off
	return &codec{
		size: size,
		unmarshal: func(dat []byte, dst reflect.Value) (int, error) {
			if err := need(dat, size); err != nil {
				return 0, &Error{Type: typ, Err: err}
			}
			n := 0
			for _, field := range fields {
				_n, err := field.codec.unmarshal(dat[n:], dst.Field(field.index))
				if err != nil {
					return n + _n, &Error{Type: typ, Field: field.name, Err: err}
				}
				n += _n
			}
			return n, nil
		},
		marshal: func(val reflect.Value) ([]byte, error) {
			ret := make([]byte, 0, size)
			for _, field := range fields {
				dat, err := field.codec.marshal(val.Field(field.index))
				ret = append(ret, dat...)
				if err != nil {
					return ret, &Error{Type: typ, Field: field.name, Err: err}
				}
			}
			return ret, nil
		},
	}, nil
}
