// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldmprim

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// ParseGUIDText parses a GUID that is stored as NUL-padded ASCII
// text, as in the private header.
func ParseGUIDText(dat []byte) (uuid.UUID, error) {
	if i := bytes.IndexByte(dat, 0); i >= 0 {
		dat = dat[:i]
	}
	ret, err := uuid.ParseBytes(bytes.TrimSpace(dat))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid GUID %q: %w", dat, err)
	}
	return ret, nil
}

// GUIDFromMixedEndian converts a GUID in the Microsoft on-disk
// encoding (first three groups little-endian, as in GPT) to its
// canonical form.
func GUIDFromMixedEndian(raw [16]byte) uuid.UUID {
	var ret uuid.UUID
	ret[0], ret[1], ret[2], ret[3] = raw[3], raw[2], raw[1], raw[0]
	ret[4], ret[5] = raw[5], raw[4]
	ret[6], ret[7] = raw[7], raw[6]
	copy(ret[8:], raw[8:])
	return ret
}

// MixedEndian is the inverse of GUIDFromMixedEndian.
func MixedEndian(id uuid.UUID) [16]byte {
	var raw [16]byte
	raw[0], raw[1], raw[2], raw[3] = id[3], id[2], id[1], id[0]
	raw[4], raw[5] = id[5], id[4]
	raw[6], raw[7] = id[7], id[6]
	copy(raw[8:], id[8:])
	return raw
}

// CString returns the text of a NUL-padded fixed-width field.
func CString(dat []byte) string {
	if i := bytes.IndexByte(dat, 0); i >= 0 {
		dat = dat[:i]
	}
	return string(dat)
}
