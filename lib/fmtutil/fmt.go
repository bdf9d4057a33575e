// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fmtutil provides utilities for implementing fmt.Stringer on
// on-disk flag fields.
package fmtutil

import (
	"fmt"
	"strings"
)

type BitfieldFormat uint8

const (
	HexNone = BitfieldFormat(iota)
	HexLower
	HexUpper
)

// BitfieldString renders a set of flag bits by name, for example
// "0x28(id1|id2)".  Bits without a name are rendered as "(1<<n)".
func BitfieldString[T ~uint8 | ~uint16 | ~uint32 | ~uint64](bitfield T, bitnames []string, cfg BitfieldFormat) string {
	var names []string
	for i := 0; bitfield>>i != 0; i++ {
		if bitfield&(1<<i) == 0 {
			continue
		}
		if i < len(bitnames) && bitnames[i] != "" {
			names = append(names, bitnames[i])
		} else {
			names = append(names, fmt.Sprintf("(1<<%v)", i))
		}
	}
	str := "none"
	if len(names) > 0 {
		str = strings.Join(names, "|")
	}
	switch cfg {
	case HexLower:
		return fmt.Sprintf("0x%0x(%s)", uint64(bitfield), str)
	case HexUpper:
		return fmt.Sprintf("0x%0X(%s)", uint64(bitfield), str)
	default:
		return str
	}
}
