// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package ldm

import (
	"fmt"
	"strings"
)

// ParityLayout is the rotation of the parity chunk across the
// columns of a RAID-5 component.
type ParityLayout string

const (
	ParityLeftAsymmetric  ParityLayout = "left-asymmetric"
	ParityLeftSymmetric   ParityLayout = "left-symmetric"
	ParityRightAsymmetric ParityLayout = "right-asymmetric"
	ParityRightSymmetric  ParityLayout = "right-symmetric"
)

// DefaultParity is the rotation assumed when the metadata does not
// say.  LDM records no rotation field; device-mapper consumers of
// LDM map RAID-5 volumes as left-symmetric.
const DefaultParity = ParityLeftSymmetric

var parityLayouts = []ParityLayout{
	ParityLeftAsymmetric,
	ParityLeftSymmetric,
	ParityRightAsymmetric,
	ParityRightSymmetric,
}

// String implements pflag.Value.
func (p ParityLayout) String() string { return string(p) }

// Type implements pflag.Value.
func (p *ParityLayout) Type() string { return "parity-layout" }

// Set implements pflag.Value.
func (p *ParityLayout) Set(str string) error {
	for _, layout := range parityLayouts {
		if strings.EqualFold(str, string(layout)) {
			*p = layout
			return nil
		}
	}
	return fmt.Errorf("invalid parity layout %q (valid: %v)", str, parityLayouts)
}

// UnmarshalText lets a ParityLayout be read from a config file.
func (p *ParityLayout) UnmarshalText(text []byte) error {
	return p.Set(string(text))
}

// Place returns the columns holding data chunk d (0 <= d < n-1) and
// the parity chunk of row row, for an n-column component.
func (p ParityLayout) Place(row int64, d, n int) (dataCol, parityCol int) {
	switch p {
	case ParityLeftAsymmetric, ParityLeftSymmetric:
		parityCol = n - 1 - int(row%int64(n))
	default:
		parityCol = int(row % int64(n))
	}
	switch p {
	case ParityLeftSymmetric, ParityRightSymmetric:
		dataCol = (parityCol + 1 + d) % n
	default:
		dataCol = d
		if d >= parityCol {
			dataCol++
		}
	}
	return dataCol, parityCol
}
