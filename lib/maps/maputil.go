// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package maps has helpers for iterating Go maps in a stable order,
// so that output built from them is reproducible.
package maps

import (
	"golang.org/x/exp/constraints"

	"git.lukeshu.com/ldm-progs-ng/lib/slices"
)

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	ret := make([]K, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	slices.Sort(ret)
	return ret
}

// SortedValues returns the values of m ordered by their keys.
func SortedValues[K constraints.Ordered, V any](m map[K]V) []V {
	ret := make([]V, 0, len(m))
	for _, k := range SortedKeys(m) {
		ret = append(ret, m[k])
	}
	return ret
}
