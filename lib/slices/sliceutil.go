// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package slices has generic helpers for plain Go slices.
package slices

import (
	"sort"

	"golang.org/x/exp/constraints"
)

func Max[T constraints.Ordered](a T, rest ...T) T {
	for _, b := range rest {
		if b > a {
			a = b
		}
	}
	return a
}

func Min[T constraints.Ordered](a T, rest ...T) T {
	for _, b := range rest {
		if b < a {
			a = b
		}
	}
	return a
}

func Sort[T constraints.Ordered](slice []T) {
	sort.Slice(slice, func(i, j int) bool {
		return slice[i] < slice[j]
	})
}

// Search does a binary search of slice for an element that fn
// reports as 0.  fn returns <0 if the wanted element is before the
// one it is given, and >0 if after.  On a miss the index is 0.
func Search[T any](slice []T, fn func(T) int) (int, bool) {
	lo, hi := 0, len(slice)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch dir := fn(slice[mid]); {
		case dir < 0:
			hi = mid
		case dir > 0:
			lo = mid + 1
		default:
			return mid, true
		}
	}
	return 0, false
}
