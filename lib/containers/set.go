// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	"io"

	"git.lukeshu.com/go/lowmemjson"
	"golang.org/x/exp/constraints"

	"git.lukeshu.com/ldm-progs-ng/lib/maps"
)

// Set is an unordered set that encodes to JSON as a sorted array.
type Set[T constraints.Ordered] map[T]struct{}

var _ lowmemjson.Encodable = Set[string]{}

func NewSet[T constraints.Ordered](members ...T) Set[T] {
	ret := make(Set[T], len(members))
	for _, m := range members {
		ret[m] = struct{}{}
	}
	return ret
}

func (s Set[T]) Insert(m T) { s[m] = struct{}{} }
func (s Set[T]) Delete(m T) { delete(s, m) }

func (s Set[T]) Has(m T) bool {
	_, ok := s[m]
	return ok
}

// Sorted returns the members in ascending order.
func (s Set[T]) Sorted() []T { return maps.SortedKeys(s) }

// EncodeJSON implements lowmemjson.Encodable.
func (s Set[T]) EncodeJSON(w io.Writer) error {
	return lowmemjson.Encode(w, s.Sorted())
}
