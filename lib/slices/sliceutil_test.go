// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package slices_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"git.lukeshu.com/ldm-progs-ng/lib/slices"
)

func TestMinMax(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 9, slices.Max(3, 9, 1))
	assert.Equal(t, 9, slices.Max(9))
	assert.Equal(t, 1, slices.Min(3, 9, 1))
	assert.Equal(t, 1, slices.Min(3, 1, 9))
}

func TestSearch(t *testing.T) {
	t.Parallel()
	type span struct{ beg, end int }
	spans := []span{{0, 10}, {10, 25}, {25, 26}, {30, 40}}
	find := func(needle int) (int, bool) {
		return slices.Search(spans, func(s span) int {
			switch {
			case needle < s.beg:
				return -1
			case needle >= s.end:
				return 1
			default:
				return 0
			}
		})
	}
	type TestCase struct {
		Needle int
		ExpIdx int
		ExpOK  bool
	}
	testcases := map[string]TestCase{
		"first":  {Needle: 0, ExpIdx: 0, ExpOK: true},
		"middle": {Needle: 24, ExpIdx: 1, ExpOK: true},
		"single": {Needle: 25, ExpIdx: 2, ExpOK: true},
		"gap":    {Needle: 27, ExpIdx: 0, ExpOK: false},
		"last":   {Needle: 39, ExpIdx: 3, ExpOK: true},
		"after":  {Needle: 40, ExpIdx: 0, ExpOK: false},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			idx, ok := find(tc.Needle)
			assert.Equal(t, tc.ExpOK, ok)
			assert.Equal(t, tc.ExpIdx, idx)
		})
	}
}
