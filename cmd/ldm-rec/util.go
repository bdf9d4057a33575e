// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"git.lukeshu.com/go/lowmemjson"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
)

func writeJSONFile(w io.Writer, obj any, cfg lowmemjson.ReEncoder) (err error) {
	buffer := bufio.NewWriter(w)
	defer func() {
		if _err := buffer.Flush(); err == nil && _err != nil {
			err = _err
		}
	}()
	cfg.Out = buffer
	return lowmemjson.Encode(&cfg, obj)
}

// findVolume looks up a volume by "GROUP/VOLUME", or by "VOLUME" alone
// if only one disk group has a volume by that name.
func findVolume(groups []*ldm.DiskGroup, spec string) (*ldm.Volume, error) {
	groupName, volName, qualified := strings.Cut(spec, "/")
	if !qualified {
		groupName, volName = "", spec
	}
	var matches []*ldm.Volume
	for _, group := range groups {
		if qualified && group.Name != groupName {
			continue
		}
		if vol, ok := group.Volume(volName); ok {
			matches = append(matches, vol)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no volume %q", spec)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("volume name %q is ambiguous; qualify it as GROUP/%s", spec, volName)
	}
}
