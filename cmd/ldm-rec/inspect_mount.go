// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ldm-progs-ng/cmd/ldm-rec/inspect/mount"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "mount MOUNTPOINT",
			Short: "Mount the volumes read-only as files, one directory per disk group",
			Long: "" +
				"A volume whose partitions do not add up to a consistent " +
				"mapping is logged and left out.",
			Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(l *loaded, cmd *cobra.Command, args []string) error {
			return mount.MountRO(cmd.Context(), l.Groups, args[0], l.Settings.CacheBlocks)
		},
	})
}
