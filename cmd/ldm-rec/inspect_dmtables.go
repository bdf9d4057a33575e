// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"io"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/dmtable"
	"git.lukeshu.com/ldm-progs-ng/lib/textui"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "dm-tables [VOLUME...]",
			Short: "Print device-mapper tables for volumes (all volumes if none are named)",
			Args:  cliutil.WrapPositionalArgs(cobra.ArbitraryArgs),
		},
		RunE: func(l *loaded, cmd *cobra.Command, args []string) error {
			var vols []*ldm.Volume
			if len(args) == 0 {
				for _, group := range l.Groups {
					vols = append(vols, group.Volumes()...)
				}
			}
			for _, arg := range args {
				vol, err := findVolume(l.Groups, arg)
				if err != nil {
					return err
				}
				vols = append(vols, vol)
			}
			printTables(cmd.Context(), os.Stdout, vols)
			return nil
		},
	})
}

// printTables prints the tables of each volume in the order that
// they must be loaded.  A volume that cannot be mapped is logged and
// skipped.
func printTables(ctx context.Context, w io.Writer, vols []*ldm.Volume) {
	for _, vol := range vols {
		tables, err := dmtable.Tables(vol)
		if err != nil {
			dlog.Errorf(dlog.WithField(ctx, "ldm.volume", vol.Name), "skipping: %v", err)
			continue
		}
		for _, table := range tables {
			textui.Fprintf(w, "Device: %s\n%s", table.Name, table)
		}
	}
}
