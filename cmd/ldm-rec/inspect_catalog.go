// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmcatalog"
	"git.lukeshu.com/ldm-progs-ng/lib/textui"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "catalog CATALOG.sqlite",
			Short: "Record the disk groups in a SQLite catalog, and list what it holds",
			Long: "" +
				"A disk group that is already in the catalog is replaced, so " +
				"that the catalog can collect the groups of disks that are " +
				"examined at different times.",
			Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
		},
		RunE: func(l *loaded, cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			catalog, err := ldmcatalog.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer func() {
				if _err := catalog.Close(); err == nil && _err != nil {
					err = _err
				}
			}()
			if err := catalog.Store(ctx, l.Groups); err != nil {
				return err
			}
			dlog.Infof(ctx, "stored %d disk groups in %q", len(l.Groups), catalog.Path())

			rows, err := catalog.Volumes(ctx)
			if err != nil {
				return err
			}
			for _, row := range rows {
				status := textui.Sprintf("%d targets", row.Targets)
				if row.MappingError != "" {
					status = row.MappingError
				}
				textui.Fprintf(os.Stdout, "%s/%s\t%s\t%d sectors\t%v\t%s\n",
					row.DiskGroup, row.Name, row.Type, row.Size, row.Disks, status)
			}
			return nil
		},
	})
}
