// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ldm-progs-ng/lib/textui"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "spew-records",
			Short: "Spew the VBLK records of each disk as parsed",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(l *loaded, _ *cobra.Command, _ []string) error {
			spew := spew.NewDefaultConfig()
			spew.DisablePointerAddresses = true

			for _, dev := range l.Session.Devices() {
				textui.Fprintf(os.Stdout, "%s: disk %v, committed sequence %v, %v\n",
					dev.File.Name(), dev.Region.DiskGUID, dev.DB.VMDB.CommittedSeq, dev.DB.Stats)
				for _, rec := range dev.DB.Records {
					textui.Fprintf(os.Stdout, "%v %q = ", rec.Head(), rec.ObjectName())
					spew.Dump(rec)
				}
			}
			return nil
		},
	})
}
