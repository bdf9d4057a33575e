// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"io"
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ldm-progs-ng/lib/textui"
)

func init() {
	toplevel = append(toplevel, subcommand{
		Command: cobra.Command{
			Use:   "scan",
			Short: "Report which of the given disks carry LDM metadata, and the disk groups they form",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(l *loaded, _ *cobra.Command, _ []string) error {
			printScan(os.Stdout, l)
			return nil
		},
	})
}

func printScan(w io.Writer, l *loaded) {
	byName := make(map[string]string)
	for _, dev := range l.Session.Devices() {
		byName[dev.File.Name()] = textui.Sprintf("disk %v of disk group %q (%v), %v partitioned",
			dev.Region.DiskGUID, dev.Region.DiskGroupName, dev.Region.DiskGroupGUID, dev.Region.Scheme)
	}
	for _, path := range l.Settings.Disks {
		if err, failed := l.Failed[path]; failed {
			textui.Fprintf(w, "%s: %v\n", path, err)
			continue
		}
		desc, ok := byName[path]
		if !ok {
			desc = "same disk as another given device; ignored"
		}
		textui.Fprintf(w, "%s: %s\n", path, desc)
	}
	for _, group := range l.Groups {
		present := 0
		for _, disk := range group.Disks() {
			if disk.Present() {
				present++
			}
		}
		textui.Fprintf(w, "disk group %q: %d volumes, %d of %d disks present\n",
			group.Name, len(group.Volumes()), present, len(group.Disks()))
	}
	if l.GroupErr != nil {
		textui.Fprintf(w, "error: %v\n", l.GroupErr)
	}
}
