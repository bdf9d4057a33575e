// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"io"
	"os"

	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
	"git.lukeshu.com/ldm-progs-ng/lib/textui"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "show",
			Short: "Print the disk groups, volumes, and disks in a human-readable form",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(l *loaded, _ *cobra.Command, _ []string) error {
			printGroups(os.Stdout, l.Groups)
			return nil
		},
	})
}

type indentWriter struct {
	w     io.Writer
	depth int
}

func (w *indentWriter) printf(format string, a ...any) {
	for i := 0; i < w.depth; i++ {
		_, _ = io.WriteString(w.w, "  ")
	}
	textui.Fprintf(w.w, format+"\n", a...)
}

func (w *indentWriter) in()  { w.depth++ }
func (w *indentWriter) out() { w.depth-- }

func sizeString(n ldmprim.SectorCount, sectorSize int64) string {
	return textui.Sprintf("%s (%d sectors)", humanize.IBytes(uint64(n.Bytes(sectorSize))), n)
}

func printGroups(w io.Writer, groups []*ldm.DiskGroup) {
	out := &indentWriter{w: w}
	for _, group := range groups {
		out.printf("Disk Group: %s", group.Name)
		out.in()
		out.printf("GUID: %v", group.GUID)
		out.printf("ID: %v", uint64(group.ID))
		out.printf("Committed Sequence: %v", group.CommittedSeq)

		out.printf("Volumes:")
		out.in()
		for _, vol := range group.Volumes() {
			printVolume(out, vol)
		}
		out.out()

		out.printf("Disks:")
		out.in()
		for _, disk := range group.Disks() {
			out.printf("Disk: %s", disk.Name)
			out.in()
			out.printf("GUID: %v", disk.GUID)
			if !disk.Present() {
				out.printf("Device: (absent)")
				out.out()
				continue
			}
			out.printf("Device: %s", disk.Device)
			out.printf("Sector Size: %d", disk.SectorSize)
			out.printf("Data Start: %d", disk.DataStart)
			out.printf("Data Size: %s", sizeString(disk.DataSize, disk.SectorSize))
			out.printf("Metadata Start: %d", disk.MetadataStart)
			out.printf("Metadata Size: %s", sizeString(disk.MetadataSize, disk.SectorSize))
			out.out()
		}
		out.out()
		out.out()
	}
}

func printVolume(out *indentWriter, vol *ldm.Volume) {
	sectorSize := vol.SectorSize()
	out.printf("Volume: %s", vol.Name)
	out.in()
	defer out.out()
	out.printf("GUID: %v", vol.GUID)
	out.printf("Type: %v", vol.Type)
	out.printf("Size: %s", sizeString(vol.Size, sectorSize))
	out.printf("Partition Type: %#02x", vol.PartType)
	if vol.Hint != "" {
		out.printf("Hint: %s", vol.Hint)
	}
	out.printf("Components:")
	out.in()
	for _, comp := range vol.Components() {
		out.printf("Component: %s", comp.Name)
		out.in()
		out.printf("Type: %v", comp.Type)
		if comp.StripeSize > 0 {
			out.printf("Columns: %d", comp.NColumns)
			out.printf("Stripe Size: %s", sizeString(comp.StripeSize, sectorSize))
		}
		if comp.Parity != "" {
			out.printf("Parity: %v", comp.Parity)
		}
		out.printf("Partitions:")
		out.in()
		for _, part := range comp.Partitions() {
			out.printf("Partition: %s", part.Name)
			out.in()
			out.printf("Disk: %s", part.Disk().Name)
			out.printf("Start: %d", part.Start)
			out.printf("Volume Offset: %d", part.VolOffset)
			out.printf("Size: %s", sizeString(part.Size, sectorSize))
			if comp.StripeSize > 0 {
				out.printf("Column: %d", part.Index)
			}
			out.out()
		}
		out.out()
		out.out()
	}
	out.out()

	targets, err := vol.MappingTargets()
	if err != nil {
		out.printf("Mapping: error: %v", err)
		return
	}
	out.printf("Mapping:")
	out.in()
	for _, target := range targets {
		out.printf("%v", target)
	}
	out.out()
}
