// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ldm-progs-ng/lib/containers"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "dump-json",
			Short: "Dump the disk groups as JSON",
			Args:  cliutil.WrapPositionalArgs(cobra.NoArgs),
		},
		RunE: func(l *loaded, _ *cobra.Command, _ []string) error {
			return writeJSONFile(os.Stdout, dumpGroups(l.Groups), lowmemjson.ReEncoder{
				Indent:                "\t",
				ForceTrailingNewlines: true,
			})
		},
	})
}

type jsonDiskGroup struct {
	GUID         uuid.UUID
	Name         string
	ID           ldmprim.ObjID
	CommittedSeq uint64
	Volumes      []jsonVolume
	Disks        []jsonDisk
}

type jsonVolume struct {
	GUID         uuid.UUID
	Name         string
	Type         ldm.VolumeType
	Size         ldmprim.SectorCount
	SectorSize   int64
	PartType     uint8
	Hint         string `json:",omitempty"`
	Components   []jsonComponent
	Disks        containers.Set[string]
	Targets      []string `json:",omitempty"`
	MappingError string   `json:",omitempty"`
}

type jsonComponent struct {
	Name       string
	Type       string
	StripeSize ldmprim.SectorCount `json:",omitempty"`
	NColumns   int
	Parity     ldm.ParityLayout `json:",omitempty"`
	Partitions []jsonPartition
}

type jsonPartition struct {
	Name      string
	Disk      string
	Start     ldmprim.PhysicalSector
	VolOffset ldmprim.VolumeSector
	Size      ldmprim.SectorCount
	Index     int
}

type jsonDisk struct {
	GUID          uuid.UUID
	Name          string
	Present       bool
	Device        string `json:",omitempty"`
	SectorSize    int64  `json:",omitempty"`
	DataStart     ldmprim.PhysicalSector
	DataSize      ldmprim.SectorCount
	MetadataStart ldmprim.PhysicalSector
	MetadataSize  ldmprim.SectorCount
}

func dumpGroups(groups []*ldm.DiskGroup) []jsonDiskGroup {
	ret := make([]jsonDiskGroup, 0, len(groups))
	for _, group := range groups {
		jgroup := jsonDiskGroup{
			GUID:         group.GUID,
			Name:         group.Name,
			ID:           group.ID,
			CommittedSeq: group.CommittedSeq,
		}
		for _, vol := range group.Volumes() {
			jgroup.Volumes = append(jgroup.Volumes, dumpVolume(vol))
		}
		for _, disk := range group.Disks() {
			jgroup.Disks = append(jgroup.Disks, jsonDisk{
				GUID:          disk.GUID,
				Name:          disk.Name,
				Present:       disk.Present(),
				Device:        disk.Device,
				SectorSize:    disk.SectorSize,
				DataStart:     disk.DataStart,
				DataSize:      disk.DataSize,
				MetadataStart: disk.MetadataStart,
				MetadataSize:  disk.MetadataSize,
			})
		}
		ret = append(ret, jgroup)
	}
	return ret
}

func dumpVolume(vol *ldm.Volume) jsonVolume {
	ret := jsonVolume{
		GUID:       vol.GUID,
		Name:       vol.Name,
		Type:       vol.Type,
		Size:       vol.Size,
		SectorSize: vol.SectorSize(),
		PartType:   vol.PartType,
		Hint:       vol.Hint,
		Disks:      make(containers.Set[string]),
	}
	for _, comp := range vol.Components() {
		jcomp := jsonComponent{
			Name:       comp.Name,
			Type:       comp.Type.String(),
			StripeSize: comp.StripeSize,
			NColumns:   comp.NColumns,
			Parity:     comp.Parity,
		}
		for _, part := range comp.Partitions() {
			jcomp.Partitions = append(jcomp.Partitions, jsonPartition{
				Name:      part.Name,
				Disk:      part.Disk().Name,
				Start:     part.Start,
				VolOffset: part.VolOffset,
				Size:      part.Size,
				Index:     part.Index,
			})
			ret.Disks.Insert(part.Disk().Name)
		}
		ret.Components = append(ret.Components, jcomp)
	}
	targets, err := vol.MappingTargets()
	if err != nil {
		ret.MappingError = err.Error()
		return ret
	}
	for _, target := range targets {
		ret.Targets = append(ret.Targets, fmt.Sprint(target))
	}
	return ret
}
