// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
)

const defaultCacheBlocks = 256

// settings are the knobs that may come from either the config file or
// the command line.
type settings struct {
	Disks         []string         `yaml:"disks"`
	SectorSize    int64            `yaml:"sector-size"`
	AllowDegraded bool             `yaml:"allow-degraded"`
	RAID5Parity   ldm.ParityLayout `yaml:"raid5-parity"`
	CacheBlocks   int              `yaml:"cache-blocks"`
	Verbosity     string           `yaml:"verbosity"`
}

func (s settings) libConfig() ldm.Config {
	return ldm.Config{
		SectorSize:    s.SectorSize,
		AllowDegraded: s.AllowDegraded,
		RAID5Parity:   s.RAID5Parity,
	}
}

// override returns s with every flag that was given on the command
// line replaced by its value from flagVals.  Disks given on the
// command line are added to those from the file.
func (s settings) override(flagVals settings, flags *pflag.FlagSet) settings {
	if flags.Changed("disk") {
		s.Disks = append(append([]string(nil), s.Disks...), flagVals.Disks...)
	}
	if flags.Changed("sector-size") {
		s.SectorSize = flagVals.SectorSize
	}
	if flags.Changed("allow-degraded") {
		s.AllowDegraded = flagVals.AllowDegraded
	}
	if flags.Changed("raid5-parity") {
		s.RAID5Parity = flagVals.RAID5Parity
	}
	if flags.Changed("cache-blocks") || s.CacheBlocks == 0 {
		s.CacheBlocks = flagVals.CacheBlocks
	}
	return s
}

func configSearchPath() []string {
	ret := []string{"ldm-rec.yaml"}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		ret = append(ret, filepath.Join(dir, "ldm-rec", "config.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		ret = append(ret, filepath.Join(home, ".config", "ldm-rec", "config.yaml"))
	}
	return append(ret, "/etc/ldm-rec.yaml")
}

// readSettings reads the config file at path, or if path is empty,
// the first one that exists in the search path.  Having no config
// file is not an error.
func readSettings(path string) (settings, error) {
	if path != "" {
		return readSettingsFile(path)
	}
	for _, candidate := range configSearchPath() {
		ret, err := readSettingsFile(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return ret, err
	}
	return settings{}, nil
}

func readSettingsFile(path string) (settings, error) {
	var ret settings
	dat, err := os.ReadFile(path)
	if err != nil {
		return ret, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(dat))
	dec.KnownFields(true)
	if err := dec.Decode(&ret); err != nil && !errors.Is(err, io.EOF) {
		return ret, fmt.Errorf("config %q: %w", path, err)
	}
	// Relative disk paths are relative to the file.
	for i, disk := range ret.Disks {
		if !filepath.IsAbs(disk) {
			ret.Disks[i] = filepath.Join(filepath.Dir(path), disk)
		}
	}
	return ret, nil
}
