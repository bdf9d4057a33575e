// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
	"git.lukeshu.com/ldm-progs-ng/lib/profile"
	"git.lukeshu.com/ldm-progs-ng/lib/textui"
)

// loaded is what every subcommand gets: the disks that were given,
// and the disk groups they make up.
type loaded struct {
	Settings settings
	Session  *ldm.Session
	// Failed holds the disks that could not be added, by path.
	Failed map[string]error
	// Groups are the disk groups that could be assembled; see
	// GroupErr for the rest.
	Groups   []*ldm.DiskGroup
	GroupErr error
}

type subcommand struct {
	cobra.Command
	RunE func(*loaded, *cobra.Command, []string) error
}

var toplevel, inspectors []subcommand

func main() {
	logLevelFlag := textui.LogLevelFlag{
		Level: dlog.LogLevelInfo,
	}
	var configFlag string
	var flagVals settings

	argparser := &cobra.Command{
		Use:   "ldm-rec {[flags]|SUBCOMMAND}",
		Short: "Read (data from) Windows LDM dynamic disks",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,

		SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
		SilenceUsage:  true, // our FlagErrorFunc will handle it

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
	flags := argparser.PersistentFlags()
	flags.Var(&logLevelFlag, "verbosity", "set the verbosity")
	flags.StringVar(&configFlag, "config", "", "read settings from the YAML file `config.yaml`")
	if err := argparser.MarkPersistentFlagFilename("config", "yaml", "yml"); err != nil {
		panic(err)
	}
	flags.StringArrayVar(&flagVals.Disks, "disk", nil, "open the device or image `disk` as a possible LDM member")
	if err := argparser.MarkPersistentFlagFilename("disk"); err != nil {
		panic(err)
	}
	flags.Int64Var(&flagVals.SectorSize, "sector-size", 0, "assume every disk has logical sectors of `bytes` bytes (0 asks the device)")
	flags.BoolVar(&flagVals.AllowDegraded, "allow-degraded", false, "use disk groups that are missing member disks")
	flags.Var(&flagVals.RAID5Parity, "raid5-parity", "assume RAID-5 volumes use the parity `layout` (default "+string(ldm.DefaultParity)+")")
	flags.IntVar(&flagVals.CacheBlocks, "cache-blocks", defaultCacheBlocks, "cache `n` blocks of each disk when reading volumes")
	stopProfiling := profile.AddProfileFlags(flags, "profile.")

	argparserInspect := &cobra.Command{
		Use:   "inspect {[flags]|SUBCOMMAND}",
		Short: "Inspect (but don't modify) LDM disk groups",

		Args: cliutil.WrapPositionalArgs(cliutil.OnlySubcommands),
		RunE: cliutil.RunSubcommands,
	}
	argparser.AddCommand(argparserInspect)

	for _, cmdgrp := range []struct {
		parent   *cobra.Command
		children []subcommand
	}{
		{argparser, toplevel},
		{argparserInspect, inspectors},
	} {
		for _, child := range cmdgrp.children {
			cmd := child.Command
			runE := child.RunE
			cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
				maybeSetErr := func(_err error) {
					if _err != nil && err == nil {
						err = _err
					}
				}
				defer func() {
					maybeSetErr(stopProfiling())
				}()

				fileVals, err := readSettings(configFlag)
				if err != nil {
					return err
				}
				cfg := fileVals.override(flagVals, cmd.Flags())
				if !cmd.Flags().Changed("verbosity") && cfg.Verbosity != "" {
					if err := logLevelFlag.Set(cfg.Verbosity); err != nil {
						return err
					}
				}
				if len(cfg.Disks) == 0 {
					return errors.New("no disks given; use --disk or the config file")
				}

				ctx := cmd.Context()
				logger := textui.NewLogger(os.Stderr, logLevelFlag.Level)
				ctx = dlog.WithLogger(ctx, logger)
				dlog.SetFallbackLogger(logger.WithField("ldm-progs.THIS_IS_A_BUG", true))

				grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
					EnableSignalHandling: true,
				})
				grp.Go("main", func(ctx context.Context) (err error) {
					maybeSetErr := func(_err error) {
						if _err != nil && err == nil {
							err = _err
						}
					}
					l := &loaded{
						Settings: cfg,
						Session:  ldm.NewSession(cfg.libConfig()),
						Failed:   make(map[string]error),
					}
					defer func() {
						maybeSetErr(l.Session.Close())
					}()
					for _, disk := range cfg.Disks {
						if err := l.Session.AddDisk(ctx, disk); err != nil {
							dlog.Errorf(ctx, "%v", err)
							l.Failed[disk] = err
						}
					}
					l.Groups, l.GroupErr = l.Session.DiskGroups(ctx)
					if l.GroupErr != nil {
						dlog.Errorf(ctx, "%v", l.GroupErr)
					}

					cmd.SetContext(ctx)
					return runE(l, cmd, args)
				})
				return grp.Wait()
			}
			cmdgrp.parent.AddCommand(&cmd)
		}
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
