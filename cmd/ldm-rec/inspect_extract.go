// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/spf13/cobra"

	"git.lukeshu.com/ldm-progs-ng/lib/diskio"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmvol"
	"git.lukeshu.com/ldm-progs-ng/lib/textui"
)

func init() {
	inspectors = append(inspectors, subcommand{
		Command: cobra.Command{
			Use:   "extract VOLUME OUTFILE",
			Short: "Copy the contents of a volume to a file",
			Long: "" +
				"VOLUME is either GROUP/NAME or just NAME if that is unique " +
				"among the disk groups.",
			Args: cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		},
		RunE: func(l *loaded, cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			ldmVol, err := findVolume(l.Groups, args[0])
			if err != nil {
				return err
			}
			vol, err := ldmvol.New(ldmVol, l.Settings.CacheBlocks)
			if err != nil {
				return err
			}
			defer func() {
				if _err := vol.Close(); err == nil && _err != nil {
					err = _err
				}
			}()

			out, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer func() {
				if _err := out.Close(); err == nil && _err != nil {
					err = _err
				}
			}()
			return copyVolume(ctx, out, vol)
		},
	})
}

var copyChunk = textui.Tunable(int64(1024 * 1024))

func copyVolume(ctx context.Context, out io.Writer, vol diskio.File[int64]) error {
	dlog.Infof(ctx, "copying %q (%d bytes)...", vol.Name(), vol.Size())
	progress := textui.NewProgress[textui.Portion[int64]](ctx, dlog.LogLevelInfo, textui.Tunable(1*time.Second))
	buf := make([]byte, copyChunk)
	var pos int64
	progress.Set(textui.Portion[int64]{D: vol.Size()})
	for pos < vol.Size() {
		if err := ctx.Err(); err != nil {
			progress.Done()
			return err
		}
		n, err := vol.ReadAt(buf, pos)
		if err != nil && !(errors.Is(err, io.EOF) && pos+int64(n) == vol.Size()) {
			progress.Done()
			return fmt.Errorf("%s: read at %d: %w", vol.Name(), pos, err)
		}
		if _, err := out.Write(buf[:n]); err != nil {
			progress.Done()
			return err
		}
		pos += int64(n)
		progress.Set(textui.Portion[int64]{N: pos, D: vol.Size()})
	}
	progress.Done()
	dlog.Infof(ctx, "copying %q... done", vol.Name())
	return nil
}
