// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package profile adds command-line flags for writing Go runtime
// profiles to files.
package profile

import (
	"io"
	"os"
	"runtime/pprof"
	"runtime/trace"

	"github.com/datawire/dlib/derror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type StopFunc = func() error

type startFunc = func(io.Writer) (StopFunc, error)

func startCPU(w io.Writer) (StopFunc, error) {
	if err := pprof.StartCPUProfile(w); err != nil {
		return nil, err
	}
	return func() error {
		pprof.StopCPUProfile()
		return nil
	}, nil
}

func startTrace(w io.Writer) (StopFunc, error) {
	if err := trace.Start(w); err != nil {
		return nil, err
	}
	return func() error {
		trace.Stop()
		return nil
	}, nil
}

// startNamed writes the named pprof profile when stopped.
func startNamed(name string) startFunc {
	return func(w io.Writer) (StopFunc, error) {
		return func() error {
			if prof := pprof.Lookup(name); prof != nil {
				return prof.WriteTo(w, 0)
			}
			return nil
		}, nil
	}
}

type profiler struct {
	stops []StopFunc
}

func (p *profiler) Stop() error {
	var errs derror.MultiError
	for _, stop := range p.stops {
		if err := stop(); err != nil {
			errs = append(errs, err)
		}
	}
	p.stops = nil
	if len(errs) > 0 {
		return errs
	}
	return nil
}

type flagValue struct {
	parent *profiler
	start  startFunc
	curVal string
}

var _ pflag.Value = (*flagValue)(nil)

// String implements pflag.Value.
func (fv *flagValue) String() string { return fv.curVal }

// Type implements pflag.Value.
func (*flagValue) Type() string { return "filename" }

// Set implements pflag.Value.
func (fv *flagValue) Set(filename string) error {
	if filename == "" {
		return nil
	}
	w, err := os.Create(filename)
	if err != nil {
		return err
	}
	stop, err := fv.start(w)
	if err != nil {
		_ = w.Close()
		return err
	}
	fv.curVal = filename
	fv.parent.stops = append(fv.parent.stops, func() error {
		var errs derror.MultiError
		for _, err := range []error{stop(), w.Close()} {
			if err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return errs
		}
		return nil
	})
	return nil
}

// AddProfileFlags adds a flag per profile kind to flags, each naming
// a file to write that profile to, and returns the function to call
// at shutdown to finish writing them.
func AddProfileFlags(flags *pflag.FlagSet, prefix string) StopFunc {
	p := new(profiler)
	for _, kind := range []struct {
		name  string
		desc  string
		start startFunc
	}{
		{"cpu", "a CPU profile", startCPU},
		{"trace", "a runtime/trace trace", startTrace},
		{"heap", "a heap profile", startNamed("heap")},
		{"allocs", "an allocs profile", startNamed("allocs")},
		{"goroutine", "a goroutine profile", startNamed("goroutine")},
		{"block", "a block profile", startNamed("block")},
		{"mutex", "a mutex profile", startNamed("mutex")},
	} {
		flags.Var(&flagValue{parent: p, start: kind.start}, prefix+kind.name,
			"write "+kind.desc+" to the file `"+kind.name+".pprof`")
		_ = cobra.MarkFlagFilename(flags, prefix+kind.name)
	}
	return p.Stop
}
