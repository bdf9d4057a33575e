// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ldmerr defines the kinds of failure reported while reading
// LDM metadata, and an error type that carries the context needed to
// say which device, object, or volume was at fault.
package ldmerr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/datawire/dlib/derror"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmprim"
)

var (
	// ErrNotLdm means a device has no LDM private header.  This is
	// the expected result for ordinary disks in a multi-disk scan.
	ErrNotLdm = errors.New("not an LDM disk")
	// ErrCorruptMetadata means a recognized LDM structure failed
	// validation.
	ErrCorruptMetadata = errors.New("corrupt LDM metadata")
	// ErrTruncatedRecord means a multi-block VBLK is missing one
	// of its fragments.
	ErrTruncatedRecord = errors.New("truncated VBLK record")
	// ErrIncompleteDiskGroup means a disk group references a disk
	// that has not been added.
	ErrIncompleteDiskGroup = errors.New("incomplete disk group")
	// ErrUnsupportedLayout means a volume's components do not match
	// any known layout.
	ErrUnsupportedLayout = errors.New("unsupported volume layout")
	// ErrInconsistentExtents means the extents of a volume do not
	// add up to its declared size.
	ErrInconsistentExtents = errors.New("inconsistent volume extents")
)

// Error is a failure of one of the Err* kinds, annotated with where
// it happened.  Use errors.Is to test the kind.
type Error struct {
	Kind error

	Disk      string        // device path
	DiskGroup string        // disk group name
	Object    ldmprim.ObjID // 0 if not about a specific record
	Volume    string        // volume name

	Err error
}

func (e *Error) Error() string {
	var buf strings.Builder
	if e.Disk != "" {
		fmt.Fprintf(&buf, "disk %q: ", e.Disk)
	}
	if e.DiskGroup != "" {
		fmt.Fprintf(&buf, "disk group %q: ", e.DiskGroup)
	}
	if e.Volume != "" {
		fmt.Fprintf(&buf, "volume %q: ", e.Volume)
	}
	if e.Object != 0 {
		fmt.Fprintf(&buf, "object %d: ", e.Object)
	}
	switch {
	case e.Kind != nil && e.Err != nil:
		fmt.Fprintf(&buf, "%v: %v", e.Kind, e.Err)
	case e.Kind != nil:
		buf.WriteString(e.Kind.Error())
	case e.Err != nil:
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf returns an *Error of the given kind.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{
		Kind: kind,
		Err:  fmt.Errorf(format, args...),
	}
}

func annotate(err error, fn func(*Error)) error {
	if err == nil {
		return nil
	}
	var ldmErr *Error
	if errors.As(err, &ldmErr) {
		dup := *ldmErr
		fn(&dup)
		return &dup
	}
	ret := &Error{Err: err}
	fn(ret)
	return ret
}

// WithDisk attaches a device path to err, if it does not already
// have one.
func WithDisk(err error, disk string) error {
	return annotate(err, func(e *Error) {
		if e.Disk == "" {
			e.Disk = disk
		}
	})
}

// WithDiskGroup attaches a disk group name to err, if it does not
// already have one.
func WithDiskGroup(err error, name string) error {
	return annotate(err, func(e *Error) {
		if e.DiskGroup == "" {
			e.DiskGroup = name
		}
	})
}

// WithVolume attaches a volume name to err, if it does not already
// have one.
func WithVolume(err error, name string) error {
	return annotate(err, func(e *Error) {
		if e.Volume == "" {
			e.Volume = name
		}
	})
}

// WithObject attaches a record id to err, if it does not already
// have one.
func WithObject(err error, id ldmprim.ObjID) error {
	return annotate(err, func(e *Error) {
		if e.Object == 0 {
			e.Object = id
		}
	})
}

// Combine merges several failures into one error.  If they all have
// the same kind, the result has that kind too, so errors.Is keeps
// working on the combination.
func Combine(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	var kind error
	for i, err := range errs {
		var ldmErr *Error
		if !errors.As(err, &ldmErr) || (i > 0 && ldmErr.Kind != kind) {
			kind = nil
			break
		}
		kind = ldmErr.Kind
	}
	return &Error{
		Kind: kind,
		Err:  derror.MultiError(errs),
	}
}
