// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package mount is the guts of the `ldm-rec inspect mount` command,
// which exposes every volume of a set of LDM disk groups as a
// read-only file using FUSE.
package mount

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"git.lukeshu.com/ldm-progs-ng/lib/ldm"
	"git.lukeshu.com/ldm-progs-ng/lib/ldm/ldmvol"
	"git.lukeshu.com/ldm-progs-ng/lib/maps"
	"git.lukeshu.com/ldm-progs-ng/lib/slices"
)

func MountRO(ctx context.Context, groups []*ldm.DiskGroup, mountpoint string, cacheBlocks int) error {
	if len(groups) == 0 {
		return errors.New("no disk groups")
	}
	fs := newFilesystem(ctx, groups, cacheBlocks)
	fs.Mountpoint = mountpoint
	return fs.Run(ctx)
}

func fuseMount(ctx context.Context, mountpoint string, server fuse.Server, cfg *fuse.MountConfig) error {
	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		// Allow mountHandle.Join() returning to cause the
		// "unmount" goroutine to quit.
		ShutdownOnNonError: true,
	})
	mounted := uint32(1)
	grp.Go("unmount", func(ctx context.Context) error {
		<-ctx.Done()
		var err error
		var gotNil bool
		// Keep retrying, because the FS might be busy.
		for atomic.LoadUint32(&mounted) != 0 {
			if _err := fuse.Unmount(mountpoint); _err == nil {
				gotNil = true
			} else if !gotNil {
				err = _err
			}
		}
		if gotNil {
			return nil
		}
		return err
	})
	grp.Go("mount", func(ctx context.Context) error {
		defer atomic.StoreUint32(&mounted, 0)

		cfg.OpContext = ctx
		cfg.ErrorLogger = dlog.StdLogger(ctx, dlog.LogLevelError)
		cfg.DebugLogger = dlog.StdLogger(ctx, dlog.LogLevelDebug)

		mountHandle, err := fuse.Mount(mountpoint, server, cfg)
		if err != nil {
			return err
		}
		dlog.Infof(ctx, "mounted %q", mountpoint)
		return mountHandle.Join(dcontext.HardContext(ctx))
	})
	return grp.Wait()
}

// A node is a directory (one per disk group, plus the root) or a
// file (one per volume).
type node struct {
	Inode    fuseops.InodeID
	Name     string
	Children []*node
	Volume   *ldm.Volume
	Size     uint64
	XAttrs   map[string]string
}

func (n *node) IsDir() bool { return n.Volume == nil }

func (n *node) child(name string) *node {
	for _, child := range n.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

type filesystem struct {
	DeviceName  string
	Mountpoint  string
	CacheBlocks int

	fuseutil.NotImplementedFileSystem
	mountTime   time.Time
	inodes      map[fuseops.InodeID]*node
	lastHandle  uint64
	dirHandles  typedsync.Map[fuseops.HandleID, *node]
	fileHandles typedsync.Map[fuseops.HandleID, *ldmvol.Volume]
}

// dirName returns a file name for str that is unique within dir.
func dirName(dir *node, str string, fallback string) string {
	name := filepath.Base("/" + str)
	if name == "/" || name == "." || name == ".." {
		name = fallback
	}
	if dir.child(name) != nil {
		name += "." + fallback
	}
	return name
}

func newFilesystem(ctx context.Context, groups []*ldm.DiskGroup, cacheBlocks int) *filesystem {
	fs := &filesystem{
		CacheBlocks: cacheBlocks,
		mountTime:   time.Now(),
		inodes:      make(map[fuseops.InodeID]*node),
	}
	nextInode := fuseops.InodeID(fuseops.RootInodeID)
	add := func(parent *node, n *node) *node {
		n.Inode = nextInode
		nextInode++
		fs.inodes[n.Inode] = n
		if parent != nil {
			parent.Children = append(parent.Children, n)
		}
		return n
	}

	root := add(nil, &node{Name: "/"})
	for _, group := range groups {
		dir := add(root, &node{
			Name: dirName(root, group.Name, group.GUID.String()),
			XAttrs: map[string]string{
				"user.ldm.guid": group.GUID.String(),
			},
		})
		for _, disk := range group.Disks() {
			if disk.Present() && fs.DeviceName == "" {
				fs.DeviceName = disk.Device
			}
		}
		for _, vol := range group.Volumes() {
			if _, err := vol.MappingTargets(); err != nil {
				dlog.Errorf(ctx, "skipping: %v", err)
				continue
			}
			file := &node{
				Name:   dirName(dir, vol.Name, vol.GUID.String()),
				Volume: vol,
				Size:   uint64(vol.Size.Bytes(vol.SectorSize())),
				XAttrs: map[string]string{
					"user.ldm.guid": vol.GUID.String(),
					"user.ldm.type": vol.Type.String(),
				},
			}
			if vol.Hint != "" {
				file.XAttrs["user.ldm.hint"] = vol.Hint
			}
			add(dir, file)
		}
	}
	if abs, err := filepath.Abs(fs.DeviceName); err == nil && fs.DeviceName != "" {
		fs.DeviceName = abs
	}
	if fs.DeviceName == "" {
		fs.DeviceName = "ldm"
	}
	return fs
}

func (fs *filesystem) Run(ctx context.Context) error {
	cfg := &fuse.MountConfig{
		FSName:  fs.DeviceName,
		Subtype: "ldm",

		ReadOnly: true,

		Options: map[string]string{
			"allow_other": "",
		},
	}
	return fuseMount(ctx, fs.Mountpoint, fuseutil.NewFileSystemServer(fs), cfg)
}

func (fs *filesystem) newHandle() fuseops.HandleID {
	return fuseops.HandleID(atomic.AddUint64(&fs.lastHandle, 1))
}

func (fs *filesystem) attributes(n *node) fuseops.InodeAttributes {
	ret := fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  syscall.S_IFREG | 0o444,
		Size:  n.Size,
		Atime: fs.mountTime,
		Mtime: fs.mountTime,
		Ctime: fs.mountTime,
	}
	if n.IsDir() {
		ret.Nlink = 2
		ret.Mode = syscall.S_IFDIR | 0o555
		ret.Size = 0
	}
	return ret
}

func (fs *filesystem) StatFS(_ context.Context, op *fuseops.StatFSOp) error {
	var total uint64
	for _, n := range fs.inodes {
		total += n.Size
	}
	op.IoSize = 64 * 1024
	op.BlockSize = 512
	op.Blocks = total / 512
	op.Inodes = uint64(len(fs.inodes))
	return nil
}

func (fs *filesystem) LookUpInode(_ context.Context, op *fuseops.LookUpInodeOp) error {
	parent, ok := fs.inodes[op.Parent]
	if !ok {
		return syscall.ENOENT
	}
	child := parent.child(op.Name)
	if child == nil {
		return syscall.ENOENT
	}
	op.Entry = fuseops.ChildInodeEntry{
		Child:      child.Inode,
		Attributes: fs.attributes(child),
	}
	return nil
}

func (fs *filesystem) GetInodeAttributes(_ context.Context, op *fuseops.GetInodeAttributesOp) error {
	n, ok := fs.inodes[op.Inode]
	if !ok {
		return syscall.ENOENT
	}
	op.Attributes = fs.attributes(n)
	return nil
}

func (fs *filesystem) OpenDir(_ context.Context, op *fuseops.OpenDirOp) error {
	n, ok := fs.inodes[op.Inode]
	if !ok {
		return syscall.ENOENT
	}
	if !n.IsDir() {
		return syscall.ENOTDIR
	}
	handle := fs.newHandle()
	fs.dirHandles.Store(handle, n)
	op.Handle = handle
	return nil
}

func (fs *filesystem) ReadDir(_ context.Context, op *fuseops.ReadDirOp) error {
	dir, ok := fs.dirHandles.Load(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	for i := int(op.Offset); i < len(dir.Children); i++ {
		child := dir.Children[i]
		typ := fuseutil.DT_File
		if child.IsDir() {
			typ = fuseutil.DT_Directory
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  child.Inode,
			Name:   child.Name,
			Type:   typ,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *filesystem) ReleaseDirHandle(_ context.Context, op *fuseops.ReleaseDirHandleOp) error {
	_, ok := fs.dirHandles.LoadAndDelete(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	return nil
}

func (fs *filesystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	n, ok := fs.inodes[op.Inode]
	if !ok {
		return syscall.ENOENT
	}
	if n.IsDir() {
		return syscall.EISDIR
	}
	vol, err := ldmvol.New(n.Volume, fs.CacheBlocks)
	if err != nil {
		dlog.Errorf(ctx, "open %q: %v", n.Name, err)
		return syscall.EIO
	}
	handle := fs.newHandle()
	fs.fileHandles.Store(handle, vol)
	op.Handle = handle
	op.KeepPageCache = true
	return nil
}

func (fs *filesystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	vol, ok := fs.fileHandles.Load(op.Handle)
	if !ok {
		return syscall.EBADF
	}

	var dat []byte
	if op.Dst != nil {
		size := slices.Min(int64(len(op.Dst)), op.Size)
		dat = op.Dst[:size]
	} else {
		dat = make([]byte, op.Size)
		op.Data = [][]byte{dat}
	}

	var err error
	op.BytesRead, err = vol.ReadAt(dat, op.Offset)
	if errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		dlog.Errorf(ctx, "read %q at %d: %v", vol.Name(), op.Offset, err)
		err = syscall.EIO
	}
	return err
}

func (fs *filesystem) ReleaseFileHandle(_ context.Context, op *fuseops.ReleaseFileHandleOp) error {
	vol, ok := fs.fileHandles.LoadAndDelete(op.Handle)
	if !ok {
		return syscall.EBADF
	}
	return vol.Close()
}

func (fs *filesystem) ListXattr(_ context.Context, op *fuseops.ListXattrOp) error {
	n, ok := fs.inodes[op.Inode]
	if !ok {
		return syscall.ENOENT
	}

	size := 0
	for name := range n.XAttrs {
		size += len(name) + 1
	}
	if len(op.Dst) < size {
		return syscall.ERANGE
	}

	op.BytesRead = size
	i := 0
	for _, name := range maps.SortedKeys(n.XAttrs) {
		i += copy(op.Dst[i:], name)
		op.Dst[i] = 0
		i++
	}
	return nil
}

func (fs *filesystem) GetXattr(_ context.Context, op *fuseops.GetXattrOp) error {
	n, ok := fs.inodes[op.Inode]
	if !ok {
		return syscall.ENOENT
	}

	val, ok := n.XAttrs[op.Name]
	if !ok {
		return syscall.ENODATA
	}

	if len(op.Dst) < len(val) {
		return syscall.ERANGE
	}

	op.BytesRead = len(val)
	copy(op.Dst, val)
	return nil
}

func (fs *filesystem) Destroy() {
	fs.fileHandles.Range(func(handle fuseops.HandleID, vol *ldmvol.Volume) bool {
		_ = vol.Close()
		fs.fileHandles.Delete(handle)
		return true
	})
}
