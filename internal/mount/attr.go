package mount

import (
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/tifs-fs/tifs/internal/record"
)

// posixMode combines a record.FileKind with a permission bitmask into
// the syscall.S_IFxxx|perm value FUSE attribute replies carry.
func posixMode(kind record.FileKind, perm uint16) uint32 {
	var t uint32
	switch kind {
	case record.KindRegular:
		t = syscall.S_IFREG
	case record.KindDirectory:
		t = syscall.S_IFDIR
	case record.KindSymlink:
		t = syscall.S_IFLNK
	case record.KindFifo:
		t = syscall.S_IFIFO
	case record.KindSocket:
		t = syscall.S_IFSOCK
	case record.KindBlockDev:
		t = syscall.S_IFBLK
	case record.KindCharDev:
		t = syscall.S_IFCHR
	}
	return t | uint32(perm)
}

// kindFromMode extracts the record.FileKind a mknod/create mode value
// encodes.
func kindFromMode(mode uint32) record.FileKind {
	switch mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		return record.KindDirectory
	case syscall.S_IFLNK:
		return record.KindSymlink
	case syscall.S_IFIFO:
		return record.KindFifo
	case syscall.S_IFSOCK:
		return record.KindSocket
	case syscall.S_IFBLK:
		return record.KindBlockDev
	case syscall.S_IFCHR:
		return record.KindCharDev
	default:
		return record.KindRegular
	}
}

// fillAttr populates a fuse.Attr from a record.FileAttr.
func fillAttr(out *fuse.Attr, attr record.FileAttr) {
	out.Ino = attr.Ino
	out.Size = attr.Size
	out.Blocks = attr.Blocks
	out.Mode = posixMode(attr.Kind, attr.Perm)
	out.Nlink = attr.Nlink
	out.Owner = fuse.Owner{Uid: attr.Uid, Gid: attr.Gid}
	out.Rdev = attr.Rdev
	out.Blksize = attr.Blksize
	setAttrTime(out, attr)
}

func setAttrTime(out *fuse.Attr, attr record.FileAttr) {
	out.SetTimes(&attr.Atime, &attr.Mtime, &attr.Ctime)
}

// fillEntryOut populates the EntryOut the kernel expects from a
// successful lookup/create-style callback.
func fillEntryOut(out *fuse.EntryOut, attr record.FileAttr, ttl time.Duration) {
	out.NodeId = attr.Ino
	out.Generation = 1
	out.SetEntryTimeout(ttl)
	out.SetAttrTimeout(ttl)
	fillAttr(&out.Attr, attr)
}

func fillAttrOut(out *fuse.AttrOut, attr record.FileAttr, ttl time.Duration) {
	out.SetTimeout(ttl)
	fillAttr(&out.Attr, attr)
}
