package mount

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/tifs-fs/tifs/internal/fsengine"
	"github.com/tifs-fs/tifs/internal/record"
)

// fileHandle is the per-open-file state the Mount Surface hands back
// to go-fuse from Open/Create: just the (inode, handle id) pair
// internal/fsengine needs to address its persisted FileHandle record
// (spec.md §4.5.f).
type fileHandle struct {
	fs  *FS
	ino uint64
	fh  uint64
}

var (
	_ fs.FileReader    = (*fileHandle)(nil)
	_ fs.FileWriter    = (*fileHandle)(nil)
	_ fs.FileFlusher   = (*fileHandle)(nil)
	_ fs.FileReleaser  = (*fileHandle)(nil)
	_ fs.FileFsyncer   = (*fileHandle)(nil)
	_ fs.FileGetlker   = (*fileHandle)(nil)
	_ fs.FileSetlker   = (*fileHandle)(nil)
	_ fs.FileSetlkwer  = (*fileHandle)(nil)
	_ fs.FileAllocater = (*fileHandle)(nil)
	_ fs.FileLseeker   = (*fileHandle)(nil)
)

// Read implements spec.md §4.5.g.
func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (res fuse.ReadResult, errOut syscall.Errno) {
	finish := h.fs.instrument(ctx, "read")
	defer func() { finish(&errOut) }()

	data, err := h.fs.engine.Read(ctx, h.ino, uint64(off), uint32(len(dest)))
	if err != nil {
		errOut = errno(err)
		return
	}
	res = fuse.ReadResultData(data)
	return
}

// Write implements spec.md §4.5.g.
func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (n uint32, errOut syscall.Errno) {
	finish := h.fs.instrument(ctx, "write")
	defer func() { finish(&errOut) }()

	written, err := h.fs.engine.Write(ctx, h.ino, uint64(off), data)
	if err != nil {
		errOut = errno(err)
		return
	}
	n = written
	return
}

// Flush implements spec.md §4.5.f.
func (h *fileHandle) Flush(ctx context.Context) (errOut syscall.Errno) {
	finish := h.fs.instrument(ctx, "flush")
	defer func() { finish(&errOut) }()

	errOut = errno(h.fs.engine.Flush(ctx, h.ino, h.fh))
	return
}

// Release implements spec.md §4.5.f, including the deferred-unlink
// finalization Engine.Release performs internally.
func (h *fileHandle) Release(ctx context.Context) (errOut syscall.Errno) {
	finish := h.fs.instrument(ctx, "release")
	defer func() { finish(&errOut) }()

	errOut = errno(h.fs.engine.Release(ctx, h.ino, h.fh))
	return
}

// Fsync implements spec.md §4.5.f.
func (h *fileHandle) Fsync(ctx context.Context, flags uint32) (errOut syscall.Errno) {
	finish := h.fs.instrument(ctx, "fsync")
	defer func() { finish(&errOut) }()

	errOut = errno(h.fs.engine.Fsync(ctx, h.ino))
	return
}

func lockKindFromType(typ uint32) record.LockKind {
	switch typ {
	case syscall.F_WRLCK:
		return record.LockExclusive
	case syscall.F_RDLCK:
		return record.LockShared
	default:
		return record.LockUnlocked
	}
}

func lockOpFromType(typ uint32) record.LockOp {
	switch typ {
	case syscall.F_WRLCK:
		return record.LockOpExclusive
	case syscall.F_RDLCK:
		return record.LockOpShared
	default:
		return record.LockOpUnlock
	}
}

// conflictingType reports the lock type Getlk should report back for
// state as seen by requester: F_UNLCK if requester would not be
// blocked, otherwise the type of the blocking lock.
func conflictingType(state record.LockState, requester uint64, want record.LockKind) uint32 {
	switch state.Kind {
	case record.LockExclusive:
		for owner := range state.Owners {
			if owner != requester {
				return syscall.F_WRLCK
			}
		}
	case record.LockShared:
		if want != record.LockExclusive {
			break
		}
		for owner := range state.Owners {
			if owner != requester {
				return syscall.F_RDLCK
			}
		}
	}
	return syscall.F_UNLCK
}

// Getlk implements spec.md §4.5.i's whole-file advisory lock query.
func (h *fileHandle) Getlk(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32, out *fuse.FileLock) (errOut syscall.Errno) {
	finish := h.fs.instrument(ctx, "getlk")
	defer func() { finish(&errOut) }()

	want := lockKindFromType(lk.Typ)
	state, err := h.fs.engine.Getlk(ctx, h.ino, owner, want)
	if err != nil {
		errOut = errno(err)
		return
	}
	*out = *lk
	out.Typ = conflictingType(state, owner, want)
	return
}

// Setlk implements spec.md §4.5.i's non-blocking lock/unlock, failing
// immediately with EAGAIN when the transition table refuses.
func (h *fileHandle) Setlk(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32) (errOut syscall.Errno) {
	finish := h.fs.instrument(ctx, "setlk")
	defer func() { finish(&errOut) }()

	errOut = errno(h.fs.engine.Setlk(ctx, h.ino, owner, lockOpFromType(lk.Typ)))
	return
}

// Setlkw implements spec.md §4.5.i's blocking variant by polling
// Setlk, since the whole-file lock state lives in the KV store rather
// than in an in-process waiter list.
func (h *fileHandle) Setlkw(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32) (errOut syscall.Errno) {
	finish := h.fs.instrument(ctx, "setlkw")
	defer func() { finish(&errOut) }()

	const pollInterval = 20 * time.Millisecond

	for {
		e := errno(h.fs.engine.Setlk(ctx, h.ino, owner, lockOpFromType(lk.Typ)))
		if e != syscall.EAGAIN {
			errOut = e
			return
		}
		select {
		case <-ctx.Done():
			errOut = syscall.EINTR
			return
		case <-time.After(pollInterval):
		}
	}
}

const (
	fallocKeepSize  = 0x01
	fallocPunchHole = 0x02
)

// Allocate implements spec.md §4.5.g's fallocate.
func (h *fileHandle) Allocate(ctx context.Context, off, size uint64, mode uint32) (errOut syscall.Errno) {
	finish := h.fs.instrument(ctx, "fallocate")
	defer func() { finish(&errOut) }()

	var fm fsengine.FallocateMode
	switch {
	case mode&fallocPunchHole != 0:
		fm = fsengine.FallocatePunchHole
	case mode&fallocKeepSize != 0:
		fm = fsengine.FallocateKeepSize
	default:
		fm = fsengine.FallocateExtend
	}
	errOut = errno(h.fs.engine.Fallocate(ctx, h.ino, off, size, fm))
	return
}

const (
	seekData = 3
	seekHole = 4
)

// Lseek implements SEEK_DATA/SEEK_HOLE. The block store never records
// which interior ranges are sparse once the file has a recorded size,
// so this approximates: SEEK_DATA returns off unchanged and SEEK_HOLE
// returns the file's size, treating the whole file as one data run.
// TODO: consult the block index to report real hole boundaries.
func (h *fileHandle) Lseek(ctx context.Context, off uint64, whence uint32) (pos uint64, errOut syscall.Errno) {
	finish := h.fs.instrument(ctx, "lseek")
	defer func() { finish(&errOut) }()

	switch whence {
	case seekData:
		pos = off
	case seekHole:
		attr, err := h.fs.engine.Getattr(ctx, h.ino)
		if err != nil {
			errOut = errno(err)
			return
		}
		if off >= attr.Size {
			errOut = syscall.ENXIO
			return
		}
		pos = attr.Size
	default:
		pos = off
	}
	return
}
