package fsengine

import (
	"context"

	"github.com/tifs-fs/tifs/internal/keycodec"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/tierr"
)

// NewEntryRequest describes a new directory entry to create; shared by
// Mknod, Mkdir, Symlink, and Create (spec.md §4.5.b).
type NewEntryRequest struct {
	Parent uint64
	Name   string
	Kind   record.FileKind
	Perm   uint16
	Uid    uint32
	Gid    uint32
	Rdev   uint32

	// Target is the symlink target; only meaningful when Kind is
	// KindSymlink, stored as the new inode's InlineData.
	Target string
}

// NewEntryResult is the outcome of creating a directory entry.
type NewEntryResult struct {
	Ino  uint64
	Attr record.FileAttr
}

// createEntry is the shared template spec.md §4.5.b describes for
// create/mknod/mkdir/symlink: refuse if the name already exists,
// allocate a new inode, write it, link it into the parent, and update
// the parent's own metadata — all in one transaction.
func (e *Engine) createEntry(ctx context.Context, op string, req NewEntryRequest) (NewEntryResult, error) {
	if err := keycodec.ValidateName(req.Name); err != nil {
		return NewEntryResult{}, tierr.NameInvalid(op, err)
	}
	if req.Kind == record.KindDirectory && (req.Name == "." || req.Name == "..") {
		return NewEntryResult{}, tierr.NameInvalid(op, nil)
	}

	var result NewEntryResult
	err := e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		parentIno, err := e.loadInode(ctx, txn, op, req.Parent, true)
		if err != nil {
			return err
		}
		if !parentIno.Attr.IsDir() {
			return tierr.NotADirectory(op, nil)
		}

		if _, err := e.loadIndexEntry(ctx, txn, op, req.Parent, req.Name, true); err == nil {
			return tierr.Exists(op, nil)
		} else if ferr, ok := tierr.As(err); !ok || ferr.Kind != tierr.KindNotFound {
			return err
		}

		newIno, err := e.allocateInode(ctx, txn, op)
		if err != nil {
			return err
		}

		now := e.now()
		nlink := uint32(1)
		if req.Kind == record.KindDirectory {
			nlink = 2
		}

		child := record.Inode{
			Attr: record.FileAttr{
				Ino:     newIno,
				Kind:    req.Kind,
				Perm:    req.Perm,
				Nlink:   nlink,
				Uid:     req.Uid,
				Gid:     req.Gid,
				Rdev:    req.Rdev,
				Blksize: e.blksize,
				Atime:   now,
				Mtime:   now,
				Ctime:   now,
				Crtime:  now,
			},
			Lock: record.NewLockState(),
		}
		if req.Kind == record.KindSymlink {
			child.InlineData = []byte(req.Target)
			child.Attr.Size = uint64(len(req.Target))
		}

		if err := e.putInode(ctx, txn, op, newIno, child); err != nil {
			return err
		}

		entry := record.DirectoryIndexEntry{Ino: newIno, Kind: req.Kind}
		if err := e.putIndexEntry(ctx, txn, op, req.Parent, req.Name, entry); err != nil {
			return err
		}

		parentIno.Touch(record.TouchMtime|record.TouchCtime, now)
		parentIno.Attr.Size++
		if err := e.putInode(ctx, txn, op, req.Parent, parentIno); err != nil {
			return err
		}

		result = NewEntryResult{Ino: newIno, Attr: child.Attr}
		return nil
	})
	if err != nil {
		return NewEntryResult{}, err
	}
	return result, nil
}

// Mknod creates a regular file, fifo, socket, or device node.
func (e *Engine) Mknod(ctx context.Context, req NewEntryRequest) (NewEntryResult, error) {
	return e.createEntry(ctx, "mknod", req)
}

// Mkdir creates a directory. Refuses "." and ".." (spec.md §4.5.b).
func (e *Engine) Mkdir(ctx context.Context, req NewEntryRequest) (NewEntryResult, error) {
	req.Kind = record.KindDirectory
	return e.createEntry(ctx, "mkdir", req)
}

// Symlink creates a symlink whose target is stored inline on the new
// inode.
func (e *Engine) Symlink(ctx context.Context, req NewEntryRequest) (NewEntryResult, error) {
	req.Kind = record.KindSymlink
	return e.createEntry(ctx, "symlink", req)
}

// CreateResult is the outcome of Create: a new regular file plus an
// already-open handle on it (spec.md §4.5.b "open-with-create").
type CreateResult struct {
	NewEntryResult
	Fh uint64
}

// Create atomically creates a regular file and opens a handle on it.
func (e *Engine) Create(ctx context.Context, req NewEntryRequest, flags int32) (CreateResult, error) {
	const op = "create"
	req.Kind = record.KindRegular

	if err := keycodec.ValidateName(req.Name); err != nil {
		return CreateResult{}, tierr.NameInvalid(op, err)
	}

	var result CreateResult
	err := e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		parentIno, err := e.loadInode(ctx, txn, op, req.Parent, true)
		if err != nil {
			return err
		}
		if !parentIno.Attr.IsDir() {
			return tierr.NotADirectory(op, nil)
		}

		if _, err := e.loadIndexEntry(ctx, txn, op, req.Parent, req.Name, true); err == nil {
			return tierr.Exists(op, nil)
		} else if ferr, ok := tierr.As(err); !ok || ferr.Kind != tierr.KindNotFound {
			return err
		}

		newIno, err := e.allocateInode(ctx, txn, op)
		if err != nil {
			return err
		}

		now := e.now()
		child := record.Inode{
			Attr: record.FileAttr{
				Ino: newIno, Kind: record.KindRegular, Perm: req.Perm, Nlink: 1,
				Uid: req.Uid, Gid: req.Gid, Blksize: e.blksize,
				Atime: now, Mtime: now, Ctime: now, Crtime: now,
			},
			Lock: record.NewLockState(),
		}
		fh := child.NextFh
		child.NextFh++
		child.OpenedFh = 1

		if err := e.putIndexEntry(ctx, txn, op, req.Parent, req.Name, record.DirectoryIndexEntry{Ino: newIno, Kind: record.KindRegular}); err != nil {
			return err
		}

		handle := record.FileHandle{Flags: flags}
		if err := e.putFileHandle(ctx, txn, op, newIno, fh, handle); err != nil {
			return err
		}

		if err := e.putInode(ctx, txn, op, newIno, child); err != nil {
			return err
		}

		parentIno.Touch(record.TouchMtime|record.TouchCtime, now)
		parentIno.Attr.Size++
		if err := e.putInode(ctx, txn, op, req.Parent, parentIno); err != nil {
			return err
		}

		result = CreateResult{NewEntryResult: NewEntryResult{Ino: newIno, Attr: child.Attr}, Fh: fh}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}
	return result, nil
}
