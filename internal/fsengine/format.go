package fsengine

import (
	"context"

	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/record"
)

// EnsureFormatted creates FilesystemMeta and the root Inode (spec.md
// §3 "the Meta record is created by mkfs (first mount that observes
// its absence)") if they do not already exist. It is idempotent and
// safe to call on every mount.
func (e *Engine) EnsureFormatted(ctx context.Context) error {
	const op = "format"

	return e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		if _, err := e.loadInode(ctx, txn, op, record.RootIno, true); err == nil {
			return nil
		}

		now := e.now()
		root := record.Inode{
			Attr: record.FileAttr{
				Ino: record.RootIno, Kind: record.KindDirectory, Perm: 0755,
				Nlink: 2, Blksize: e.blksize,
				Atime: now, Mtime: now, Ctime: now, Crtime: now,
			},
			Lock: record.NewLockState(),
		}
		if err := e.putInode(ctx, txn, op, record.RootIno, root); err != nil {
			return err
		}

		meta := record.NewFilesystemMeta()
		return e.putMeta(ctx, txn, op, meta)
	})
}
