package fsengine

import (
	"context"

	"github.com/tifs-fs/tifs/internal/keycodec"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/tierr"
)

func (e *Engine) loadFileHandle(ctx context.Context, txn kvtxn.Txn, op string, ino, fh uint64, forUpdate bool) (record.FileHandle, error) {
	key := keycodec.Encode(keycodec.HandleKey(ino, fh))

	var raw []byte
	var err error
	if forUpdate {
		raw, err = txn.GetForUpdate(ctx, key)
	} else {
		raw, err = txn.Get(ctx, key)
	}
	if err != nil {
		return record.FileHandle{}, mapLoadErr(op, err)
	}

	v, err := e.codec.DecodeFileHandle(raw)
	if err != nil {
		return record.FileHandle{}, tierr.Malformed(op, err)
	}
	return v, nil
}

func (e *Engine) putFileHandle(ctx context.Context, txn kvtxn.Txn, op string, ino, fh uint64, v record.FileHandle) error {
	raw, err := e.codec.EncodeFileHandle(v)
	if err != nil {
		return tierr.Malformed(op, err)
	}
	if err := txn.Put(ctx, keycodec.Encode(keycodec.HandleKey(ino, fh)), raw); err != nil {
		return tierr.Transport(op, err)
	}
	return nil
}

func (e *Engine) deleteFileHandle(ctx context.Context, txn kvtxn.Txn, op string, ino, fh uint64) error {
	if err := txn.Delete(ctx, keycodec.Encode(keycodec.HandleKey(ino, fh))); err != nil {
		return tierr.Transport(op, err)
	}
	return nil
}

// Open allocates a new FileHandle on ino and marks it in-use (spec.md
// §4.5.f). Directories are opened the same way as files; the Mount
// Surface is responsible for rejecting write flags on a directory
// handle (EISDIR) before calling Open, per standard POSIX checks.
func (e *Engine) Open(ctx context.Context, ino uint64, flags int32) (uint64, error) {
	const op = "open"

	var fh uint64
	err := e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		v, err := e.loadInode(ctx, txn, op, ino, true)
		if err != nil {
			return err
		}

		fh = v.NextFh
		v.NextFh++
		v.OpenedFh++

		if err := e.putFileHandle(ctx, txn, op, ino, fh, record.FileHandle{Flags: flags}); err != nil {
			return err
		}
		return e.putInode(ctx, txn, op, ino, v)
	})
	return fh, err
}

// Release closes fh and, if this was the inode's last reference
// (nlink == 0 and opened_fh reaches zero), completes a deferred
// unlink by deleting the inode and all of its blocks (spec.md §4.5.f).
func (e *Engine) Release(ctx context.Context, ino, fh uint64) error {
	const op = "release"

	return e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		if _, err := e.loadFileHandle(ctx, txn, op, ino, fh, true); err != nil {
			return err
		}
		if err := e.deleteFileHandle(ctx, txn, op, ino, fh); err != nil {
			return err
		}

		v, err := e.loadInode(ctx, txn, op, ino, true)
		if err != nil {
			return err
		}
		if v.OpenedFh > 0 {
			v.OpenedFh--
		}

		return e.finalizeOrSave(ctx, txn, op, ino, v)
	})
}

// Flush is a no-op beyond observing that any pending transaction has
// already committed: every write in this engine is synchronous at
// commit time, so there is nothing left to flush (spec.md §4.5.f).
func (e *Engine) Flush(ctx context.Context, ino, fh uint64) error {
	const op = "flush"
	return e.withTxn(ctx, kvtxn.Optimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		_, err := e.loadFileHandle(ctx, txn, op, ino, fh, false)
		return err
	})
}

// Fsync behaves identically to Flush in this engine: durability is
// already guaranteed at each operation's commit.
func (e *Engine) Fsync(ctx context.Context, ino uint64) error {
	const op = "fsync"
	return e.withTxn(ctx, kvtxn.Optimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		_, err := e.loadInode(ctx, txn, op, ino, false)
		return err
	})
}
