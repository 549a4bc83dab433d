package fsengine

import (
	"context"

	"github.com/tifs-fs/tifs/internal/keycodec"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/tierr"
)

// removeEntry is the shared body of Unlink and Rmdir (spec.md §4.5.c):
// resolve the name, validate its kind against wantDir, for directories
// require emptiness, unlink the index entry, decrement nlink, and
// delete the inode immediately if it has become unreferenced with no
// open handles (otherwise defer to Release).
func (e *Engine) removeEntry(ctx context.Context, op string, parent uint64, name string, wantDir bool) error {
	if err := keycodec.ValidateName(name); err != nil {
		return tierr.NameInvalid(op, err)
	}

	return e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		entry, err := e.loadIndexEntry(ctx, txn, op, parent, name, true)
		if err != nil {
			return err
		}

		v, err := e.loadInode(ctx, txn, op, entry.Ino, true)
		if err != nil {
			return err
		}

		isDir := v.Attr.IsDir()
		if wantDir && !isDir {
			return tierr.NotADirectory(op, nil)
		}
		if !wantDir && isDir {
			return tierr.IsADirectory(op, nil)
		}

		if wantDir {
			kvs, err := txn.Scan(ctx, keycodec.IndexPrefix(entry.Ino), keycodec.IndexPrefixEnd(entry.Ino), 1)
			if err != nil {
				return tierr.Transport(op, err)
			}
			if len(kvs) > 0 {
				return tierr.NotEmpty(op, nil)
			}
		}

		if err := e.deleteIndexEntry(ctx, txn, op, parent, name); err != nil {
			return err
		}

		// A directory's own Index entry accounts for one link, but its
		// Nlink also carries the synthesized "." self-reference
		// (create.go's Mkdir sets Nlink=2), so removing its Index entry
		// must drop both at once or the inode never reaches Deletable.
		dec := uint32(1)
		if wantDir {
			dec = 2
		}
		if v.Attr.Nlink > dec {
			v.Attr.Nlink -= dec
		} else {
			v.Attr.Nlink = 0
		}
		v.Touch(record.TouchCtime, e.now())

		if err := e.finalizeOrSave(ctx, txn, op, entry.Ino, v); err != nil {
			return err
		}

		parentIno, err := e.loadInode(ctx, txn, op, parent, true)
		if err != nil {
			return err
		}
		parentIno.Touch(record.TouchMtime|record.TouchCtime, e.now())
		if parentIno.Attr.Size > 0 {
			parentIno.Attr.Size--
		}
		return e.putInode(ctx, txn, op, parent, parentIno)
	})
}

// Unlink removes a non-directory entry (spec.md §4.5.c). Fails
// EISDIR if name resolves to a directory.
func (e *Engine) Unlink(ctx context.Context, parent uint64, name string) error {
	return e.removeEntry(ctx, "unlink", parent, name, false)
}

// Rmdir removes an empty directory entry (spec.md §4.5.c). Fails
// ENOTDIR if name resolves to a non-directory, ENOTEMPTY if the
// directory still has entries.
func (e *Engine) Rmdir(ctx context.Context, parent uint64, name string) error {
	return e.removeEntry(ctx, "rmdir", parent, name, true)
}
