package fsengine

import (
	"context"
	"strings"
	"time"

	"github.com/tifs-fs/tifs/internal/keycodec"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/tierr"
)

// RenameFlags mirrors the FUSE RENAME_* flags (spec.md §4.5.e).
type RenameFlags uint32

const (
	RenameNoReplace RenameFlags = 1 << iota
	RenameExchange
)

// endpoint names one side of a rename, used to compute the fixed lock
// order spec.md §4.5.e requires to avoid cross-directory rename
// deadlocks.
type endpoint struct {
	parent uint64
	name   string
}

// less orders two endpoints by (parent_ino, name) lexicographically,
// the tie-break spec.md §4.5.e specifies.
func (a endpoint) less(b endpoint) bool {
	if a.parent != b.parent {
		return a.parent < b.parent
	}
	return strings.Compare(a.name, b.name) < 0
}

// Rename implements spec.md §4.5.e: locks both endpoints in a fixed
// order, handles same-inode no-ops, destination replacement (with
// empty-directory and kind checks), RENAME_NOREPLACE/RENAME_EXCHANGE,
// and updates parent/entry timestamps.
func (e *Engine) Rename(ctx context.Context, oldParent uint64, oldName string, newParent uint64, newName string, flags RenameFlags) error {
	const op = "rename"

	if err := keycodec.ValidateName(oldName); err != nil {
		return tierr.NameInvalid(op, err)
	}
	if err := keycodec.ValidateName(newName); err != nil {
		return tierr.NameInvalid(op, err)
	}

	src := endpoint{parent: oldParent, name: oldName}
	dst := endpoint{parent: newParent, name: newName}

	first, second := src, dst
	if dst.less(src) {
		first, second = dst, src
	}

	return e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		// Lock both endpoints in fixed order; remember which value
		// came from which logical side.
		firstEntry, firstErr := e.loadIndexEntry(ctx, txn, op, first.parent, first.name, true)
		secondEntry, secondErr := e.loadIndexEntry(ctx, txn, op, second.parent, second.name, true)

		var srcEntry, dstEntry record.DirectoryIndexEntry
		var dstExists bool
		if first == src {
			srcEntry = firstEntry
			if firstErr != nil {
				return firstErr
			}
			if secondErr == nil {
				dstEntry = secondEntry
				dstExists = true
			} else if ferr, ok := tierr.As(secondErr); !ok || ferr.Kind != tierr.KindNotFound {
				return secondErr
			}
		} else {
			if secondErr != nil {
				return secondErr
			}
			srcEntry = secondEntry
			if firstErr == nil {
				dstEntry = firstEntry
				dstExists = true
			} else if ferr, ok := tierr.As(firstErr); !ok || ferr.Kind != tierr.KindNotFound {
				return firstErr
			}
		}

		if dstExists && dstEntry.Ino == srcEntry.Ino {
			// Renaming an entry onto one of its own hard links: a
			// documented no-op success (spec.md §4.5.e step 3).
			return nil
		}

		if dstExists && flags&RenameNoReplace != 0 {
			return tierr.Exists(op, nil)
		}

		if dstExists && flags&RenameExchange != 0 {
			return e.renameExchange(ctx, txn, op, oldParent, oldName, newParent, newName, srcEntry, dstEntry)
		}

		if dstExists {
			if err := e.replaceDestination(ctx, txn, op, srcEntry, dstEntry); err != nil {
				return err
			}
		}

		srcInode, err := e.loadInode(ctx, txn, op, srcEntry.Ino, true)
		if err != nil {
			return err
		}

		if err := e.putIndexEntry(ctx, txn, op, newParent, newName, srcEntry); err != nil {
			return err
		}
		if err := e.deleteIndexEntry(ctx, txn, op, oldParent, oldName); err != nil {
			return err
		}

		now := e.now()
		srcInode.Touch(record.TouchCtime, now)
		if err := e.putInode(ctx, txn, op, srcEntry.Ino, srcInode); err != nil {
			return err
		}

		// Removing oldName always frees one slot. Writing newName only
		// consumes a new slot when it did not already exist; a replace
		// overwrites the destination's existing key in place.
		newParentGain := int64(1)
		if dstExists {
			newParentGain = 0
		}
		if newParent == oldParent {
			if err := e.touchParent(ctx, txn, op, oldParent, now, newParentGain-1); err != nil {
				return err
			}
		} else {
			if err := e.touchParent(ctx, txn, op, oldParent, now, -1); err != nil {
				return err
			}
			if err := e.touchParent(ctx, txn, op, newParent, now, newParentGain); err != nil {
				return err
			}
		}
		return nil
	})
}

// replaceDestination handles spec.md §4.5.e step 4 for the plain
// (non-exchange) rename case: a directory may replace only an empty
// directory; the destination is then unlinked like a regular
// unlink/rmdir, deferring block cleanup if it has open handles.
func (e *Engine) replaceDestination(ctx context.Context, txn kvtxn.Txn, op string, src, dst record.DirectoryIndexEntry) error {
	dstInode, err := e.loadInode(ctx, txn, op, dst.Ino, true)
	if err != nil {
		return err
	}

	srcIsDir := src.Kind == record.KindDirectory
	dstIsDir := dstInode.Attr.IsDir()

	switch {
	case srcIsDir && !dstIsDir:
		return tierr.NotADirectory(op, nil)
	case !srcIsDir && dstIsDir:
		return tierr.IsADirectory(op, nil)
	case srcIsDir && dstIsDir:
		kvs, err := txn.Scan(ctx, keycodec.IndexPrefix(dst.Ino), keycodec.IndexPrefixEnd(dst.Ino), 1)
		if err != nil {
			return tierr.Transport(op, err)
		}
		if len(kvs) > 0 {
			return tierr.NotEmpty(op, nil)
		}
	}

	dec := uint32(1)
	if dstIsDir {
		dec = 2
	}
	if dstInode.Attr.Nlink > dec {
		dstInode.Attr.Nlink -= dec
	} else {
		dstInode.Attr.Nlink = 0
	}
	dstInode.Touch(record.TouchCtime, e.now())
	return e.finalizeOrSave(ctx, txn, op, dst.Ino, dstInode)
}

// renameExchange implements RENAME_EXCHANGE: both index entries swap
// targets atomically; neither inode's nlink changes.
func (e *Engine) renameExchange(ctx context.Context, txn kvtxn.Txn, op string, oldParent uint64, oldName string, newParent uint64, newName string, src, dst record.DirectoryIndexEntry) error {
	if err := e.putIndexEntry(ctx, txn, op, oldParent, oldName, dst); err != nil {
		return err
	}
	if err := e.putIndexEntry(ctx, txn, op, newParent, newName, src); err != nil {
		return err
	}

	now := e.now()
	for _, ino := range []uint64{src.Ino, dst.Ino} {
		v, err := e.loadInode(ctx, txn, op, ino, true)
		if err != nil {
			return err
		}
		v.Touch(record.TouchCtime, now)
		if err := e.putInode(ctx, txn, op, ino, v); err != nil {
			return err
		}
	}

	if err := e.touchParent(ctx, txn, op, oldParent, now, 0); err != nil {
		return err
	}
	if newParent != oldParent {
		return e.touchParent(ctx, txn, op, newParent, now, 0)
	}
	return nil
}

// touchParent updates a parent directory's mtime/ctime and adjusts its
// synthesized entry-count (sizeDelta) in one read-modify-write.
func (e *Engine) touchParent(ctx context.Context, txn kvtxn.Txn, op string, parent uint64, now time.Time, sizeDelta int64) error {
	v, err := e.loadInode(ctx, txn, op, parent, true)
	if err != nil {
		return err
	}
	v.Touch(record.TouchMtime|record.TouchCtime, now)
	if sizeDelta > 0 {
		v.Attr.Size += uint64(sizeDelta)
	} else if sizeDelta < 0 && v.Attr.Size >= uint64(-sizeDelta) {
		v.Attr.Size -= uint64(-sizeDelta)
	}
	return e.putInode(ctx, txn, op, parent, v)
}
