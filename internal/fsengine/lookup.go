package fsengine

import (
	"context"

	"github.com/tifs-fs/tifs/internal/keycodec"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/tierr"
)

// LookupResult is the outcome of Lookup: the child's own attributes.
type LookupResult struct {
	Attr record.FileAttr
}

// Lookup resolves (parent, name) to the child inode's attributes
// (spec.md §4.5.a). It never mutates anything and runs optimistically,
// since lookup never needs get-for-update.
func (e *Engine) Lookup(ctx context.Context, parent uint64, name string) (LookupResult, error) {
	const op = "lookup"

	if err := keycodec.ValidateName(name); err != nil {
		return LookupResult{}, tierr.NameInvalid(op, err)
	}

	var out LookupResult
	err := e.withTxn(ctx, kvtxn.Optimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		parentIno, err := e.loadInode(ctx, txn, op, parent, false)
		if err != nil {
			return err
		}
		if !parentIno.Attr.IsDir() {
			return tierr.NotADirectory(op, nil)
		}

		entry, err := e.loadIndexEntry(ctx, txn, op, parent, name, false)
		if err != nil {
			return err
		}

		child, err := e.loadInode(ctx, txn, op, entry.Ino, false)
		if err != nil {
			return err
		}

		out = LookupResult{Attr: child.Attr}
		return nil
	})
	if err != nil {
		return LookupResult{}, err
	}
	return out, nil
}

// Getattr returns the attributes of ino (spec.md §4.5.a).
func (e *Engine) Getattr(ctx context.Context, ino uint64) (record.FileAttr, error) {
	const op = "getattr"

	var attr record.FileAttr
	err := e.withTxn(ctx, kvtxn.Optimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		v, err := e.loadInode(ctx, txn, op, ino, false)
		if err != nil {
			return err
		}
		attr = v.Attr
		return nil
	})
	return attr, err
}

// Readlink returns the stored target of a symlink inode (spec.md §3
// "symlink target stored inline").
func (e *Engine) Readlink(ctx context.Context, ino uint64) (string, error) {
	const op = "readlink"

	var target string
	err := e.withTxn(ctx, kvtxn.Optimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		v, err := e.loadInode(ctx, txn, op, ino, false)
		if err != nil {
			return err
		}
		if v.Attr.Kind != record.KindSymlink {
			return tierr.Malformed(op, nil)
		}
		target = string(v.InlineData)
		return nil
	})
	return target, err
}

// AttrChanges is the sparse set of fields Setattr should apply; a nil
// pointer field means "leave unchanged".
type AttrChanges struct {
	Mode  *uint16
	Uid   *uint32
	Gid   *uint32
	Size  *uint64
	Atime *timeValue
	Mtime *timeValue
}

// timeValue is a thin indirection so AttrChanges can be constructed
// without importing time in every caller's hot path; fsengine's
// callers (internal/mount) convert time.Time to this via NewTimeValue.
type timeValue struct {
	unixNano int64
}

// NewTimeValue wraps a time.Time-derived unix-nanosecond timestamp for
// use in AttrChanges.
func NewTimeValue(unixNano int64) *timeValue { return &timeValue{unixNano: unixNano} }

// Setattr applies changes to ino's attributes in a single transaction,
// truncating or sparsely extending block storage as needed (spec.md
// §4.5.a).
func (e *Engine) Setattr(ctx context.Context, ino uint64, changes AttrChanges) (record.FileAttr, error) {
	const op = "setattr"

	var result record.FileAttr
	err := e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		v, err := e.loadInode(ctx, txn, op, ino, true)
		if err != nil {
			return err
		}

		if changes.Mode != nil {
			v.Attr.Perm = *changes.Mode
		}
		if changes.Uid != nil {
			v.Attr.Uid = *changes.Uid
		}
		if changes.Gid != nil {
			v.Attr.Gid = *changes.Gid
		}
		if changes.Atime != nil {
			v.Attr.Atime = unixNanoToTime(changes.Atime.unixNano)
		}
		if changes.Mtime != nil {
			v.Attr.Mtime = unixNanoToTime(changes.Mtime.unixNano)
		}

		if changes.Size != nil {
			if err := e.resizeLocked(ctx, txn, op, ino, &v, *changes.Size); err != nil {
				return err
			}
		}

		v.Touch(record.TouchCtime, e.now())

		if err := e.putInode(ctx, txn, op, ino, v); err != nil {
			return err
		}
		result = v.Attr
		return nil
	})
	return result, err
}

// resizeLocked implements the truncate/sparse-extend half of setattr:
// shrinking deletes blocks beyond the new size and truncates the new
// tail block in place; growing is purely logical (spec.md §4.5.a).
func (e *Engine) resizeLocked(ctx context.Context, txn kvtxn.Txn, op string, ino uint64, v *record.Inode, newSize uint64) error {
	oldSize := v.Attr.Size
	oldBlocks := v.Attr.Blocks
	v.Attr.SetSize(newSize, v.Attr.Blksize)
	if v.Attr.Blocks != oldBlocks {
		if err := e.adjustBlocksInUse(ctx, txn, op, int64(v.Attr.Blocks)-int64(oldBlocks)); err != nil {
			return err
		}
	}

	if newSize >= oldSize {
		return nil
	}

	blksize := uint64(v.Attr.Blksize)
	if blksize == 0 {
		blksize = uint64(e.blksize)
	}

	newBlocks := v.Attr.Blocks
	start := keycodec.Encode(keycodec.BlockKey(ino, newBlocks))
	end := keycodec.BlockPrefixEnd(ino)
	if err := e.deleteBlockRange(ctx, txn, op, start, end); err != nil {
		return err
	}

	if newSize == 0 || newBlocks == 0 {
		return nil
	}

	tailBlock := newBlocks - 1
	tailLen := newSize - tailBlock*blksize
	tailKey := keycodec.Encode(keycodec.BlockKey(ino, tailBlock))
	raw, err := txn.Get(ctx, tailKey)
	if err != nil {
		if err == kvtxn.ErrNotFound {
			return nil
		}
		return tierr.Transport(op, err)
	}
	data := e.codec.DecodeBlock(raw)
	if uint64(len(data)) > tailLen {
		data = data[:tailLen]
	}
	if err := txn.Put(ctx, tailKey, e.codec.EncodeBlock(data)); err != nil {
		return tierr.Transport(op, err)
	}
	return nil
}
