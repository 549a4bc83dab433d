package fsengine

import (
	"context"

	"github.com/tifs-fs/tifs/internal/keycodec"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/tierr"
)

// Link creates a new hard link (newParent, newName) -> srcIno (spec.md
// §4.5.d). Directories cannot be hard-linked.
func (e *Engine) Link(ctx context.Context, srcIno, newParent uint64, newName string) (record.FileAttr, error) {
	const op = "link"

	if err := keycodec.ValidateName(newName); err != nil {
		return record.FileAttr{}, tierr.NameInvalid(op, err)
	}

	var result record.FileAttr
	err := e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		src, err := e.loadInode(ctx, txn, op, srcIno, true)
		if err != nil {
			return err
		}
		if src.Attr.IsDir() {
			return tierr.Permission(op, nil)
		}

		if _, err := e.loadIndexEntry(ctx, txn, op, newParent, newName, true); err == nil {
			return tierr.Exists(op, nil)
		} else if ferr, ok := tierr.As(err); !ok || ferr.Kind != tierr.KindNotFound {
			return err
		}

		if err := e.putIndexEntry(ctx, txn, op, newParent, newName, record.DirectoryIndexEntry{Ino: srcIno, Kind: src.Attr.Kind}); err != nil {
			return err
		}

		src.Attr.Nlink++
		src.Touch(record.TouchCtime, e.now())
		if err := e.putInode(ctx, txn, op, srcIno, src); err != nil {
			return err
		}

		parentIno, err := e.loadInode(ctx, txn, op, newParent, true)
		if err != nil {
			return err
		}
		parentIno.Touch(record.TouchMtime|record.TouchCtime, e.now())
		parentIno.Attr.Size++
		if err := e.putInode(ctx, txn, op, newParent, parentIno); err != nil {
			return err
		}

		result = src.Attr
		return nil
	})
	if err != nil {
		return record.FileAttr{}, err
	}
	return result, nil
}
