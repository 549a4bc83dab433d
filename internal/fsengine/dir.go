package fsengine

import (
	"context"

	"github.com/tifs-fs/tifs/internal/keycodec"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/tierr"
)

// DirEntry is one entry returned by Readdir.
type DirEntry struct {
	Name string
	Ino  uint64
	Kind record.FileKind
}

// Readdir scans Index entries under ino in name order, synthesizing
// "." and ".." as the first two entries of a fresh (empty cursor)
// listing (spec.md §4.5.h). cursor is the last name already returned
// by a prior call, or "" to start from the beginning; parentIno is the
// inode to report for "..".
func (e *Engine) Readdir(ctx context.Context, ino, parentIno uint64, cursor string, limit int) ([]DirEntry, error) {
	const op = "readdir"

	var out []DirEntry
	err := e.withTxn(ctx, kvtxn.Optimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		v, err := e.loadInode(ctx, txn, op, ino, false)
		if err != nil {
			return err
		}
		if !v.Attr.IsDir() {
			return tierr.NotADirectory(op, nil)
		}

		if cursor == "" {
			out = append(out,
				DirEntry{Name: ".", Ino: ino, Kind: record.KindDirectory},
				DirEntry{Name: "..", Ino: parentIno, Kind: record.KindDirectory},
			)
		}

		start := keycodec.IndexPrefix(ino)
		if cursor != "" {
			start = keycodec.Encode(keycodec.IndexKey(ino, cursor+"\x00"))
		}
		end := keycodec.IndexPrefixEnd(ino)

		scanLimit := limit
		if scanLimit > 0 && cursor == "" {
			// The two synthesized entries count against the caller's
			// limit, same as a real Index entry would.
			if scanLimit <= 2 {
				return nil
			}
			scanLimit -= 2
		}

		kvs, err := txn.Scan(ctx, start, end, scanLimit)
		if err != nil {
			return tierr.Transport(op, err)
		}

		for _, kv := range kvs {
			k, err := keycodec.Decode(kv.Key)
			if err != nil {
				return tierr.Malformed(op, err)
			}
			entry, err := e.codec.DecodeDirectoryIndexEntry(kv.Value)
			if err != nil {
				return tierr.Malformed(op, err)
			}
			out = append(out, DirEntry{Name: k.Name, Ino: entry.Ino, Kind: entry.Kind})
		}
		return nil
	})
	return out, err
}
