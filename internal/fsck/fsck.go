// Package fsck walks the whole keyspace offline and checks the
// invariants spec.md §8 lists, generalizing the teacher's in-process
// fs.checkInvariants (guarded by a syncutil.InvariantMutex after every
// mutating call in fs_teacher/fs.go) into a read-only, scan-driven
// checker a human runs between mounts.
package fsck

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tifs-fs/tifs/internal/keycodec"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/record"
)

// Violation names one failed invariant and the key(s) involved.
type Violation struct {
	Invariant string
	Detail    string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Invariant, v.Detail)
}

// Report is the outcome of a full Check run.
type Report struct {
	InodesScanned  int
	IndexScanned   int
	BlocksScanned  int
	HandlesScanned int
	Violations     []Violation
}

func (r Report) OK() bool { return len(r.Violations) == 0 }

const scanPageSize = 1024

// Check runs every invariant from spec.md §8 that is checkable from a
// single consistent snapshot of the keyspace: inode/link-count
// consistency (1), block accounting (2), the inode_next watermark (3),
// lock-state validity (4), and block-key ordering (6). Invariants 5 and 7 (codec round-trip,
// retry idempotence) are properties of the codec and the transaction
// façade respectively and are exercised by their own unit tests, not
// by a keyspace walk.
func Check(ctx context.Context, client kvtxn.Client) (Report, error) {
	var report Report

	txn, err := client.Begin(ctx, kvtxn.Optimistic)
	if err != nil {
		return Report{}, fmt.Errorf("fsck: begin: %w", err)
	}
	defer txn.Rollback(ctx)

	inodes, err := scanScope(ctx, txn, keycodec.ScopeInode)
	if err != nil {
		return Report{}, err
	}
	indexEntries, err := scanScope(ctx, txn, keycodec.ScopeIndex)
	if err != nil {
		return Report{}, err
	}
	blocks, err := scanScope(ctx, txn, keycodec.ScopeBlock)
	if err != nil {
		return Report{}, err
	}
	handles, err := scanScope(ctx, txn, keycodec.ScopeHandle)
	if err != nil {
		return Report{}, err
	}

	metaRaw, metaErr := txn.Get(ctx, keycodec.Encode(keycodec.MetaKey()))

	report.InodesScanned = len(inodes)
	report.IndexScanned = len(indexEntries)
	report.BlocksScanned = len(blocks)
	report.HandlesScanned = len(handles)

	codec := record.NewProductionCodec()

	decodedInodes := make(map[uint64]record.Inode, len(inodes))
	maxIno := uint64(0)
	var g errgroup.Group
	var mu sync.Mutex
	for _, kv := range inodes {
		kv := kv
		g.Go(func() error {
			key, err := keycodec.Decode(kv.Key)
			if err != nil {
				mu.Lock()
				report.Violations = append(report.Violations, Violation{"decode", err.Error()})
				mu.Unlock()
				return nil
			}
			v, err := codec.DecodeInode(kv.Value)
			if err != nil {
				mu.Lock()
				report.Violations = append(report.Violations, Violation{"5-round-trip", fmt.Sprintf("inode %d: %v", key.Inode, err)})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			decodedInodes[key.Inode] = v
			if key.Inode > maxIno {
				maxIno = key.Inode
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Invariant 3: inode_next strictly exceeds the maximum extant inode.
	if metaErr == nil {
		meta, err := codec.DecodeFilesystemMeta(metaRaw)
		if err != nil {
			report.Violations = append(report.Violations, Violation{"5-round-trip", "FilesystemMeta: " + err.Error()})
		} else if len(decodedInodes) > 0 && meta.InodeNext <= maxIno {
			report.Violations = append(report.Violations, Violation{
				"3-inode-watermark",
				fmt.Sprintf("inode_next=%d does not exceed max extant inode %d", meta.InodeNext, maxIno),
			})
		}
	}

	// Invariant 4: lock-state validity.
	for ino, v := range decodedInodes {
		if !v.Lock.Valid() {
			report.Violations = append(report.Violations, Violation{
				"4-lock-state",
				fmt.Sprintf("inode %d: kind=%v owners=%d", ino, v.Lock.Kind, len(v.Lock.Owners)),
			})
		}
	}

	// Invariant 2: blocks accounting and block-index ceiling.
	blocksByIno := make(map[uint64][]uint64)
	for _, kv := range blocks {
		key, err := keycodec.Decode(kv.Key)
		if err != nil {
			report.Violations = append(report.Violations, Violation{"decode", err.Error()})
			continue
		}
		blocksByIno[key.Inode] = append(blocksByIno[key.Inode], key.Block)
	}
	for ino, v := range decodedInodes {
		if v.Attr.Kind != record.KindRegular {
			continue
		}
		blksize := uint64(v.Attr.Blksize)
		if blksize == 0 {
			continue
		}
		wantBlocks := (v.Attr.Size + blksize - 1) / blksize
		if v.Attr.Blocks != wantBlocks {
			report.Violations = append(report.Violations, Violation{
				"2-block-accounting",
				fmt.Sprintf("inode %d: size=%d blksize=%d implies blocks=%d, recorded blocks=%d", ino, v.Attr.Size, blksize, wantBlocks, v.Attr.Blocks),
			})
		}
		idxs := blocksByIno[ino]
		sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
		for i := 1; i < len(idxs); i++ {
			if idxs[i] <= idxs[i-1] {
				report.Violations = append(report.Violations, Violation{
					"6-block-ordering",
					fmt.Sprintf("inode %d: block index %d did not strictly increase after %d", ino, idxs[i], idxs[i-1]),
				})
			}
		}
		for _, idx := range idxs {
			if idx >= v.Attr.Blocks {
				report.Violations = append(report.Violations, Violation{
					"2-block-accounting",
					fmt.Sprintf("inode %d: block index %d >= recorded blocks %d", ino, idx, v.Attr.Blocks),
				})
			}
		}
	}

	// Invariant 1: every Index entry references an extant inode; nlink
	// accounting for directories and regular files.
	linkCount := make(map[uint64]uint32)
	for _, kv := range indexEntries {
		key, err := keycodec.Decode(kv.Key)
		if err != nil {
			report.Violations = append(report.Violations, Violation{"decode", err.Error()})
			continue
		}
		entry, err := codec.DecodeDirectoryIndexEntry(kv.Value)
		if err != nil {
			report.Violations = append(report.Violations, Violation{"5-round-trip", fmt.Sprintf("index (%d,%q): %v", key.Inode, key.Name, err)})
			continue
		}
		if _, ok := decodedInodes[entry.Ino]; !ok {
			report.Violations = append(report.Violations, Violation{
				"1-index-to-inode",
				fmt.Sprintf("index (%d,%q) references missing inode %d", key.Inode, key.Name, entry.Ino),
			})
			continue
		}
		linkCount[entry.Ino]++
	}
	for ino, v := range decodedInodes {
		if ino == record.RootIno {
			continue
		}
		want := linkCount[ino]
		if v.Attr.Kind == record.KindDirectory {
			// one Index reference from its parent, plus every child
			// directory's synthesized ".." back-reference; this walk
			// does not materialize the child set here, so only flag
			// the case Check can observe directly: zero references
			// with nlink > 0 (an orphaned, still-linked directory).
			if want == 0 && v.Attr.Nlink > 0 {
				report.Violations = append(report.Violations, Violation{
					"1-nlink-consistency",
					fmt.Sprintf("directory inode %d has nlink=%d but no Index reference", ino, v.Attr.Nlink),
				})
			}
			continue
		}
		if want != v.Attr.Nlink {
			report.Violations = append(report.Violations, Violation{
				"1-nlink-consistency",
				fmt.Sprintf("inode %d: %d Index references but nlink=%d", ino, want, v.Attr.Nlink),
			})
		}
	}

	return report, nil
}

func scanScope(ctx context.Context, txn kvtxn.Txn, scope keycodec.Scope) ([]kvtxn.KeyValue, error) {
	start := keycodec.ScopePrefix(scope)
	end := keycodec.ScopePrefixEnd(scope)

	var all []kvtxn.KeyValue
	for {
		page, err := txn.Scan(ctx, start, end, scanPageSize)
		if err != nil {
			return nil, fmt.Errorf("fsck: scan %s: %w", scope, err)
		}
		all = append(all, page...)
		if len(page) < scanPageSize {
			return all, nil
		}
		start = append(append([]byte(nil), page[len(page)-1].Key...), 0x00)
	}
}
