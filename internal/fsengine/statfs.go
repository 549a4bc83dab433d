package fsengine

import (
	"context"

	"github.com/tifs-fs/tifs/internal/record"
)

// StatfsResult mirrors the fields a FUSE statfs reply needs.
type StatfsResult struct {
	Bsize     uint32
	Blocks    uint64
	Bfree     uint64
	Bavail    uint64
	Files     uint64
	FreeFiles uint64
}

// unboundedSentinelBlocks is reported as f_blocks when no maxsize was
// configured at mount, per spec.md §4.5.h "otherwise report a large
// sentinel".
const unboundedSentinelBlocks uint64 = 1 << 40

// Statfs implements spec.md §4.5.h: if maxsize was set at mount,
// report it as f_blocks*f_bsize; otherwise report a large sentinel.
// Free blocks are computed from FilesystemMeta.BlocksInUse, the
// running total every Size change (block.go Write/Fallocate, Setattr
// truncate) and final inode deletion keep current.
func (e *Engine) Statfs(ctx context.Context) (StatfsResult, error) {
	const op = "statfs"

	var result StatfsResult
	err := e.withTxnReadOnlyMeta(ctx, op, func(meta record.FilesystemMeta) {
		blocks := unboundedSentinelBlocks
		if e.maxSize > 0 {
			blocks = e.maxSize / uint64(e.blksize)
		}

		used := meta.BlocksInUse
		free := blocks
		if used < blocks {
			free = blocks - used
		} else {
			free = 0
		}

		result = StatfsResult{
			Bsize:     e.blksize,
			Blocks:    blocks,
			Bfree:     free,
			Bavail:    free,
			Files:     meta.InodeNext,
			FreeFiles: unboundedSentinelBlocks,
		}
	})
	return result, err
}
