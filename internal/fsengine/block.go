package fsengine

import (
	"context"

	"github.com/tifs-fs/tifs/internal/keycodec"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/tierr"
)

// Read implements spec.md §4.5.g: a single range scan over the
// requested block span, zero-filling holes and the tail of a short
// last block, truncated to the file's recorded size.
func (e *Engine) Read(ctx context.Context, ino uint64, offset uint64, size uint32) ([]byte, error) {
	const op = "read"

	var out []byte
	err := e.withTxn(ctx, kvtxn.Optimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		v, err := e.loadInode(ctx, txn, op, ino, false)
		if err != nil {
			return err
		}

		if offset >= v.Attr.Size {
			out = nil
			return nil
		}
		end := offset + uint64(size)
		if end > v.Attr.Size {
			end = v.Attr.Size
		}
		want := end - offset

		blksize := uint64(v.Attr.Blksize)
		if blksize == 0 {
			blksize = uint64(e.blksize)
		}

		iStart := offset / blksize
		iEnd := (end - 1) / blksize

		start, scanEnd := keycodec.BlockRange(ino, iStart, iEnd)
		kvs, err := txn.Scan(ctx, start, scanEnd, 0)
		if err != nil {
			return tierr.Transport(op, err)
		}

		buf := make([]byte, want)
		byBlock := make(map[uint64][]byte, len(kvs))
		for _, kv := range kvs {
			k, err := keycodec.Decode(kv.Key)
			if err != nil {
				return tierr.Malformed(op, err)
			}
			byBlock[k.Block] = e.codec.DecodeBlock(kv.Value)
		}

		for i := iStart; i <= iEnd; i++ {
			blockStart := i * blksize
			data, present := byBlock[i]

			copyStart := uint64(0)
			if blockStart < offset {
				copyStart = offset - blockStart
			}
			blockLen := blksize
			if present {
				blockLen = uint64(len(data))
			}
			copyEnd := blksize
			if blockStart+blockLen < end {
				copyEnd = blockLen
			} else {
				copyEnd = end - blockStart
			}
			if copyEnd > blockLen {
				copyEnd = blockLen
			}

			destOff := blockStart + copyStart - offset
			if copyStart >= copyEnd {
				continue
			}

			if present {
				if copyEnd <= uint64(len(data)) {
					copy(buf[destOff:], data[copyStart:copyEnd])
				} else if copyStart < uint64(len(data)) {
					copy(buf[destOff:], data[copyStart:])
				}
				// else: the recorded block is shorter than expected;
				// the remainder of buf stays zero, matching a hole.
			}
			// absent: buf already zero-initialized.
		}

		out = buf

		if e.updateAtimeOnRead {
			v.Touch(record.TouchAtime, e.now())
			if err := e.putInode(ctx, txn, op, ino, v); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// Write implements spec.md §4.5.g: read-modify-write the boundary
// blocks, overwrite interior blocks wholesale, grow size/blocks, and
// commit the whole span atomically.
func (e *Engine) Write(ctx context.Context, ino uint64, offset uint64, data []byte) (uint32, error) {
	const op = "write"

	if len(data) == 0 {
		return 0, nil
	}

	err := e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		v, err := e.loadInode(ctx, txn, op, ino, true)
		if err != nil {
			return err
		}

		blksize := uint64(v.Attr.Blksize)
		if blksize == 0 {
			blksize = uint64(e.blksize)
		}

		end := offset + uint64(len(data))
		iStart := offset / blksize
		iEnd := (end - 1) / blksize

		for i := iStart; i <= iEnd; i++ {
			blockStart := i * blksize
			blockEndExclusive := blockStart + blksize

			writeLo := offset
			if blockStart > writeLo {
				writeLo = blockStart
			}
			writeHi := end
			if blockEndExclusive < writeHi {
				writeHi = blockEndExclusive
			}

			fullyCovered := writeLo == blockStart && writeHi == blockEndExclusive
			var block []byte

			if fullyCovered {
				block = make([]byte, blksize)
			} else {
				key := keycodec.Encode(keycodec.BlockKey(ino, i))
				raw, getErr := txn.Get(ctx, key)
				switch {
				case getErr == nil:
					existing := e.codec.DecodeBlock(raw)
					block = make([]byte, blksize)
					copy(block, existing)
				case getErr == kvtxn.ErrNotFound:
					block = make([]byte, blksize)
				default:
					return tierr.Transport(op, getErr)
				}
			}

			copy(block[writeLo-blockStart:writeHi-blockStart], data[writeLo-offset:writeHi-offset])

			// Trim the physical value to the logical tail length when
			// this is the file's last block, so short blocks at EOF
			// don't carry trailing garbage/zero padding in the store.
			fileEnd := end
			if v.Attr.Size > fileEnd {
				fileEnd = v.Attr.Size
			}
			if blockEndExclusive > fileEnd && i == iEnd {
				logicalLen := fileEnd - blockStart
				if logicalLen < uint64(len(block)) {
					block = block[:logicalLen]
				}
			}

			key := keycodec.Encode(keycodec.BlockKey(ino, i))
			if err := txn.Put(ctx, key, e.codec.EncodeBlock(block)); err != nil {
				return tierr.Transport(op, err)
			}
		}

		if end > v.Attr.Size {
			oldBlocks := v.Attr.Blocks
			v.Attr.SetSize(end, v.Attr.Blksize)
			if err := e.adjustBlocksInUse(ctx, txn, op, int64(v.Attr.Blocks)-int64(oldBlocks)); err != nil {
				return err
			}
		}
		v.Touch(record.TouchMtime|record.TouchCtime, e.now())

		return e.putInode(ctx, txn, op, ino, v)
	})
	if err != nil {
		return 0, err
	}
	return uint32(len(data)), nil
}

// FallocateMode selects fallocate's behavior (spec.md §4.5.g).
type FallocateMode uint8

const (
	FallocateExtend FallocateMode = iota
	FallocateKeepSize
	FallocatePunchHole
)

// Fallocate implements spec.md §4.5.g: KEEP_SIZE leaves size alone,
// extend grows size logically (no blocks written — the range stays
// sparse), and PUNCH_HOLE deletes covered block keys and zero-trims
// boundary blocks.
func (e *Engine) Fallocate(ctx context.Context, ino uint64, offset, length uint64, mode FallocateMode) error {
	const op = "fallocate"

	return e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		v, err := e.loadInode(ctx, txn, op, ino, true)
		if err != nil {
			return err
		}

		switch mode {
		case FallocateExtend:
			end := offset + length
			if end > v.Attr.Size {
				oldBlocks := v.Attr.Blocks
				v.Attr.SetSize(end, v.Attr.Blksize)
				if err := e.adjustBlocksInUse(ctx, txn, op, int64(v.Attr.Blocks)-int64(oldBlocks)); err != nil {
					return err
				}
			}
		case FallocateKeepSize:
			// no size change; callers needing allocated blocks can
			// still rely on sparse-read semantics.
		case FallocatePunchHole:
			if err := e.punchHole(ctx, txn, op, ino, &v, offset, length); err != nil {
				return err
			}
		}

		v.Touch(record.TouchMtime|record.TouchCtime, e.now())
		return e.putInode(ctx, txn, op, ino, v)
	})
}

func (e *Engine) punchHole(ctx context.Context, txn kvtxn.Txn, op string, ino uint64, v *record.Inode, offset, length uint64) error {
	blksize := uint64(v.Attr.Blksize)
	if blksize == 0 {
		blksize = uint64(e.blksize)
	}
	if length == 0 {
		return nil
	}

	end := offset + length
	if end > v.Attr.Size {
		end = v.Attr.Size
	}
	if offset >= end {
		return nil
	}

	iStart := offset / blksize
	iEnd := (end - 1) / blksize

	for i := iStart; i <= iEnd; i++ {
		blockStart := i * blksize
		blockEndExclusive := blockStart + blksize
		key := keycodec.Encode(keycodec.BlockKey(ino, i))

		if offset <= blockStart && end >= blockEndExclusive {
			if err := txn.Delete(ctx, key); err != nil {
				return tierr.Transport(op, err)
			}
			continue
		}

		raw, getErr := txn.Get(ctx, key)
		if getErr == kvtxn.ErrNotFound {
			continue
		}
		if getErr != nil {
			return tierr.Transport(op, getErr)
		}
		block := append([]byte(nil), e.codec.DecodeBlock(raw)...)

		zeroLo := uint64(0)
		if offset > blockStart {
			zeroLo = offset - blockStart
		}
		zeroHi := uint64(len(block))
		if end < blockEndExclusive && end-blockStart < zeroHi {
			zeroHi = end - blockStart
		}
		for j := zeroLo; j < zeroHi && j < uint64(len(block)); j++ {
			block[j] = 0
		}

		if err := txn.Put(ctx, key, e.codec.EncodeBlock(block)); err != nil {
			return tierr.Transport(op, err)
		}
	}
	return nil
}
