package fsengine

import (
	"context"

	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/tierr"
)

// Getlk returns ino's current whole-file lock state without mutating
// it (spec.md §4.5.i). requester and want are not consulted here;
// internal/mount's conflictingType derives the blocking lock type from
// the returned state.
func (e *Engine) Getlk(ctx context.Context, ino, requester uint64, want record.LockKind) (record.LockState, error) {
	const op = "getlk"

	var out record.LockState
	err := e.withTxn(ctx, kvtxn.Optimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		v, err := e.loadInode(ctx, txn, op, ino, false)
		if err != nil {
			return err
		}
		out = v.Lock
		return nil
	})
	return out, err
}

// Setlk applies the whole-file advisory lock transition table of
// spec.md §4.5.i. A failed transition returns tierr.LockHeld (EAGAIN);
// blocking retry (setlkw) is the Mount Surface's responsibility.
func (e *Engine) Setlk(ctx context.Context, ino, requester uint64, op record.LockOp) error {
	const opName = "setlk"

	return e.withTxn(ctx, kvtxn.Pessimistic, func(ctx context.Context, txn kvtxn.Txn) error {
		v, err := e.loadInode(ctx, txn, opName, ino, true)
		if err != nil {
			return err
		}

		if err := v.Lock.Transition(requester, op); err != nil {
			return tierr.LockHeld(opName, err)
		}

		return e.putInode(ctx, txn, opName, ino, v)
	})
}
