package kvtxn

import (
	"context"
	"errors"
	"fmt"

	tikverr "github.com/tikv/client-go/v2/error"
	"github.com/tikv/client-go/v2/kv"
	"github.com/tikv/client-go/v2/tikv"
	"github.com/tikv/client-go/v2/txnkv"
)

// TiKVClient adapts github.com/tikv/client-go/v2's txnkv.Client onto
// the Client interface, the concrete "ordered, transactional KV
// service" collaborator spec.md §1/§6 treats as external. Its
// Transaction shape is grounded on the pingcap/tidb kv.Transaction
// ancestor interface (Getter/Retriever/Mutator, the Pessimistic
// transaction option, GetForUpdate via row-level locking) that
// client-go/v2 carries forward under txnkv/transaction.
type TiKVClient struct {
	raw *txnkv.Client
}

// NewTiKVClient dials the PD (placement driver) endpoints that front a
// TiKV cluster and returns a ready Client.
func NewTiKVClient(pdAddrs []string, opts ...tikv.ClientOpt) (*TiKVClient, error) {
	raw, err := txnkv.NewClient(pdAddrs, opts...)
	if err != nil {
		return nil, fmt.Errorf("kvtxn: dial tikv: %w", err)
	}
	return &TiKVClient{raw: raw}, nil
}

func (c *TiKVClient) Close() error {
	return c.raw.Close()
}

func (c *TiKVClient) Begin(ctx context.Context, mode Mode) (Txn, error) {
	raw, err := c.raw.Begin()
	if err != nil {
		return nil, fmt.Errorf("kvtxn: begin: %w", err)
	}
	if mode == Pessimistic {
		raw.SetPessimistic(true)
	}
	return &tikvTxn{raw: raw, ctx: ctx}, nil
}

// tikvTxn wraps a single *txnkv.KVTxn. ctx is the context Begin was
// called with; it is stored but unused, since every Txn method
// (including GetForUpdate's LockKeys call) uses its own ctx argument.
type tikvTxn struct {
	raw *txnkv.KVTxn
	ctx context.Context
}

func (t *tikvTxn) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, err := t.raw.Get(ctx, key)
	if err != nil {
		if tikverr.IsErrNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, classifyTiKVError(err)
	}
	return v, nil
}

func (t *tikvTxn) GetForUpdate(ctx context.Context, key []byte) ([]byte, error) {
	lockCtx := kv.NewLockCtx(t.raw.StartTS(), defaultLockTTLMillis, 0)
	if err := t.raw.LockKeys(ctx, lockCtx, key); err != nil {
		return nil, classifyTiKVError(err)
	}
	return t.Get(ctx, key)
}

func (t *tikvTxn) Scan(ctx context.Context, start, end []byte, limit int) ([]KeyValue, error) {
	iter, err := t.raw.Iter(start, end)
	if err != nil {
		return nil, classifyTiKVError(err)
	}
	defer iter.Close()

	var out []KeyValue
	for iter.Valid() {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, KeyValue{
			Key:   append([]byte(nil), iter.Key()...),
			Value: append([]byte(nil), iter.Value()...),
		})
		if err := iter.Next(); err != nil {
			return out, classifyTiKVError(err)
		}
	}
	return out, nil
}

func (t *tikvTxn) Put(ctx context.Context, key, value []byte) error {
	if err := t.raw.Set(key, value); err != nil {
		return classifyTiKVError(err)
	}
	return nil
}

func (t *tikvTxn) Delete(ctx context.Context, key []byte) error {
	if err := t.raw.Delete(key); err != nil {
		return classifyTiKVError(err)
	}
	return nil
}

func (t *tikvTxn) Commit(ctx context.Context) error {
	if err := t.raw.Commit(ctx); err != nil {
		return classifyTiKVError(err)
	}
	return nil
}

func (t *tikvTxn) Rollback(ctx context.Context) error {
	if err := t.raw.Rollback(); err != nil && !errors.Is(err, tikverr.ErrInvalidTxn) {
		return classifyTiKVError(err)
	}
	return nil
}

// defaultLockTTLMillis bounds how long a pessimistic lock taken by
// GetForUpdate survives before TiKV's lock resolver may roll it back
// on behalf of a blocked peer; long enough to cover one FS engine
// operation's worth of KV round trips, short enough that a crashed
// mount does not wedge a directory for long.
const defaultLockTTLMillis uint64 = 20000

// classifyTiKVError maps the TiKV client's error taxonomy onto the
// three outcomes the rest of this module understands: ErrConflict
// (retryable), ErrAborted (fatal for this attempt), or the error
// unchanged for anything WithTransaction should not try to interpret.
func classifyTiKVError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case tikverr.IsErrWriteConflict(err), tikverr.IsErrRetryable(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, tikverr.ErrTiKVServerTimeout), errors.Is(err, tikverr.ErrTiKVStaleCommand):
		return fmt.Errorf("%w: %v", ErrAborted, err)
	default:
		return err
	}
}
