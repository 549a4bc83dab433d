// Package kvtxn is the transaction façade between the filesystem
// engine and the ordered, transactional KV service backing it. It
// defines the narrow Transaction/Client interfaces the rest of this
// module programs against, a retrying WithTransaction wrapper, and a
// concrete adapter onto github.com/tikv/client-go/v2 (tikv.go). Tests
// exercise the same interfaces against an in-memory fake in kvtest/.
package kvtxn

import (
	"context"
	"errors"
)

// KeyValue is a single scan result pair.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// ErrNotFound is returned by Get/GetForUpdate when the key does not
// exist. It is never wrapped in a transaction-abort error: a missing
// key is a normal, expected outcome the FS engine branches on.
var ErrNotFound = errors.New("kvtxn: key not found")

// ErrConflict indicates the transaction lost a write-write race (or, in
// optimistic mode, failed validation at commit) and should be retried
// from scratch by the caller of WithTransaction.
var ErrConflict = errors.New("kvtxn: transaction conflict")

// ErrAborted indicates the underlying KV service abandoned the
// transaction for a reason other than a write conflict (lock TTL
// expiry, region split mid-transaction, context cancellation surfaced
// by the store). Unlike ErrConflict this is NOT retried by
// WithTransaction: spec.md §4.4 treats Aborted as fatal for the
// operation, surfaced to the caller unchanged (typically as EIO).
var ErrAborted = errors.New("kvtxn: transaction aborted")

// Txn is one logical, serializable unit of work against the keyspace.
// All reads within a Txn observe a single consistent snapshot; all
// writes are buffered and become visible to other transactions only at
// Commit.
type Txn interface {
	// Get returns ErrNotFound if the key is absent. It reads the
	// transaction's snapshot and does not take a lock.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// GetForUpdate reads the current value like Get, but additionally
	// marks the key so a concurrent transaction writing it before this
	// one commits causes one of the two to fail with ErrConflict. This
	// is the primitive spec.md §4.4 calls "get-for-update": every
	// inode allocation, nlink mutation, and directory-entry
	// insertion/removal in the FS engine uses this instead of Get.
	GetForUpdate(ctx context.Context, key []byte) ([]byte, error)

	// Scan returns key/value pairs with start <= key < end, in
	// ascending byte order, the order the KV service's comparator
	// defines and internal/keycodec's encoding relies on. limit <= 0
	// means unbounded.
	Scan(ctx context.Context, start, end []byte, limit int) ([]KeyValue, error)

	// Put buffers a write; it is not visible to Get/Scan within this
	// same Txn in other implementations in general, but this
	// façade's implementations read their own writes, which the FS
	// engine's single-pass operation bodies rely on.
	Put(ctx context.Context, key, value []byte) error

	// Delete buffers a deletion.
	Delete(ctx context.Context, key []byte) error

	// Commit attempts to make all buffered writes visible atomically.
	// On failure the transaction is implicitly rolled back; callers
	// must not reuse a Txn after Commit returns, success or failure.
	Commit(ctx context.Context) error

	// Rollback discards all buffered writes and releases any locks
	// taken by GetForUpdate. Safe to call after a failed Commit; a
	// no-op if the transaction already committed.
	Rollback(ctx context.Context) error
}

// Mode selects the concurrency-control strategy a Client uses to begin
// a transaction. TiFS defaults to Pessimistic (spec.md §4.4's
// get-for-update semantics map directly onto pessimistic row locks);
// Optimistic is exposed for callers — notably read-mostly operations
// like lookup/getattr/readdir — that never call GetForUpdate and so
// gain nothing from pessimistic locking overhead.
type Mode uint8

const (
	Pessimistic Mode = iota
	Optimistic
)

// Client opens transactions against the backing KV service.
type Client interface {
	Begin(ctx context.Context, mode Mode) (Txn, error)

	// Close releases any resources (connections, background workers)
	// held by the client. Safe to call once during shutdown.
	Close() error
}
