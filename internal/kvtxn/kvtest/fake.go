// Package kvtest provides an in-memory fake of kvtxn.Client for unit
// tests that exercise internal/fsengine's transaction bodies without a
// live TiKV cluster. It implements the same snapshot-isolation and
// get-for-update locking semantics the façade requires, just against a
// process-local map instead of a distributed store.
package kvtest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tifs-fs/tifs/internal/kvtxn"
)

// Store is an in-memory, mutex-guarded keyspace. Client.Begin snapshots
// it at transaction start; Commit applies the transaction's buffered
// writes atomically and fails with kvtxn.ErrConflict if any key the
// transaction read via GetForUpdate (or wrote) was modified by another
// transaction that committed first.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
	rev  uint64
	rw   map[string]uint64 // key -> revision of its last write
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte), rw: make(map[string]uint64)}
}

// Client is a kvtxn.Client backed by a single Store.
type Client struct {
	store *Store
}

// NewClient returns a Client over a fresh, empty Store.
func NewClient() *Client { return &Client{store: NewStore()} }

// NewClientWithStore returns a Client sharing an existing Store, so
// multiple Clients (simulating multiple mount processes) can race
// against the same keyspace in a test.
func NewClientWithStore(s *Store) *Client { return &Client{store: s} }

func (c *Client) Begin(ctx context.Context, mode kvtxn.Mode) (kvtxn.Txn, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	snapshot := make(map[string][]byte, len(c.store.data))
	for k, v := range c.store.data {
		snapshot[k] = append([]byte(nil), v...)
	}

	return &txn{
		store:       c.store,
		mode:        mode,
		startRev:    c.store.rev,
		snapshot:    snapshot,
		reads:       make(map[string]struct{}),
		forUpdate:   make(map[string]struct{}),
		writes:      make(map[string][]byte),
		deletes:     make(map[string]struct{}),
		writeOrder:  nil,
	}, nil
}

func (c *Client) Close() error { return nil }

type txn struct {
	store    *Store
	mode     kvtxn.Mode
	startRev uint64
	snapshot map[string][]byte

	reads     map[string]struct{}
	forUpdate map[string]struct{}

	writes     map[string][]byte
	deletes    map[string]struct{}
	writeOrder []string

	done bool
}

func (t *txn) Get(ctx context.Context, key []byte) ([]byte, error) {
	k := string(key)
	t.reads[k] = struct{}{}

	if v, ok := t.writes[k]; ok {
		return v, nil
	}
	if _, deleted := t.deletes[k]; deleted {
		return nil, kvtxn.ErrNotFound
	}
	if v, ok := t.snapshot[k]; ok {
		return v, nil
	}
	return nil, kvtxn.ErrNotFound
}

func (t *txn) GetForUpdate(ctx context.Context, key []byte) ([]byte, error) {
	t.forUpdate[string(key)] = struct{}{}
	return t.Get(ctx, key)
}

func (t *txn) Scan(ctx context.Context, start, end []byte, limit int) ([]kvtxn.KeyValue, error) {
	merged := make(map[string][]byte, len(t.snapshot))
	for k, v := range t.snapshot {
		merged[k] = v
	}
	for k, v := range t.writes {
		merged[k] = v
	}
	for k := range t.deletes {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		if inRange(k, start, end) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out []kvtxn.KeyValue
	for _, k := range keys {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, kvtxn.KeyValue{Key: []byte(k), Value: append([]byte(nil), merged[k]...)})
	}
	return out, nil
}

func inRange(k string, start, end []byte) bool {
	if start != nil && bytes.Compare([]byte(k), start) < 0 {
		return false
	}
	if end != nil && bytes.Compare([]byte(k), end) >= 0 {
		return false
	}
	return true
}

func (t *txn) Put(ctx context.Context, key, value []byte) error {
	k := string(key)
	if _, exists := t.writes[k]; !exists {
		t.writeOrder = append(t.writeOrder, k)
	}
	t.writes[k] = append([]byte(nil), value...)
	delete(t.deletes, k)
	return nil
}

func (t *txn) Delete(ctx context.Context, key []byte) error {
	k := string(key)
	if _, exists := t.deletes[k]; !exists {
		t.writeOrder = append(t.writeOrder, k)
	}
	t.deletes[k] = struct{}{}
	delete(t.writes, k)
	return nil
}

func (t *txn) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("kvtest: commit called twice")
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for k := range t.forUpdate {
		if t.store.rw[k] > t.startRev {
			return kvtxn.ErrConflict
		}
	}
	for k := range t.writes {
		if t.store.rw[k] > t.startRev {
			return kvtxn.ErrConflict
		}
	}
	for k := range t.deletes {
		if t.store.rw[k] > t.startRev {
			return kvtxn.ErrConflict
		}
	}

	t.store.rev++
	for _, k := range t.writeOrder {
		if v, ok := t.writes[k]; ok {
			t.store.data[k] = v
		} else {
			delete(t.store.data, k)
		}
		t.store.rw[k] = t.store.rev
	}
	return nil
}

func (t *txn) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}
