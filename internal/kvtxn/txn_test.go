package kvtxn_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/kvtxn/kvtest"
)

func fastPolicy() kvtxn.RetryPolicy {
	p := kvtxn.DefaultRetryPolicy()
	p.Backoff.Min = time.Microsecond
	p.Backoff.Max = time.Microsecond
	return p
}

func TestWithTransactionCommitsOnSuccess(t *testing.T) {
	client := kvtest.NewClient()
	ctx := context.Background()

	err := kvtxn.WithTransaction(ctx, client, kvtxn.Pessimistic, fastPolicy(), func(ctx context.Context, txn kvtxn.Txn) error {
		return txn.Put(ctx, []byte("k"), []byte("v"))
	})
	require.NoError(t, err)

	err = kvtxn.WithTransaction(ctx, client, kvtxn.Optimistic, fastPolicy(), func(ctx context.Context, txn kvtxn.Txn) error {
		v, err := txn.Get(ctx, []byte("k"))
		assert.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTransactionGetNotFound(t *testing.T) {
	client := kvtest.NewClient()
	ctx := context.Background()

	err := kvtxn.WithTransaction(ctx, client, kvtxn.Optimistic, fastPolicy(), func(ctx context.Context, txn kvtxn.Txn) error {
		_, err := txn.Get(ctx, []byte("missing"))
		assert.ErrorIs(t, err, kvtxn.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTransactionRetriesConflict(t *testing.T) {
	client := kvtest.NewClient()
	ctx := context.Background()

	attempts := 0
	err := kvtxn.WithTransaction(ctx, client, kvtxn.Pessimistic, fastPolicy(), func(ctx context.Context, txn kvtxn.Txn) error {
		attempts++
		if attempts < 3 {
			return kvtxn.ErrConflict
		}
		return txn.Put(ctx, []byte("k"), []byte("v"))
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithTransactionExhaustsRetries(t *testing.T) {
	client := kvtest.NewClient()
	ctx := context.Background()

	policy := fastPolicy()
	policy.MaxAttempts = 3

	attempts := 0
	err := kvtxn.WithTransaction(ctx, client, kvtxn.Pessimistic, policy, func(ctx context.Context, txn kvtxn.Txn) error {
		attempts++
		return kvtxn.ErrConflict
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, kvtxn.ErrConflict)
	assert.Equal(t, 3, attempts)
}

func TestWithTransactionDoesNotRetryAborted(t *testing.T) {
	client := kvtest.NewClient()
	ctx := context.Background()

	attempts := 0
	err := kvtxn.WithTransaction(ctx, client, kvtxn.Pessimistic, fastPolicy(), func(ctx context.Context, txn kvtxn.Txn) error {
		attempts++
		return kvtxn.ErrAborted
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, kvtxn.ErrAborted))
	assert.Equal(t, 1, attempts)
}

func TestGetForUpdateSerializesConcurrentWriters(t *testing.T) {
	store := kvtest.NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client := kvtest.NewClientWithStore(store)
			results[i] = kvtxn.WithTransaction(ctx, client, kvtxn.Pessimistic, kvtxn.RetryPolicy{MaxAttempts: 1}, func(ctx context.Context, txn kvtxn.Txn) error {
				_, err := txn.GetForUpdate(ctx, []byte("counter"))
				if err != nil && !errors.Is(err, kvtxn.ErrNotFound) {
					return err
				}
				return txn.Put(ctx, []byte("counter"), []byte{byte(i)})
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one of two racing get-for-update writers should win without retry budget")
}

func TestScanOrderingMatchesByteOrder(t *testing.T) {
	client := kvtest.NewClient()
	ctx := context.Background()

	err := kvtxn.WithTransaction(ctx, client, kvtxn.Optimistic, fastPolicy(), func(ctx context.Context, txn kvtxn.Txn) error {
		for _, k := range []string{"b", "a", "c"} {
			if err := txn.Put(ctx, []byte(k), []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = kvtxn.WithTransaction(ctx, client, kvtxn.Optimistic, fastPolicy(), func(ctx context.Context, txn kvtxn.Txn) error {
		kvs, err := txn.Scan(ctx, []byte("a"), []byte("z"), 0)
		require.NoError(t, err)
		require.Len(t, kvs, 3)
		assert.Equal(t, "a", string(kvs[0].Key))
		assert.Equal(t, "b", string(kvs[1].Key))
		assert.Equal(t, "c", string(kvs[2].Key))
		return nil
	})
	require.NoError(t, err)
}
