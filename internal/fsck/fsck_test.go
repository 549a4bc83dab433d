package fsck_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tifs-fs/tifs/internal/fsck"
	"github.com/tifs-fs/tifs/internal/fsengine"
	"github.com/tifs-fs/tifs/internal/keycodec"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/kvtxn/kvtest"
	"github.com/tifs-fs/tifs/internal/record"
)

func TestCheckCleanFilesystemHasNoViolations(t *testing.T) {
	client := kvtest.NewClient()
	engine := fsengine.New(client, record.NewProductionCodec(), nil, fsengine.Options{Blksize: 65536})
	ctx := context.Background()
	require.NoError(t, engine.EnsureFormatted(ctx))

	_, err := engine.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "a", Perm: 0755})
	require.NoError(t, err)

	res, err := engine.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "f", Perm: 0644}, 0)
	require.NoError(t, err)
	_, err = engine.Write(ctx, res.Ino, 0, []byte("hello"))
	require.NoError(t, err)

	report, err := fsck.Check(ctx, client)
	require.NoError(t, err)
	assert.Empty(t, report.Violations, "%v", report.Violations)
	assert.GreaterOrEqual(t, report.InodesScanned, 3)
}

// Corrupting the store directly (deleting an inode while its Index
// entry survives) simulates a crash mid-unlink, the kind of
// inconsistency this offline checker exists to surface.
func TestCheckDetectsDanglingIndexEntry(t *testing.T) {
	client := kvtest.NewClient()
	engine := fsengine.New(client, record.NewProductionCodec(), nil, fsengine.Options{Blksize: 65536})
	ctx := context.Background()
	require.NoError(t, engine.EnsureFormatted(ctx))

	res, err := engine.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "f", Perm: 0644}, 0)
	require.NoError(t, err)

	txn, err := client.Begin(ctx, kvtxn.Pessimistic)
	require.NoError(t, err)
	require.NoError(t, txn.Delete(ctx, keycodec.Encode(keycodec.InodeKey(res.Ino))))
	require.NoError(t, txn.Commit(ctx))

	report, err := fsck.Check(ctx, client)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Violations)
}
