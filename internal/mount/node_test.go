package mount_test

import (
	"context"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tifs-fs/tifs/internal/fsengine"
	"github.com/tifs-fs/tifs/internal/kvtxn/kvtest"
	"github.com/tifs-fs/tifs/internal/mount"
	"github.com/tifs-fs/tifs/internal/record"
)

func newTestFS(t *testing.T) *mount.FS {
	t.Helper()
	client := kvtest.NewClient()
	engine := fsengine.New(client, record.NewProductionCodec(), nil, fsengine.Options{Blksize: 65536})
	require.NoError(t, engine.EnsureFormatted(context.Background()))
	return mount.New(engine, mount.DefaultOptions())
}

// Node and fileHandle carry no go-fuse-library state of their own
// beyond (engine, ino), so these tests exercise them through the
// package's exported constructors directly rather than mounting a
// real kernel FUSE connection.
func TestRootNodeAddressesRootInode(t *testing.T) {
	f := newTestFS(t)
	root := f.Root()
	require.NotNil(t, root)

	var out fuse.AttrOut
	require.Zero(t, root.Getattr(context.Background(), nil, &out))
	assert.EqualValues(t, record.RootIno, out.Attr.Ino)
}

func TestParseOptionStringRoundTrip(t *testing.T) {
	opts, err := mount.ParseOptionString("blksize=128,direct_io,maxsize=10G,strictatime,allow_other")
	require.NoError(t, err)
	assert.EqualValues(t, 128*1024, opts.Blksize)
	assert.True(t, opts.DirectIO)
	assert.EqualValues(t, 10_000_000_000, opts.MaxSize)
	assert.True(t, opts.StrictAtime)
	assert.True(t, opts.AllowOther)
}

func TestParseOptionStringRejectsUnknownKey(t *testing.T) {
	_, err := mount.ParseOptionString("bogus=1")
	assert.Error(t, err)
}

func TestParseOptionStringRejectsNonPowerOfTwoBlksize(t *testing.T) {
	_, err := mount.ParseOptionString("blksize=100")
	assert.Error(t, err)
}

func TestParseByteSizeBinarySuffix(t *testing.T) {
	n, err := mount.ParseByteSize("4Ki")
	require.NoError(t, err)
	assert.EqualValues(t, 4096, n)
}

func TestDefaultOptionsBlksize(t *testing.T) {
	assert.EqualValues(t, mount.DefaultBlksizeKiB*1024, mount.DefaultOptions().Blksize)
}
