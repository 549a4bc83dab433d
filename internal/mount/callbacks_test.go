package mount

import (
	"context"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tifs-fs/tifs/internal/fsengine"
	"github.com/tifs-fs/tifs/internal/kvtxn/kvtest"
	"github.com/tifs-fs/tifs/internal/record"
)

func newCallbackFS(t *testing.T) *FS {
	t.Helper()
	client := kvtest.NewClient()
	engine := fsengine.New(client, record.NewProductionCodec(), nil, fsengine.Options{Blksize: 65536})
	require.NoError(t, engine.EnsureFormatted(context.Background()))
	return New(engine, DefaultOptions())
}

// mkdir + lookup through the Node callbacks directly, bypassing the
// kernel FUSE connection go-fuse's fs.Mount would otherwise require.
func TestNodeMkdirThenLookup(t *testing.T) {
	f := newCallbackFS(t)
	root := f.Root()
	ctx := context.Background()

	var entryOut fuse.EntryOut
	child, errno := root.Mkdir(ctx, "sub", 0755, &entryOut)
	require.Zero(t, errno)
	require.NotNil(t, child)
	assert.EqualValues(t, record.KindDirectory, kindFromMode(entryOut.Attr.Mode))

	var lookupOut fuse.EntryOut
	found, errno := root.Lookup(ctx, "sub", &lookupOut)
	require.Zero(t, errno)
	assert.Equal(t, entryOut.Attr.Ino, lookupOut.Attr.Ino)
	assert.NotNil(t, found)
}

func TestNodeCreateWriteReadRoundTrip(t *testing.T) {
	f := newCallbackFS(t)
	root := f.Root()
	ctx := context.Background()

	var entryOut fuse.EntryOut
	_, fh, _, errno := root.Create(ctx, "file.txt", 0, 0644, &entryOut)
	require.Zero(t, errno)
	require.NotNil(t, fh)

	handle := fh.(*fileHandle)
	n, errno := handle.Write(ctx, []byte("hello"), 0)
	require.Zero(t, errno)
	assert.EqualValues(t, 5, n)

	buf := make([]byte, 5)
	res, errno := handle.Read(ctx, buf, 0)
	require.Zero(t, errno)
	data, status := res.Bytes(buf)
	require.Equal(t, fuse.OK, status)
	assert.Equal(t, "hello", string(data))

	require.Zero(t, handle.Release(ctx))
}

func TestNodeUnlinkRemovesEntry(t *testing.T) {
	f := newCallbackFS(t)
	root := f.Root()
	ctx := context.Background()

	var entryOut fuse.EntryOut
	_, errno := root.Mknod(ctx, "dev", 0644, 0, &entryOut)
	require.Zero(t, errno)

	require.Zero(t, root.Unlink(ctx, "dev"))

	var lookupOut fuse.EntryOut
	_, errno = root.Lookup(ctx, "dev", &lookupOut)
	assert.NotZero(t, errno)
}

func TestNodeSetlkExclusiveThenConflict(t *testing.T) {
	f := newCallbackFS(t)
	root := f.Root()
	ctx := context.Background()

	var entryOut fuse.EntryOut
	_, fh, _, errno := root.Create(ctx, "locked", 0, 0644, &entryOut)
	require.Zero(t, errno)
	handle := fh.(*fileHandle)

	lock := &fuse.FileLock{Typ: 1} // F_WRLCK
	require.Zero(t, handle.Setlk(ctx, 1, lock, 0))
	assert.NotZero(t, handle.Setlk(ctx, 2, lock, 0))
}
