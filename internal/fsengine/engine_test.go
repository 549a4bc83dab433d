package fsengine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tifs-fs/tifs/internal/fsengine"
	"github.com/tifs-fs/tifs/internal/kvtxn"
	"github.com/tifs-fs/tifs/internal/kvtxn/kvtest"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/tierr"
)

func newTestEngine(t *testing.T) *fsengine.Engine {
	t.Helper()
	client := kvtest.NewClient()
	e := fsengine.New(client, record.NewProductionCodec(), nil, fsengine.Options{Blksize: 65536})
	require.NoError(t, e.EnsureFormatted(context.Background()))
	return e
}

func errKind(t *testing.T, err error) tierr.Kind {
	t.Helper()
	e, ok := tierr.As(err)
	require.True(t, ok, "expected a *tierr.Error, got %v", err)
	return e.Kind
}

// Scenario 1: create & read back.
func TestCreateAndReadBack(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	dir, err := e.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "a", Perm: 0755})
	require.NoError(t, err)

	created, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: dir.Ino, Name: "f", Perm: 0644}, 0)
	require.NoError(t, err)

	n, err := e.Write(ctx, created.Ino, 0, []byte("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	got, err := e.Read(ctx, created.Ino, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	attr, err := e.Getattr(ctx, created.Ino)
	require.NoError(t, err)
	assert.EqualValues(t, 5, attr.Size)
	assert.EqualValues(t, 1, attr.Blocks)
}

// Scenario 2: sparse write.
func TestSparseWrite(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	created, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "f", Perm: 0644}, 0)
	require.NoError(t, err)

	_, err = e.Write(ctx, created.Ino, 1_000_000, []byte("X"))
	require.NoError(t, err)

	attr, err := e.Getattr(ctx, created.Ino)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_001, attr.Size)
	assert.EqualValues(t, 16, attr.Blocks)

	got, err := e.Read(ctx, created.Ino, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 10), got)
}

// Scenario 3: rename over existing.
func TestRenameOverExisting(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	x, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "x", Perm: 0644}, 0)
	require.NoError(t, err)
	y, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "y", Perm: 0644}, 0)
	require.NoError(t, err)
	require.NoError(t, e.Release(ctx, y.Ino, y.Fh))

	require.NoError(t, e.Rename(ctx, record.RootIno, "x", record.RootIno, "y", 0))

	_, err = e.Lookup(ctx, record.RootIno, "x")
	require.Error(t, err)
	assert.Equal(t, tierr.KindNotFound, errKind(t, err))

	found, err := e.Lookup(ctx, record.RootIno, "y")
	require.NoError(t, err)
	assert.EqualValues(t, x.Ino, found.Attr.Ino)

	_, err = e.Getattr(ctx, y.Ino)
	require.Error(t, err, "the replaced inode should have been deleted (no open handles)")
	assert.Equal(t, tierr.KindNotFound, errKind(t, err))
}

// Scenario 4: concurrent create race.
func TestConcurrentCreateRace(t *testing.T) {
	store := kvtest.NewStore()
	ctx := context.Background()

	mk := func() *fsengine.Engine {
		return fsengine.New(kvtest.NewClientWithStore(store), record.NewProductionCodec(), nil, fsengine.Options{Blksize: 65536})
	}
	e0 := mk()
	require.NoError(t, e0.EnsureFormatted(ctx))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := mk()
			_, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "n", Perm: 0644}, 0)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errKind(t, err) == tierr.KindExists:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)
}

// Scenario 5: unlink while open.
func TestUnlinkWhileOpen(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	created, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "f", Perm: 0644}, 0)
	require.NoError(t, err)
	fh := created.Fh

	_, err = e.Write(ctx, created.Ino, 0, []byte("data"))
	require.NoError(t, err)

	require.NoError(t, e.Unlink(ctx, record.RootIno, "f"))

	_, err = e.Lookup(ctx, record.RootIno, "f")
	require.Error(t, err)
	assert.Equal(t, tierr.KindNotFound, errKind(t, err))

	got, err := e.Read(ctx, created.Ino, 0, 4)
	require.NoError(t, err, "inode content must remain readable via the still-open handle")
	assert.Equal(t, "data", string(got))

	require.NoError(t, e.Release(ctx, created.Ino, fh))

	_, err = e.Getattr(ctx, created.Ino)
	require.Error(t, err, "release of the last handle on an unlinked inode must delete it")
	assert.Equal(t, tierr.KindNotFound, errKind(t, err))
}

// Scenario 6: directory non-empty.
func TestDirectoryNonEmpty(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	dir, err := e.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "a", Perm: 0755})
	require.NoError(t, err)

	_, err = e.Create(ctx, fsengine.NewEntryRequest{Parent: dir.Ino, Name: "x", Perm: 0644}, 0)
	require.NoError(t, err)

	err = e.Rmdir(ctx, record.RootIno, "a")
	require.Error(t, err)
	assert.Equal(t, tierr.KindNotEmpty, errKind(t, err))

	require.NoError(t, e.Unlink(ctx, dir.Ino, "x"))
	require.NoError(t, e.Rmdir(ctx, record.RootIno, "a"))
}

func TestLookupNameTooLong(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	_, err := e.Lookup(ctx, record.RootIno, string(long))
	require.Error(t, err)
	assert.Equal(t, tierr.KindNameInvalid, errKind(t, err))
}

func TestMkdirRejectsDotNames(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: ".", Perm: 0755})
	require.Error(t, err)
	assert.Equal(t, tierr.KindNameInvalid, errKind(t, err))

	_, err = e.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "..", Perm: 0755})
	require.Error(t, err)
	assert.Equal(t, tierr.KindNameInvalid, errKind(t, err))
}

func TestReaddirSynthesizesDotEntries(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	dir, err := e.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "a", Perm: 0755})
	require.NoError(t, err)
	_, err = e.Create(ctx, fsengine.NewEntryRequest{Parent: dir.Ino, Name: "x", Perm: 0644}, 0)
	require.NoError(t, err)

	entries, err := e.Readdir(ctx, dir.Ino, record.RootIno, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ".", entries[0].Name)
	assert.Equal(t, dir.Ino, entries[0].Ino)
	assert.Equal(t, "..", entries[1].Name)
	assert.Equal(t, record.RootIno, entries[1].Ino)
	assert.Equal(t, "x", entries[2].Name)
}

func TestLinkRejectsDirectories(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	dir, err := e.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "a", Perm: 0755})
	require.NoError(t, err)

	_, err = e.Link(ctx, dir.Ino, record.RootIno, "b")
	require.Error(t, err)
	assert.Equal(t, tierr.KindPermission, errKind(t, err))
}

func TestLockTransitionSurfacesLockHeld(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	created, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "f", Perm: 0644}, 0)
	require.NoError(t, err)

	require.NoError(t, e.Setlk(ctx, created.Ino, 1, record.LockOpExclusive))

	err = e.Setlk(ctx, created.Ino, 2, record.LockOpExclusive)
	require.Error(t, err)
	assert.Equal(t, tierr.KindLockHeld, errKind(t, err))
	assert.True(t, errors.Is(err, err), "sanity: error is non-nil and comparable")
}

func TestSetattrTruncateDeletesTrailingBlocks(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	created, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "f", Perm: 0644}, 0)
	require.NoError(t, err)

	big := make([]byte, 200000)
	for i := range big {
		big[i] = byte(i)
	}
	_, err = e.Write(ctx, created.Ino, 0, big)
	require.NoError(t, err)

	newSize := uint64(70000)
	attr, err := e.Setattr(ctx, created.Ino, fsengine.AttrChanges{Size: &newSize})
	require.NoError(t, err)
	assert.EqualValues(t, 70000, attr.Size)
	assert.EqualValues(t, 2, attr.Blocks)

	got, err := e.Read(ctx, created.Ino, 69990, 10)
	require.NoError(t, err)
	assert.Len(t, got, 10)

	zero := uint64(0)
	attr, err = e.Setattr(ctx, created.Ino, fsengine.AttrChanges{Size: &zero})
	require.NoError(t, err)
	assert.EqualValues(t, 0, attr.Size)
	assert.EqualValues(t, 0, attr.Blocks)
}

func TestRenameNoReplaceFailsWhenDestinationExists(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "x", Perm: 0644}, 0)
	require.NoError(t, err)
	_, err = e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "y", Perm: 0644}, 0)
	require.NoError(t, err)

	err = e.Rename(ctx, record.RootIno, "x", record.RootIno, "y", fsengine.RenameNoReplace)
	require.Error(t, err)
	assert.Equal(t, tierr.KindExists, errKind(t, err))
}

func TestRenameExchangeSwapsEntries(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	x, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "x", Perm: 0644}, 0)
	require.NoError(t, err)
	y, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "y", Perm: 0644}, 0)
	require.NoError(t, err)

	require.NoError(t, e.Rename(ctx, record.RootIno, "x", record.RootIno, "y", fsengine.RenameExchange))

	lx, err := e.Lookup(ctx, record.RootIno, "x")
	require.NoError(t, err)
	assert.EqualValues(t, y.Ino, lx.Attr.Ino)

	ly, err := e.Lookup(ctx, record.RootIno, "y")
	require.NoError(t, err)
	assert.EqualValues(t, x.Ino, ly.Attr.Ino)
}

var _ = kvtxn.ErrConflict

// Rmdir must fully unwind the Nlink=2 a freshly created directory
// carries (its parent Index entry plus its own synthesized "."),
// otherwise the inode is orphaned at Nlink=1 and never reclaimed.
func TestRmdirDeletesDirectoryInode(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	dir, err := e.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "d", Perm: 0755})
	require.NoError(t, err)

	require.NoError(t, e.Rmdir(ctx, record.RootIno, "d"))

	_, err = e.Getattr(ctx, dir.Ino)
	require.Error(t, err, "rmdir should have fully reclaimed the directory inode")
	assert.Equal(t, tierr.KindNotFound, errKind(t, err))
}

// A cross-parent rename must move the entry's slot from the old
// parent's Size to the new parent's, keeping "Size == entry count".
func TestRenameCrossParentAdjustsParentSizes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "a", Perm: 0755})
	require.NoError(t, err)
	b, err := e.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "b", Perm: 0755})
	require.NoError(t, err)

	_, err = e.Create(ctx, fsengine.NewEntryRequest{Parent: a.Ino, Name: "f", Perm: 0644}, 0)
	require.NoError(t, err)

	aBefore, err := e.Getattr(ctx, a.Ino)
	require.NoError(t, err)
	bBefore, err := e.Getattr(ctx, b.Ino)
	require.NoError(t, err)

	require.NoError(t, e.Rename(ctx, a.Ino, "f", b.Ino, "f", 0))

	aAfter, err := e.Getattr(ctx, a.Ino)
	require.NoError(t, err)
	bAfter, err := e.Getattr(ctx, b.Ino)
	require.NoError(t, err)

	assert.EqualValues(t, aBefore.Size-1, aAfter.Size, "old parent should lose one entry")
	assert.EqualValues(t, bBefore.Size+1, bAfter.Size, "new parent should gain one entry")

	_, err = e.Lookup(ctx, a.Ino, "f")
	require.Error(t, err)
	found, err := e.Lookup(ctx, b.Ino, "f")
	require.NoError(t, err)
	assert.EqualValues(t, found.Attr.Kind, record.KindRegular)
}

// A cross-parent rename that replaces an existing destination entry
// consumes no new slot at the destination (the key is overwritten in
// place), so the destination parent's Size must stay unchanged.
func TestRenameCrossParentReplaceKeepsDestinationSize(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "a", Perm: 0755})
	require.NoError(t, err)
	b, err := e.Mkdir(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "b", Perm: 0755})
	require.NoError(t, err)

	_, err = e.Create(ctx, fsengine.NewEntryRequest{Parent: a.Ino, Name: "f", Perm: 0644}, 0)
	require.NoError(t, err)
	_, err = e.Create(ctx, fsengine.NewEntryRequest{Parent: b.Ino, Name: "f", Perm: 0644}, 0)
	require.NoError(t, err)

	bBefore, err := e.Getattr(ctx, b.Ino)
	require.NoError(t, err)

	require.NoError(t, e.Rename(ctx, a.Ino, "f", b.Ino, "f", 0))

	bAfter, err := e.Getattr(ctx, b.Ino)
	require.NoError(t, err)
	assert.EqualValues(t, bBefore.Size, bAfter.Size, "replacing an existing entry should not grow the destination's entry count")
}

// Statfs's block-usage figures must track real content, not just the
// number of inodes allocated.
func TestStatfsReflectsBlocksInUse(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	before, err := e.Statfs(ctx)
	require.NoError(t, err)

	created, err := e.Create(ctx, fsengine.NewEntryRequest{Parent: record.RootIno, Name: "f", Perm: 0644}, 0)
	require.NoError(t, err)
	_, err = e.Write(ctx, created.Ino, 0, make([]byte, 150000))
	require.NoError(t, err)

	afterWrite, err := e.Statfs(ctx)
	require.NoError(t, err)
	assert.Greater(t, before.Bfree, afterWrite.Bfree, "writing content should consume reported free blocks")

	require.NoError(t, e.Release(ctx, created.Ino, created.Fh))
	require.NoError(t, e.Unlink(ctx, record.RootIno, "f"))

	afterUnlink, err := e.Statfs(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Bfree, afterUnlink.Bfree, "deleting the file should credit its blocks back")
}
