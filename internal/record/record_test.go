package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileAttrSetSizeRecomputesBlocks(t *testing.T) {
	var a FileAttr
	a.SetSize(1_000_001, 65536)
	assert.EqualValues(t, 1_000_001, a.Size)
	assert.EqualValues(t, 16, a.Blocks)

	a.SetSize(0, 65536)
	assert.EqualValues(t, 0, a.Blocks)
}

func TestInodeTouchUpdatesOnlyRequestedFields(t *testing.T) {
	var ino Inode
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ino.Attr.Atime, ino.Attr.Mtime, ino.Attr.Ctime = base, base, base

	now := base.Add(time.Hour)
	ino.Touch(TouchMtime|TouchCtime, now)

	assert.Equal(t, base, ino.Attr.Atime)
	assert.Equal(t, now, ino.Attr.Mtime)
	assert.Equal(t, now, ino.Attr.Ctime)
}

func TestInodeDeletable(t *testing.T) {
	ino := Inode{Attr: FileAttr{Nlink: 1}, OpenedFh: 0}
	assert.False(t, ino.Deletable())

	ino.Attr.Nlink = 0
	assert.True(t, ino.Deletable())

	ino.OpenedFh = 1
	assert.False(t, ino.Deletable())
}

func TestLockStateTransitions(t *testing.T) {
	l := NewLockState()
	require.True(t, l.Valid())

	require.NoError(t, l.Transition(1, LockOpShared))
	assert.Equal(t, LockShared, l.Kind)
	assert.True(t, l.Valid())

	require.NoError(t, l.Transition(2, LockOpShared))
	assert.Len(t, l.Owners, 2)

	err := l.Transition(1, LockOpExclusive)
	assert.Error(t, err, "cannot upgrade to exclusive while another shared owner exists")

	require.NoError(t, l.Transition(2, LockOpUnlock))
	require.NoError(t, l.Transition(1, LockOpExclusive))
	assert.Equal(t, LockExclusive, l.Kind)

	err = l.Transition(2, LockOpShared)
	assert.Error(t, err, "other clients cannot acquire while exclusively locked")

	require.NoError(t, l.Transition(1, LockOpUnlock))
	assert.Equal(t, LockUnlocked, l.Kind)
	assert.Empty(t, l.Owners)
}

func TestLockStateExclusiveSelfDowngrade(t *testing.T) {
	l := NewLockState()
	require.NoError(t, l.Transition(1, LockOpExclusive))
	require.NoError(t, l.Transition(1, LockOpShared))
	assert.Equal(t, LockShared, l.Kind)
	assert.Contains(t, l.Owners, uint64(1))
}

func TestCodecRoundTrip(t *testing.T) {
	codec := NewProductionCodec()

	meta := FilesystemMeta{InodeNext: 42}
	rawMeta, err := codec.EncodeFilesystemMeta(meta)
	require.NoError(t, err)
	gotMeta, err := codec.DecodeFilesystemMeta(rawMeta)
	require.NoError(t, err)
	assert.Equal(t, meta, gotMeta)

	ino := Inode{
		Attr: FileAttr{
			Ino: 7, Size: 100, Blocks: 1, Kind: KindRegular, Perm: 0644,
			Nlink: 1, Uid: 1000, Gid: 1000, Blksize: 65536,
			Atime: time.Now().UTC().Truncate(time.Second),
		},
		Lock:     NewLockState(),
		NextFh:   3,
		OpenedFh: 1,
	}
	rawIno, err := codec.EncodeInode(ino)
	require.NoError(t, err)
	gotIno, err := codec.DecodeInode(rawIno)
	require.NoError(t, err)
	assert.Equal(t, ino.Attr.Ino, gotIno.Attr.Ino)
	assert.Equal(t, ino.Attr.Size, gotIno.Attr.Size)
	assert.Equal(t, ino.NextFh, gotIno.NextFh)

	entry := DirectoryIndexEntry{Ino: 9, Kind: KindDirectory}
	rawEntry, err := codec.EncodeDirectoryIndexEntry(entry)
	require.NoError(t, err)
	gotEntry, err := codec.DecodeDirectoryIndexEntry(rawEntry)
	require.NoError(t, err)
	assert.Equal(t, entry, gotEntry)

	fh := FileHandle{Cursor: 128, Flags: 2}
	rawFh, err := codec.EncodeFileHandle(fh)
	require.NoError(t, err)
	gotFh, err := codec.DecodeFileHandle(rawFh)
	require.NoError(t, err)
	assert.Equal(t, fh, gotFh)

	block := []byte("raw file bytes, unframed")
	assert.Equal(t, block, codec.DecodeBlock(codec.EncodeBlock(block)))
}

func TestCodecReportsMalformedValue(t *testing.T) {
	codec := NewProductionCodec()
	_, err := codec.DecodeInode([]byte("not a valid encoded record"))
	require.Error(t, err)
	var malformed *MalformedValueError
	require.ErrorAs(t, err, &malformed)
}
