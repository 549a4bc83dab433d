// Package record defines the entity types stored as values in the
// keyspace internal/keycodec addresses, plus the pure helper
// computations the filesystem engine needs on them. Records carry no
// behavior beyond these helpers; transaction orchestration lives in
// internal/kvtxn and internal/fsengine.
package record

import "time"

// FileKind enumerates the POSIX file types TiFS tracks on an inode.
type FileKind uint8

const (
	KindRegular FileKind = iota
	KindDirectory
	KindSymlink
	KindFifo
	KindSocket
	KindBlockDev
	KindCharDev
)

// RootIno is the inode number of the filesystem root; inode numbering
// starts allocating fresh inodes at 2.
const RootIno uint64 = 1

// FirstFreeIno is the initial value of FilesystemMeta.InodeNext.
const FirstFreeIno uint64 = 2

// FilesystemMeta is the single, well-known record at the Meta key: the
// monotonic inode allocation counter and the running count of content
// blocks currently charged to some inode's Size. Both fields are only
// ever mutated under a get-for-update read within the mutating
// transaction.
type FilesystemMeta struct {
	InodeNext uint64

	// BlocksInUse is the sum of every live inode's FileAttr.Blocks,
	// kept current at every Size change (block.go Write/Fallocate,
	// Setattr truncate/extend) and at final inode deletion, so Statfs
	// can report real usage instead of approximating it.
	BlocksInUse uint64
}

// NewFilesystemMeta returns the meta record for a freshly formatted
// filesystem, with the root inode (1) already accounted for.
func NewFilesystemMeta() FilesystemMeta {
	return FilesystemMeta{InodeNext: FirstFreeIno}
}

// TouchKind selects which FileAttr timestamp fields Inode.Touch updates.
type TouchKind uint8

const (
	TouchAtime TouchKind = 1 << iota
	TouchMtime
	TouchCtime
)

// FileAttr is the POSIX metadata carried by every inode.
type FileAttr struct {
	Ino     uint64
	Size    uint64
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Crtime  time.Time
	Kind    FileKind
	Perm    uint16
	Nlink   uint32
	Uid     uint32
	Gid     uint32
	Rdev    uint32
	Blksize uint32
	Flags   uint32
}

// SetSize updates Size and recomputes Blocks as ceil(size/blksize),
// preserving invariant (i) of spec.md §3's Inode record.
func (a *FileAttr) SetSize(newSize uint64, blksize uint32) {
	a.Size = newSize
	a.Blocks = blocksFor(newSize, blksize)
}

func blocksFor(size uint64, blksize uint32) uint64 {
	if blksize == 0 {
		return 0
	}
	b := uint64(blksize)
	return (size + b - 1) / b
}

// IsDir reports whether the attribute set describes a directory.
func (a *FileAttr) IsDir() bool { return a.Kind == KindDirectory }

// Inode is the per-file/per-directory record keyed by Scope Inode.
type Inode struct {
	Attr FileAttr

	// LockState is the whole-file advisory lock state (spec §4.5.f).
	Lock LockState

	// InlineData holds a symlink's target bytes when Attr.Kind is
	// KindSymlink; nil for every other kind.
	InlineData []byte

	// NextFh is the next file-handle id to allocate for this inode;
	// monotonic, never reused within the inode's lifetime.
	NextFh uint64

	// OpenedFh is the number of currently-open FileHandle records
	// referencing this inode. Deletion on nlink==0 is deferred until
	// this also reaches zero (spec §4.5.e "release").
	OpenedFh uint64
}

// Touch updates the requested subset of Attr's timestamps to now.
func (ino *Inode) Touch(kinds TouchKind, now time.Time) {
	if kinds&TouchAtime != 0 {
		ino.Attr.Atime = now
	}
	if kinds&TouchMtime != 0 {
		ino.Attr.Mtime = now
	}
	if kinds&TouchCtime != 0 {
		ino.Attr.Ctime = now
	}
}

// Deletable reports whether the inode has no remaining directory
// references and no open handles, i.e. it (and its blocks) may be
// garbage collected within the current transaction.
func (ino *Inode) Deletable() bool {
	return ino.Attr.Nlink == 0 && ino.OpenedFh == 0
}

// DirectoryIndexEntry is the value of an Index key: the directory
// entry's target inode and cached kind, so readdir can report d_type
// without a second lookup per entry.
type DirectoryIndexEntry struct {
	Ino  uint64
	Kind FileKind
}

// FileHandle is the per-open, per-inode state keyed by Scope Handle.
// Independent handles on the same inode never alias one another's
// cursor or flags.
type FileHandle struct {
	Cursor uint64
	Flags  int32
}

// LockKind enumerates the whole-file advisory lock states spec §4.5.f
// defines; byte-range locks are approximated by whole-file semantics.
type LockKind uint8

const (
	LockUnlocked LockKind = iota
	LockShared
	LockExclusive
)

// LockOp identifies the lock transition requested by setlk.
type LockOp uint8

const (
	LockOpUnlock LockOp = iota
	LockOpShared
	LockOpExclusive
)

// LockState is the whole-file advisory lock record embedded in Inode.
type LockState struct {
	Owners map[uint64]struct{}
	Kind   LockKind
}

// NewLockState returns the Unlocked, no-owners state.
func NewLockState() LockState {
	return LockState{Owners: make(map[uint64]struct{}), Kind: LockUnlocked}
}

// Valid reports whether the invariant in spec.md §3 holds: Exclusive
// implies at most one owner; Unlocked implies no owners.
func (l *LockState) Valid() bool {
	switch l.Kind {
	case LockExclusive:
		return len(l.Owners) <= 1
	case LockUnlocked:
		return len(l.Owners) == 0
	default:
		return true
	}
}

// ErrLockConflict is returned by Transition when the requested
// transition cannot be granted under the current lock state.
type ErrLockConflict struct {
	Requested LockOp
	Current   LockKind
}

func (e *ErrLockConflict) Error() string {
	return "record: lock transition not permitted under current state"
}

// Transition applies the lock-state machine from spec.md §4.5.f for a
// single requester. It mutates l in place on success and leaves l
// untouched on failure.
//
//	current \ op   | unlock                     | shared              | exclusive
//	Unlocked       | no-op                      | add owner -> Shared | add owner -> Exclusive
//	Shared (N)     | remove owner; empty->Unlocked | add owner        | ok iff owners={requester}
//	Exclusive      | remove owner -> Unlocked   | EAGAIN unless requester is sole owner (-> Shared) | ok iff requester is sole owner
func (l *LockState) Transition(requester uint64, op LockOp) error {
	if l.Owners == nil {
		l.Owners = make(map[uint64]struct{})
	}

	switch l.Kind {
	case LockUnlocked:
		switch op {
		case LockOpUnlock:
			return nil
		case LockOpShared:
			l.Owners[requester] = struct{}{}
			l.Kind = LockShared
			return nil
		case LockOpExclusive:
			l.Owners[requester] = struct{}{}
			l.Kind = LockExclusive
			return nil
		}

	case LockShared:
		switch op {
		case LockOpUnlock:
			delete(l.Owners, requester)
			if len(l.Owners) == 0 {
				l.Kind = LockUnlocked
			}
			return nil
		case LockOpShared:
			l.Owners[requester] = struct{}{}
			return nil
		case LockOpExclusive:
			if _, sole := l.soleOwner(requester); !sole {
				return &ErrLockConflict{Requested: op, Current: l.Kind}
			}
			l.Kind = LockExclusive
			return nil
		}

	case LockExclusive:
		switch op {
		case LockOpUnlock:
			if _, owns := l.Owners[requester]; !owns {
				return &ErrLockConflict{Requested: op, Current: l.Kind}
			}
			delete(l.Owners, requester)
			l.Kind = LockUnlocked
			return nil
		case LockOpShared:
			if _, sole := l.soleOwner(requester); !sole {
				return &ErrLockConflict{Requested: op, Current: l.Kind}
			}
			l.Kind = LockShared
			return nil
		case LockOpExclusive:
			if _, sole := l.soleOwner(requester); !sole {
				return &ErrLockConflict{Requested: op, Current: l.Kind}
			}
			return nil
		}
	}

	return &ErrLockConflict{Requested: op, Current: l.Kind}
}

func (l *LockState) soleOwner(requester uint64) (struct{}, bool) {
	if len(l.Owners) != 1 {
		return struct{}{}, false
	}
	_, ok := l.Owners[requester]
	return struct{}{}, ok
}
