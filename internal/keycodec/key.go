// Package keycodec implements the deterministic byte encoding of TiFS's
// flat keyspace: a one-byte scope tag followed by a scope-specific,
// big-endian body, chosen so that raw byte order matches logical order
// (block index within a file, inode number globally).
package keycodec

import (
	"encoding/binary"
	"fmt"
)

// Scope is the one-byte tag prefixing every key in the keyspace.
type Scope byte

const (
	ScopeMeta      Scope = 0
	ScopeInode     Scope = 1
	ScopeBlock     Scope = 2
	ScopeHandle    Scope = 3
	ScopeIndex     Scope = 4
	ScopeDirectory Scope = 5
)

func (s Scope) String() string {
	switch s {
	case ScopeMeta:
		return "meta"
	case ScopeInode:
		return "inode"
	case ScopeBlock:
		return "block"
	case ScopeHandle:
		return "handle"
	case ScopeIndex:
		return "index"
	case ScopeDirectory:
		return "directory"
	default:
		return fmt.Sprintf("scope(%d)", byte(s))
	}
}

// MalformedKeyError reports a key whose body does not match the shape
// its scope tag implies.
type MalformedKeyError struct {
	Scope Scope
	Key   []byte
	Cause string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("malformed key (scope=%s, cause=%s): % x", e.Scope, e.Cause, e.Key)
}

// Key is the decoded, tagged-union form of a keyspace key. Exactly the
// fields relevant to Scope are meaningful; callers should switch on
// Scope before reading other fields.
type Key struct {
	Scope Scope

	// ScopeInode, ScopeBlock (inode part), ScopeHandle (inode part).
	Inode uint64

	// ScopeBlock only.
	Block uint64

	// ScopeHandle only.
	Handle uint64

	// ScopeIndex only: parent is stored in Inode.
	Name string

	// ScopeDirectory: the directory's own inode is stored in Inode.
}

const (
	uint64Len = 8
	scopeLen  = 1
)

// MetaKey returns the single key for the FilesystemMeta record.
func MetaKey() Key { return Key{Scope: ScopeMeta} }

// InodeKey returns the key for an Inode record.
func InodeKey(ino uint64) Key { return Key{Scope: ScopeInode, Inode: ino} }

// BlockKey returns the key for one block of a file's content.
func BlockKey(ino, block uint64) Key { return Key{Scope: ScopeBlock, Inode: ino, Block: block} }

// HandleKey returns the key for a FileHandle record.
func HandleKey(ino, handle uint64) Key { return Key{Scope: ScopeHandle, Inode: ino, Handle: handle} }

// IndexKey returns the key for a directory entry (parent, name) -> ino.
func IndexKey(parent uint64, name string) Key {
	return Key{Scope: ScopeIndex, Inode: parent, Name: name}
}

// DirectoryKey returns the key for a materialized directory listing, if
// that representation is in use. TiFS does not use scope 5 (see
// DESIGN.md / SPEC_FULL.md Open Question 1: directory listings are
// derived from Index entries only) but the scope and its codec remain
// defined for forward compatibility and for tooling that may want to
// cache a listing snapshot out of band.
func DirectoryKey(ino uint64) Key { return Key{Scope: ScopeDirectory, Inode: ino} }

// Encode serializes k into its canonical byte representation.
func Encode(k Key) []byte {
	switch k.Scope {
	case ScopeMeta:
		return []byte{byte(ScopeMeta)}

	case ScopeInode, ScopeDirectory:
		buf := make([]byte, scopeLen+uint64Len)
		buf[0] = byte(k.Scope)
		binary.BigEndian.PutUint64(buf[scopeLen:], k.Inode)
		return buf

	case ScopeBlock:
		buf := make([]byte, scopeLen+2*uint64Len)
		buf[0] = byte(ScopeBlock)
		binary.BigEndian.PutUint64(buf[scopeLen:], k.Inode)
		binary.BigEndian.PutUint64(buf[scopeLen+uint64Len:], k.Block)
		return buf

	case ScopeHandle:
		buf := make([]byte, scopeLen+2*uint64Len)
		buf[0] = byte(ScopeHandle)
		binary.BigEndian.PutUint64(buf[scopeLen:], k.Inode)
		binary.BigEndian.PutUint64(buf[scopeLen+uint64Len:], k.Handle)
		return buf

	case ScopeIndex:
		name := []byte(k.Name)
		buf := make([]byte, scopeLen+uint64Len+len(name))
		buf[0] = byte(ScopeIndex)
		binary.BigEndian.PutUint64(buf[scopeLen:], k.Inode)
		copy(buf[scopeLen+uint64Len:], name)
		return buf

	default:
		panic(fmt.Sprintf("keycodec: unknown scope %d", byte(k.Scope)))
	}
}

// Decode parses a raw keyspace key. It fails with *MalformedKeyError if
// the body length does not match the scope's expected shape.
func Decode(raw []byte) (Key, error) {
	if len(raw) < scopeLen {
		return Key{}, &MalformedKeyError{Cause: "empty key", Key: raw}
	}

	scope := Scope(raw[0])
	body := raw[scopeLen:]

	switch scope {
	case ScopeMeta:
		if len(body) != 0 {
			return Key{}, &MalformedKeyError{Scope: scope, Key: raw, Cause: "meta key must have empty body"}
		}
		return Key{Scope: ScopeMeta}, nil

	case ScopeInode, ScopeDirectory:
		if len(body) != uint64Len {
			return Key{}, &MalformedKeyError{Scope: scope, Key: raw, Cause: "expected 8-byte inode body"}
		}
		return Key{Scope: scope, Inode: binary.BigEndian.Uint64(body)}, nil

	case ScopeBlock:
		if len(body) != 2*uint64Len {
			return Key{}, &MalformedKeyError{Scope: scope, Key: raw, Cause: "expected 16-byte inode+block body"}
		}
		return Key{
			Scope: ScopeBlock,
			Inode: binary.BigEndian.Uint64(body[:uint64Len]),
			Block: binary.BigEndian.Uint64(body[uint64Len:]),
		}, nil

	case ScopeHandle:
		if len(body) != 2*uint64Len {
			return Key{}, &MalformedKeyError{Scope: scope, Key: raw, Cause: "expected 16-byte inode+handle body"}
		}
		return Key{
			Scope:  ScopeHandle,
			Inode:  binary.BigEndian.Uint64(body[:uint64Len]),
			Handle: binary.BigEndian.Uint64(body[uint64Len:]),
		}, nil

	case ScopeIndex:
		if len(body) < uint64Len {
			return Key{}, &MalformedKeyError{Scope: scope, Key: raw, Cause: "expected at least 8-byte parent inode prefix"}
		}
		return Key{
			Scope: ScopeIndex,
			Inode: binary.BigEndian.Uint64(body[:uint64Len]),
			Name:  string(body[uint64Len:]),
		}, nil

	default:
		return Key{}, &MalformedKeyError{Scope: scope, Key: raw, Cause: "unknown scope tag"}
	}
}

// ValidateName enforces the POSIX name constraints spec.md §4.1
// requires of Index key bodies: no NUL, no '/', non-empty, and at most
// 255 bytes.
func ValidateName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("keycodec: empty name")
	}
	if len(name) > 255 {
		return fmt.Errorf("keycodec: name too long (%d bytes)", len(name))
	}
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case 0:
			return fmt.Errorf("keycodec: name contains NUL byte")
		case '/':
			return fmt.Errorf("keycodec: name contains '/'")
		}
	}
	return nil
}

// IndexPrefix returns the byte prefix shared by every Index key for the
// given parent inode, usable as the low end of a range scan that
// enumerates a directory's entries in name order.
func IndexPrefix(parent uint64) []byte {
	buf := make([]byte, scopeLen+uint64Len)
	buf[0] = byte(ScopeIndex)
	binary.BigEndian.PutUint64(buf[scopeLen:], parent)
	return buf
}

// IndexPrefixEnd returns the exclusive upper bound of the Index-key
// range for the given parent inode: the prefix incremented as a big
// integer, which collates immediately after every key sharing the
// prefix (since names are of bounded length and the KV comparator is a
// raw byte-lexicographic order).
func IndexPrefixEnd(parent uint64) []byte {
	return incrementPrefix(IndexPrefix(parent))
}

// BlockPrefix returns the byte prefix shared by every Block key for the
// given inode.
func BlockPrefix(ino uint64) []byte {
	buf := make([]byte, scopeLen+uint64Len)
	buf[0] = byte(ScopeBlock)
	binary.BigEndian.PutUint64(buf[scopeLen:], ino)
	return buf
}

// BlockPrefixEnd returns the exclusive upper bound of the Block-key
// range for the given inode.
func BlockPrefixEnd(ino uint64) []byte {
	return incrementPrefix(BlockPrefix(ino))
}

// BlockRange returns the inclusive-start, exclusive-end byte bounds of
// a range scan over Block keys [ino, first] .. [ino, last], relied on
// by the block I/O engine (spec.md §4.1, §4.5.g) to read or overwrite a
// contiguous run of blocks with a single ordered scan.
func BlockRange(ino, first, last uint64) (start, end []byte) {
	start = Encode(BlockKey(ino, first))
	end = Encode(BlockKey(ino, last+1))
	return
}

// HandlePrefix returns the byte prefix shared by every FileHandle key
// for the given inode, used to enumerate open handles during an inode
// teardown sanity check.
func HandlePrefix(ino uint64) []byte {
	buf := make([]byte, scopeLen+uint64Len)
	buf[0] = byte(ScopeHandle)
	binary.BigEndian.PutUint64(buf[scopeLen:], ino)
	return buf
}

// HandlePrefixEnd returns the exclusive upper bound of the handle-key
// range for the given inode.
func HandlePrefixEnd(ino uint64) []byte {
	return incrementPrefix(HandlePrefix(ino))
}

// ScopePrefix returns the one-byte prefix shared by every key of the
// given scope, the low end of a whole-scope range scan (used by the
// offline fsck walker, which has no single inode/parent to narrow by).
func ScopePrefix(scope Scope) []byte {
	return []byte{byte(scope)}
}

// ScopePrefixEnd returns the exclusive upper bound of the whole-scope
// key range for scope.
func ScopePrefixEnd(scope Scope) []byte {
	return incrementPrefix(ScopePrefix(scope))
}

// incrementPrefix returns the lexicographically-next byte string after
// every string sharing prefix p, by incrementing p as a big-endian
// integer. Since every prefix here ends in a fixed-width, non-0xFF...
// field in practice (inode numbers never reach 2^64-1 during a mount's
// lifetime), this never needs to grow the slice.
func incrementPrefix(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out
		}
		out[i] = 0
	}
	// All 0xFF: no finite successor: the caller must treat this as
	// "unbounded" (callers in this codebase never hit this in practice).
	return append(out, 0xFF)
}
