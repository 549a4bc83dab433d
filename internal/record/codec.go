package record

import (
	"fmt"

	"github.com/tifs-fs/tifs/internal/keycodec"
)

// Codec, MalformedValueError, and the record-specific Encode*/Decode*
// signatures are shared by every encoding; only the production (gob,
// codec_gob.go) and human-readable (json, build tag tifs_human_codec,
// codec_human.go) bodies differ.

// MalformedValueError reports a value that failed to decode, carrying
// the scope tag so callers can log or surface which kind of record was
// corrupt (spec.md §4.2(iii)). Key is nil for errors from Codec's
// Decode methods, which receive only the value bytes.
type MalformedValueError struct {
	Scope keycodec.Scope
	Key   []byte
	Err   error
}

func (e *MalformedValueError) Error() string {
	return fmt.Sprintf("record: malformed value (scope=%s, key=% x): %v", e.Scope, e.Key, e.Err)
}

func (e *MalformedValueError) Unwrap() error { return e.Err }

// Codec is the pluggable value encoding every record type is stored
// under. Exactly one implementation is linked into a given build
// (selected by the tifs_human_codec build tag); the two are not
// wire-compatible with each other, by design (spec.md §4.2).
type Codec interface {
	Name() string

	EncodeFilesystemMeta(FilesystemMeta) ([]byte, error)
	DecodeFilesystemMeta([]byte) (FilesystemMeta, error)

	EncodeInode(Inode) ([]byte, error)
	DecodeInode([]byte) (Inode, error)

	EncodeDirectoryIndexEntry(DirectoryIndexEntry) ([]byte, error)
	DecodeDirectoryIndexEntry([]byte) (DirectoryIndexEntry, error)

	EncodeFileHandle(FileHandle) ([]byte, error)
	DecodeFileHandle([]byte) (FileHandle, error)

	// EncodeBlock and DecodeBlock pass block payloads through
	// unchanged: block values are raw file bytes, not framed records,
	// so every Codec implementation must treat them identically.
	EncodeBlock([]byte) []byte
	DecodeBlock([]byte) []byte
}
