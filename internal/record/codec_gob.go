//go:build !tifs_human_codec

package record

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/tifs-fs/tifs/internal/keycodec"
)

// gobCodec is the production encoding: each record is gob-encoded,
// which already self-describes field names and tolerates additive
// schema evolution (spec.md §4.2(ii)) without a separate length
// prefix, since gob.Decoder reads exactly one framed value per Decode
// call from the stream it owns.
type gobCodec struct{}

// NewProductionCodec returns the default, on-disk stable Codec.
func NewProductionCodec() Codec { return gobCodec{} }

func (gobCodec) Name() string { return "gob" }

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("record: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func gobDecode(scope keycodec.Scope, key []byte, raw []byte, out any) error {
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(out); err != nil {
		return &MalformedValueError{Scope: scope, Key: key, Err: err}
	}
	return nil
}

func (gobCodec) EncodeFilesystemMeta(v FilesystemMeta) ([]byte, error) { return gobEncode(v) }
func (gobCodec) DecodeFilesystemMeta(raw []byte) (FilesystemMeta, error) {
	var v FilesystemMeta
	err := gobDecode(keycodec.ScopeMeta, nil, raw, &v)
	return v, err
}

func (gobCodec) EncodeInode(v Inode) ([]byte, error) { return gobEncode(v) }
func (gobCodec) DecodeInode(raw []byte) (Inode, error) {
	var v Inode
	err := gobDecode(keycodec.ScopeInode, nil, raw, &v)
	return v, err
}

func (gobCodec) EncodeDirectoryIndexEntry(v DirectoryIndexEntry) ([]byte, error) {
	return gobEncode(v)
}
func (gobCodec) DecodeDirectoryIndexEntry(raw []byte) (DirectoryIndexEntry, error) {
	var v DirectoryIndexEntry
	err := gobDecode(keycodec.ScopeIndex, nil, raw, &v)
	return v, err
}

func (gobCodec) EncodeFileHandle(v FileHandle) ([]byte, error) { return gobEncode(v) }
func (gobCodec) DecodeFileHandle(raw []byte) (FileHandle, error) {
	var v FileHandle
	err := gobDecode(keycodec.ScopeHandle, nil, raw, &v)
	return v, err
}

func (gobCodec) EncodeBlock(b []byte) []byte { return b }
func (gobCodec) DecodeBlock(b []byte) []byte { return b }
