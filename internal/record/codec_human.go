//go:build tifs_human_codec

package record

import (
	"encoding/json"
	"fmt"

	"github.com/tifs-fs/tifs/internal/keycodec"
)

// jsonCodec is the development encoding: every record becomes a JSON
// object, legible with any KV browser's raw-value dump. It is selected
// at build time via the tifs_human_codec tag and is not wire-compatible
// with the gob production encoding (spec.md §4.2) — a filesystem
// formatted under one codec cannot be mounted under the other.
type jsonCodec struct{}

// NewProductionCodec returns the human-readable Codec for this build.
// The name is unchanged across build variants so callers never branch
// on which codec is linked in.
func NewProductionCodec() Codec { return jsonCodec{} }

func (jsonCodec) Name() string { return "json" }

func jsonEncode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("record: json encode: %w", err)
	}
	return b, nil
}

func jsonDecode(scope keycodec.Scope, key []byte, raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return &MalformedValueError{Scope: scope, Key: key, Err: err}
	}
	return nil
}

func (jsonCodec) EncodeFilesystemMeta(v FilesystemMeta) ([]byte, error) { return jsonEncode(v) }
func (jsonCodec) DecodeFilesystemMeta(raw []byte) (FilesystemMeta, error) {
	var v FilesystemMeta
	err := jsonDecode(keycodec.ScopeMeta, nil, raw, &v)
	return v, err
}

func (jsonCodec) EncodeInode(v Inode) ([]byte, error) { return jsonEncode(v) }
func (jsonCodec) DecodeInode(raw []byte) (Inode, error) {
	var v Inode
	err := jsonDecode(keycodec.ScopeInode, nil, raw, &v)
	return v, err
}

func (jsonCodec) EncodeDirectoryIndexEntry(v DirectoryIndexEntry) ([]byte, error) {
	return jsonEncode(v)
}
func (jsonCodec) DecodeDirectoryIndexEntry(raw []byte) (DirectoryIndexEntry, error) {
	var v DirectoryIndexEntry
	err := jsonDecode(keycodec.ScopeIndex, nil, raw, &v)
	return v, err
}

func (jsonCodec) EncodeFileHandle(v FileHandle) ([]byte, error) { return jsonEncode(v) }
func (jsonCodec) DecodeFileHandle(raw []byte) (FileHandle, error) {
	var v FileHandle
	err := jsonDecode(keycodec.ScopeHandle, nil, raw, &v)
	return v, err
}

func (jsonCodec) EncodeBlock(b []byte) []byte { return b }
func (jsonCodec) DecodeBlock(b []byte) []byte { return b }
