package mount

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/tifs-fs/tifs/internal/fsengine"
)

// dirStream is a fuse.DirStream over a pre-fetched page of entries.
// spec.md §4.5.h's readdir is not a generator: Engine.Readdir already
// returns a bounded slice (including the synthesized "." and ".."),
// so there is nothing to stream lazily here.
type dirStream struct {
	entries []fsengine.DirEntry
	i       int
}

func newDirStream(entries []fsengine.DirEntry) *dirStream {
	return &dirStream{entries: entries}
}

func (d *dirStream) HasNext() bool {
	return d.i < len(d.entries)
}

func (d *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	e := d.entries[d.i]
	d.i++
	return fuse.DirEntry{Name: e.Name, Ino: e.Ino, Mode: posixMode(e.Kind, 0)}, 0
}

func (d *dirStream) Close() {}
