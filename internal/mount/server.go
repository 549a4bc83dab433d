package mount

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/tifs-fs/tifs/internal/fsengine"
)

// Mount starts a FUSE server rooted at engine, serving mountPoint
// until the caller calls Unmount or the kernel tears the mount down
// (spec.md §6's CLI surface: "tifs <kv-endpoint> <mount-point>").
// Callers own the returned server's lifecycle; Server.Wait() blocks
// until unmount.
func Mount(mountPoint string, engine *fsengine.Engine, opts Options) (*fuse.Server, error) {
	root := New(engine, opts).Root()

	ttl := time.Second
	fsOpts := &fs.Options{
		EntryTimeout: &ttl,
		AttrTimeout:  &ttl,
		MountOptions: fuse.MountOptions{
			FsName:     "tifs",
			Name:       "tifs",
			AllowOther: opts.AllowOther,
		},
	}

	return fs.Mount(mountPoint, root, fsOpts)
}
