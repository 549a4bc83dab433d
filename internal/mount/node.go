package mount

import (
	"context"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/tifs-fs/tifs/internal/fsengine"
	"github.com/tifs-fs/tifs/internal/logger"
	"github.com/tifs-fs/tifs/internal/record"
	"github.com/tifs-fs/tifs/internal/telemetry"
)

// FS is the Mount Surface's root: one per mounted filesystem, holding
// the FS Engine handle and the option snapshot taken at mount time
// (spec.md §9 "the only process-wide state is the KV client pool and
// the mount's option snapshot, both read-only after init").
type FS struct {
	engine   *fsengine.Engine
	opts     Options
	entryTTL time.Duration
	attrTTL  time.Duration
	recorder *telemetry.Recorder
}

// New constructs an FS over engine. Entry/attr cache timeouts are kept
// short (one second) since multiple mount clients may be racing
// against the same KV-backed tree (spec.md §5).
func New(engine *fsengine.Engine, opts Options) *FS {
	return &FS{engine: engine, opts: opts, entryTTL: time.Second, attrTTL: time.Second, recorder: opts.Recorder}
}

// instrument tags one dispatched FUSE callback with a uuid correlation
// id (threaded through logger.RequestLogger so every log line for the
// call can be joined on it) and returns a finish func that reports the
// outcome to f.recorder. Called at the top of every Node/fileHandle
// callback; a nil f.recorder just skips the metrics side.
func (f *FS) instrument(ctx context.Context, op string) func(errOut *syscall.Errno) {
	start := time.Now()
	reqLog := logger.RequestLogger(uuid.NewString())
	reqLog.Debug("fuse op dispatch", "op", op)
	return func(errOut *syscall.Errno) {
		e := int32(0)
		if errOut != nil {
			e = int32(*errOut)
		}
		reqLog.Debug("fuse op done", "op", op, "errno", e)
		if f.recorder != nil {
			f.recorder.Observe(ctx, op, start, e)
		}
	}
}

// Root returns the node for the filesystem's root inode.
func (f *FS) Root() *Node {
	return &Node{fs: f, ino: record.RootIno, parent: record.RootIno}
}

// Node is a go-fuse tree node addressing one TiFS inode. Unlike a
// loopback filesystem's node, it carries no cached content: every
// operation re-reads the KV service, so a Node is just (engine handle,
// inode number) plus the parent inode needed to synthesize ".."
// (spec.md §4.5.h — no physical ".." entry is ever stored).
type Node struct {
	fs.Inode

	fs     *FS
	ino    uint64
	parent uint64
}

var (
	_ fs.InodeEmbedder  = (*Node)(nil)
	_ fs.NodeLookuper   = (*Node)(nil)
	_ fs.NodeGetattrer  = (*Node)(nil)
	_ fs.NodeSetattrer  = (*Node)(nil)
	_ fs.NodeMkdirer    = (*Node)(nil)
	_ fs.NodeMknoder    = (*Node)(nil)
	_ fs.NodeSymlinker  = (*Node)(nil)
	_ fs.NodeCreater    = (*Node)(nil)
	_ fs.NodeUnlinker   = (*Node)(nil)
	_ fs.NodeRmdirer    = (*Node)(nil)
	_ fs.NodeRenamer    = (*Node)(nil)
	_ fs.NodeLinker     = (*Node)(nil)
	_ fs.NodeReadlinker = (*Node)(nil)
	_ fs.NodeOpener     = (*Node)(nil)
	_ fs.NodeOpendirer  = (*Node)(nil)
	_ fs.NodeReaddirer  = (*Node)(nil)
	_ fs.NodeStatfser   = (*Node)(nil)

	_ fs.NodeGetxattrer    = (*Node)(nil)
	_ fs.NodeSetxattrer    = (*Node)(nil)
	_ fs.NodeListxattrer   = (*Node)(nil)
	_ fs.NodeRemovexattrer = (*Node)(nil)
)

func callerIDs(ctx context.Context) (uid, gid uint32) {
	if caller, ok := fuse.FromContext(ctx); ok && caller != nil {
		return caller.Uid, caller.Gid
	}
	return 0, 0
}

func (n *Node) child(ino uint64) *Node {
	return &Node{fs: n.fs, ino: ino, parent: n.ino}
}

func (n *Node) newChildInode(ctx context.Context, attr record.FileAttr) *fs.Inode {
	stable := fs.StableAttr{Mode: posixMode(attr.Kind, 0), Ino: attr.Ino}
	return n.NewInode(ctx, n.child(attr.Ino), stable)
}

// Lookup implements spec.md §4.5.a.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (inode *fs.Inode, errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "lookup")
	defer func() { finish(&errOut) }()

	res, err := n.fs.engine.Lookup(ctx, n.ino, name)
	if err != nil {
		errOut = errno(err)
		return
	}
	fillEntryOut(out, res.Attr, n.fs.entryTTL)
	inode = n.newChildInode(ctx, res.Attr)
	return
}

// Getattr implements spec.md §4.5.a.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) (errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "getattr")
	defer func() { finish(&errOut) }()

	attr, err := n.fs.engine.Getattr(ctx, n.ino)
	if err != nil {
		errOut = errno(err)
		return
	}
	fillAttrOut(out, attr, n.fs.attrTTL)
	return 0
}

// Setattr implements spec.md §4.5.a, translating a sparse SetAttrIn
// into fsengine.AttrChanges.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) (errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "setattr")
	defer func() { finish(&errOut) }()

	var changes fsengine.AttrChanges
	if mode, ok := in.GetMode(); ok {
		m := uint16(mode & 0o7777)
		changes.Mode = &m
	}
	if uid, ok := in.GetUID(); ok {
		changes.Uid = &uid
	}
	if gid, ok := in.GetGID(); ok {
		changes.Gid = &gid
	}
	if size, ok := in.GetSize(); ok {
		changes.Size = &size
	}
	if atime, ok := in.GetATime(); ok {
		changes.Atime = fsengine.NewTimeValue(atime.UnixNano())
	}
	if mtime, ok := in.GetMTime(); ok {
		changes.Mtime = fsengine.NewTimeValue(mtime.UnixNano())
	}

	attr, err := n.fs.engine.Setattr(ctx, n.ino, changes)
	if err != nil {
		errOut = errno(err)
		return
	}
	fillAttrOut(out, attr, n.fs.attrTTL)
	return 0
}

// Mkdir implements spec.md §4.5.b.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (inode *fs.Inode, errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "mkdir")
	defer func() { finish(&errOut) }()

	uid, gid := callerIDs(ctx)
	res, err := n.fs.engine.Mkdir(ctx, fsengine.NewEntryRequest{
		Parent: n.ino, Name: name, Perm: uint16(mode & 0o7777), Uid: uid, Gid: gid,
	})
	if err != nil {
		errOut = errno(err)
		return
	}
	fillEntryOut(out, res.Attr, n.fs.entryTTL)
	inode = n.newChildInode(ctx, res.Attr)
	return
}

// Mknod implements spec.md §4.5.b for regular files, fifos, sockets,
// and device nodes created without O_CREAT (e.g. mkfifo, mknod(2)).
func (n *Node) Mknod(ctx context.Context, name string, mode, dev uint32, out *fuse.EntryOut) (inode *fs.Inode, errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "mknod")
	defer func() { finish(&errOut) }()

	uid, gid := callerIDs(ctx)
	res, err := n.fs.engine.Mknod(ctx, fsengine.NewEntryRequest{
		Parent: n.ino, Name: name, Kind: kindFromMode(mode), Perm: uint16(mode & 0o7777),
		Uid: uid, Gid: gid, Rdev: dev,
	})
	if err != nil {
		errOut = errno(err)
		return
	}
	fillEntryOut(out, res.Attr, n.fs.entryTTL)
	inode = n.newChildInode(ctx, res.Attr)
	return
}

// Symlink implements spec.md §4.5.b; the target is stored inline on
// the new inode.
func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (inode *fs.Inode, errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "symlink")
	defer func() { finish(&errOut) }()

	uid, gid := callerIDs(ctx)
	res, err := n.fs.engine.Symlink(ctx, fsengine.NewEntryRequest{
		Parent: n.ino, Name: name, Perm: 0o777, Uid: uid, Gid: gid, Target: target,
	})
	if err != nil {
		errOut = errno(err)
		return
	}
	fillEntryOut(out, res.Attr, n.fs.entryTTL)
	inode = n.newChildInode(ctx, res.Attr)
	return
}

// Readlink implements spec.md §3's "symlink target stored inline".
func (n *Node) Readlink(ctx context.Context) (target []byte, errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "readlink")
	defer func() { finish(&errOut) }()

	t, err := n.fs.engine.Readlink(ctx, n.ino)
	if err != nil {
		errOut = errno(err)
		return
	}
	target = []byte(t)
	return
}

// Create implements spec.md §4.5.b's open-with-create: atomically
// creates a regular file and returns an already-open handle.
func (n *Node) Create(ctx context.Context, name string, flags, mode uint32, out *fuse.EntryOut) (inode *fs.Inode, handle fs.FileHandle, fuseFlags uint32, errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "create")
	defer func() { finish(&errOut) }()

	uid, gid := callerIDs(ctx)
	res, err := n.fs.engine.Create(ctx, fsengine.NewEntryRequest{
		Parent: n.ino, Name: name, Perm: uint16(mode & 0o7777), Uid: uid, Gid: gid,
	}, int32(flags))
	if err != nil {
		errOut = errno(err)
		return
	}
	fillEntryOut(out, res.Attr, n.fs.entryTTL)
	inode = n.newChildInode(ctx, res.Attr)
	handle = &fileHandle{fs: n.fs, ino: res.Ino, fh: res.Fh}
	if n.fs.opts.DirectIO {
		fuseFlags |= fuse.FOPEN_DIRECT_IO
	}
	return
}

// Unlink implements spec.md §4.5.c.
func (n *Node) Unlink(ctx context.Context, name string) (errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "unlink")
	defer func() { finish(&errOut) }()

	errOut = errno(n.fs.engine.Unlink(ctx, n.ino, name))
	return
}

// Rmdir implements spec.md §4.5.c.
func (n *Node) Rmdir(ctx context.Context, name string) (errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "rmdir")
	defer func() { finish(&errOut) }()

	errOut = errno(n.fs.engine.Rmdir(ctx, n.ino, name))
	return
}

// Rename implements spec.md §4.5.e.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) (errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "rename")
	defer func() { finish(&errOut) }()

	np, ok := newParent.(*Node)
	if !ok {
		errOut = syscall.EINVAL
		return
	}
	errOut = errno(n.fs.engine.Rename(ctx, n.ino, name, np.ino, newName, fsengine.RenameFlags(flags)))
	return
}

// Link implements spec.md §4.5.d.
func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (inode *fs.Inode, errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "link")
	defer func() { finish(&errOut) }()

	tn, ok := target.(*Node)
	if !ok {
		errOut = syscall.EINVAL
		return
	}
	attr, err := n.fs.engine.Link(ctx, tn.ino, n.ino, name)
	if err != nil {
		errOut = errno(err)
		return
	}
	fillEntryOut(out, attr, n.fs.entryTTL)
	inode = n.newChildInode(ctx, attr)
	return
}

// Open implements spec.md §4.5.f.
func (n *Node) Open(ctx context.Context, flags uint32) (handle fs.FileHandle, fuseFlags uint32, errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "open")
	defer func() { finish(&errOut) }()

	if flags&syscall.O_ACCMODE != syscall.O_RDONLY {
		attr, err := n.fs.engine.Getattr(ctx, n.ino)
		if err != nil {
			errOut = errno(err)
			return
		}
		if attr.IsDir() {
			errOut = syscall.EISDIR
			return
		}
	}

	fh, err := n.fs.engine.Open(ctx, n.ino, int32(flags))
	if err != nil {
		errOut = errno(err)
		return
	}
	if n.fs.opts.DirectIO {
		fuseFlags |= fuse.FOPEN_DIRECT_IO
	}
	handle = &fileHandle{fs: n.fs, ino: n.ino, fh: fh}
	return
}

// Opendir performs the standard sanity check (directory kind) that
// spec.md §4.5.h assumes readdir may rely on; actual listing happens
// in Readdir.
func (n *Node) Opendir(ctx context.Context) (errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "opendir")
	defer func() { finish(&errOut) }()

	attr, err := n.fs.engine.Getattr(ctx, n.ino)
	if err != nil {
		errOut = errno(err)
		return
	}
	if !attr.IsDir() {
		errOut = syscall.ENOTDIR
	}
	return
}

// Readdir implements spec.md §4.5.h, synthesizing "." and ".." from
// this Node's own and parent inode numbers.
func (n *Node) Readdir(ctx context.Context) (stream fs.DirStream, errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "readdir")
	defer func() { finish(&errOut) }()

	entries, err := n.fs.engine.Readdir(ctx, n.ino, n.parent, "", 0)
	if err != nil {
		errOut = errno(err)
		return
	}
	stream = newDirStream(entries)
	return
}

// Statfs implements spec.md §4.5.h.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) (errOut syscall.Errno) {
	finish := n.fs.instrument(ctx, "statfs")
	defer func() { finish(&errOut) }()

	res, err := n.fs.engine.Statfs(ctx)
	if err != nil {
		errOut = errno(err)
		return
	}
	out.Blocks = res.Blocks
	out.Bfree = res.Bfree
	out.Bavail = res.Bavail
	out.Files = res.Files
	out.Ffree = res.FreeFiles
	out.Bsize = res.Bsize
	out.Frsize = res.Bsize
	out.NameLen = 255
	return
}

// Getxattr, Setxattr, Listxattr, Removexattr: the data model (spec.md
// §3) has no xattr scope, so these FUSE callbacks are accepted but
// unimplemented, per spec.md §6 "Ops not implemented return ENOSYS".
func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	errOut := syscall.Errno(syscall.ENOSYS)
	n.fs.instrument(ctx, "getxattr")(&errOut)
	return 0, errOut
}

func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	errOut := syscall.Errno(syscall.ENOSYS)
	n.fs.instrument(ctx, "setxattr")(&errOut)
	return errOut
}

func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	errOut := syscall.Errno(syscall.ENOSYS)
	n.fs.instrument(ctx, "listxattr")(&errOut)
	return 0, errOut
}

func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	errOut := syscall.Errno(syscall.ENOSYS)
	n.fs.instrument(ctx, "removexattr")(&errOut)
	return errOut
}
