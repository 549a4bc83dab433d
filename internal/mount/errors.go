package mount

import (
	"syscall"

	"github.com/tifs-fs/tifs/internal/tierr"
)

// errno translates an internal/fsengine error into the syscall.Errno
// FUSE callbacks must return, the one place (per spec.md §7
// "Propagation") the design-level taxonomy meets the kernel ABI.
func errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	return syscall.Errno(tierr.ToErrno(err))
}
