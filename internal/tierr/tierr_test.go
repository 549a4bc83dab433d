package tierr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/tifs-fs/tifs/internal/tierr"
)

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		err  *tierr.Error
		want unix.Errno
	}{
		{tierr.NotFound("lookup", nil), unix.ENOENT},
		{tierr.Exists("create", nil), unix.EEXIST},
		{tierr.NotADirectory("rmdir", nil), unix.ENOTDIR},
		{tierr.IsADirectory("unlink", nil), unix.EISDIR},
		{tierr.NotEmpty("rmdir", nil), unix.ENOTEMPTY},
		{tierr.NameInvalid("mkdir", nil), unix.EINVAL},
		{tierr.LockHeld("setlk", nil), unix.EAGAIN},
		{tierr.OutOfSpace("write", nil), unix.ENOSPC},
		{tierr.Conflict("rename", nil), unix.EIO},
		{tierr.Malformed("getattr", nil), unix.EIO},
		{tierr.Transport("scan", nil), unix.EIO},
		{tierr.Permission("link", nil), unix.EPERM},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, tierr.ToErrno(c.err), "%s", c.err.Kind)
	}
}

func TestToErrnoUnwrapsWrappedError(t *testing.T) {
	base := tierr.NotFound("lookup", errors.New("no index entry"))
	wrapped := fmt.Errorf("engine: lookup(%d, %q): %w", 1, "x", base)

	assert.Equal(t, unix.ENOENT, tierr.ToErrno(wrapped))

	got, ok := tierr.As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, tierr.KindNotFound, got.Kind)
}

func TestToErrnoDefaultsToEIO(t *testing.T) {
	assert.Equal(t, unix.EIO, tierr.ToErrno(errors.New("unrelated failure")))
}

func TestToErrnoNilIsZero(t *testing.T) {
	assert.Zero(t, tierr.ToErrno(nil))
}
