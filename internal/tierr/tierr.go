// Package tierr defines TiFS's design-level error taxonomy (spec.md
// §7) and the errno each kind maps to at the Mount Surface. FS engine
// code returns these Kind-tagged *Error values; internal/mount is the
// only package that translates them into syscall.Errno values handed
// back to the kernel.
package tierr

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind is one of the design-level error categories spec.md §7 names.
type Kind uint8

const (
	KindNotFound Kind = iota
	KindExists
	KindNotADirectory
	KindIsADirectory
	KindNotEmpty
	KindNameInvalid
	KindLockHeld
	KindOutOfSpace
	KindConflict
	KindMalformed
	KindTransport

	// KindPermission is not part of spec.md §7's core taxonomy table
	// but is required by §4.5.d (hard-linking a directory fails EPERM,
	// distinct from the ENOTDIR a kind-mismatch elsewhere would use).
	KindPermission
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindExists:
		return "Exists"
	case KindNotADirectory:
		return "NotADirectory"
	case KindIsADirectory:
		return "IsADirectory"
	case KindNotEmpty:
		return "NotEmpty"
	case KindNameInvalid:
		return "NameInvalid"
	case KindLockHeld:
		return "LockHeld"
	case KindOutOfSpace:
		return "OutOfSpace"
	case KindConflict:
		return "Conflict"
	case KindMalformed:
		return "Malformed"
	case KindTransport:
		return "Transport"
	case KindPermission:
		return "Permission"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Errno returns the POSIX errno spec.md §7 assigns to k. Conflict maps
// to EIO here because by the time a *Error reaches the Mount Surface,
// the façade has already exhausted its retries (spec.md §6) — a live
// Conflict never escapes internal/kvtxn.
func (k Kind) Errno() unix.Errno {
	switch k {
	case KindNotFound:
		return unix.ENOENT
	case KindExists:
		return unix.EEXIST
	case KindNotADirectory:
		return unix.ENOTDIR
	case KindIsADirectory:
		return unix.EISDIR
	case KindNotEmpty:
		return unix.ENOTEMPTY
	case KindNameInvalid:
		return unix.EINVAL
	case KindLockHeld:
		return unix.EAGAIN
	case KindOutOfSpace:
		return unix.ENOSPC
	case KindConflict, KindMalformed, KindTransport:
		return unix.EIO
	case KindPermission:
		return unix.EPERM
	default:
		return unix.EIO
	}
}

// Error is a taxonomy-tagged error. Op names the FS engine operation
// that failed (e.g. "rename", "write") for logging.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tifs: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("tifs: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a *Error for op, optionally wrapping a lower-level
// cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// NotFound, Exists, ... are New's per-kind shorthands, used throughout
// internal/fsengine.
func NotFound(op string, cause error) *Error      { return New(KindNotFound, op, cause) }
func Exists(op string, cause error) *Error        { return New(KindExists, op, cause) }
func NotADirectory(op string, cause error) *Error { return New(KindNotADirectory, op, cause) }
func IsADirectory(op string, cause error) *Error  { return New(KindIsADirectory, op, cause) }
func NotEmpty(op string, cause error) *Error      { return New(KindNotEmpty, op, cause) }
func NameInvalid(op string, cause error) *Error   { return New(KindNameInvalid, op, cause) }
func LockHeld(op string, cause error) *Error      { return New(KindLockHeld, op, cause) }
func OutOfSpace(op string, cause error) *Error    { return New(KindOutOfSpace, op, cause) }
func Conflict(op string, cause error) *Error      { return New(KindConflict, op, cause) }
func Malformed(op string, cause error) *Error     { return New(KindMalformed, op, cause) }
func Transport(op string, cause error) *Error     { return New(KindTransport, op, cause) }
func Permission(op string, cause error) *Error    { return New(KindPermission, op, cause) }

// As is a convenience wrapper around errors.As for *Error, sparing
// call sites the address-of-typed-nil boilerplate.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// ToErrno walks err for a *Error and returns its mapped errno; errors
// with no *Error in their chain map to EIO, the catch-all for
// conditions this taxonomy did not anticipate.
func ToErrno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	if e, ok := As(err); ok {
		return e.Kind.Errno()
	}
	return unix.EIO
}
