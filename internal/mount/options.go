// Package mount is the Mount Surface (spec.md §4.6, SPEC_FULL.md §2.6):
// it adapts internal/fsengine's POSIX operations to
// github.com/hanwen/go-fuse/v2's fs.InodeEmbedder node API, owns the
// mount-time option snapshot, and translates internal/tierr results
// into syscall.Errno replies.
package mount

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tifs-fs/tifs/internal/telemetry"
)

// Options is the parsed form of the "-o key=val,..." mount options
// spec.md §4.6 / SPEC_FULL.md §6.3 define.
type Options struct {
	// Blksize is the file content block size in bytes (mount option
	// is given in KiB); must be a power of two.
	Blksize uint32

	// DirectIO forces the FUSE host to bypass its page cache for all
	// files opened under this mount.
	DirectIO bool

	// MaxSize is the reported filesystem capacity in bytes; 0 means
	// "report the unbounded sentinel" (spec.md §4.5.h).
	MaxSize uint64

	// TLSPath records the value of the tls= option. Nothing in this
	// module reads it: cmd/tifs dials the KV client without any TLS
	// settings (spec.md §1 non-goal: no encryption design here).
	TLSPath string

	// StrictAtime selects writing atime on every read instead of the
	// noatime-equivalent default (SPEC_FULL.md §8 decision 3).
	StrictAtime bool

	// AllowOther permits non-mounting users to access the mount, the
	// FUSE-library-level option go-fuse's MountOptions also exposes.
	AllowOther bool

	// Recorder, if set, receives one Observe call per dispatched FUSE
	// callback (SPEC_FULL.md §5 per-operation latency/count/error). Nil
	// skips the metrics side only; per-call request-id logging still
	// runs.
	Recorder *telemetry.Recorder
}

// DefaultBlksizeKiB is the default block size in KiB (spec.md §4.6).
const DefaultBlksizeKiB = 64

// DefaultOptions returns the default mount option set.
func DefaultOptions() Options {
	return Options{Blksize: DefaultBlksizeKiB * 1024}
}

// ParseOptionString parses a comma-separated "-o" option string (e.g.
// "blksize=128,direct_io,maxsize=10G,tls=/etc/tifs/tls.yaml") into
// Options, starting from DefaultOptions(). Unknown keys are rejected,
// matching spec.md §4.6's "closed set" of options.
func ParseOptionString(s string) (Options, error) {
	opts := DefaultOptions()
	if strings.TrimSpace(s) == "" {
		return opts, nil
	}

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, hasVal := strings.Cut(part, "=")
		switch key {
		case "blksize":
			if !hasVal {
				return Options{}, fmt.Errorf("mount: blksize requires a value")
			}
			kib, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return Options{}, fmt.Errorf("mount: invalid blksize %q: %w", val, err)
			}
			if kib == 0 || kib&(kib-1) != 0 {
				return Options{}, fmt.Errorf("mount: blksize %dKiB is not a power of two", kib)
			}
			opts.Blksize = uint32(kib) * 1024
		case "direct_io":
			opts.DirectIO = true
		case "maxsize":
			if !hasVal {
				return Options{}, fmt.Errorf("mount: maxsize requires a value")
			}
			b, err := ParseByteSize(val)
			if err != nil {
				return Options{}, fmt.Errorf("mount: invalid maxsize %q: %w", val, err)
			}
			opts.MaxSize = b
		case "tls":
			if !hasVal {
				return Options{}, fmt.Errorf("mount: tls requires a path value")
			}
			opts.TLSPath = val
		case "strictatime":
			opts.StrictAtime = true
		case "allow_other":
			opts.AllowOther = true
		default:
			return Options{}, fmt.Errorf("mount: unrecognized option %q", key)
		}
	}
	return opts, nil
}

// ParseByteSize parses a human-readable byte-size suffix (K/M/G/T, or
// Ki/Mi/Gi/Ti for binary units; bare digits are bytes), the way the
// teacher's internal/config parses maxsize-style byte flags.
func ParseByteSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := uint64(1)
	upper := strings.ToUpper(s)
	suffixes := []struct {
		suffix string
		mult   uint64
	}{
		{"TIB", 1 << 40}, {"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
		{"TI", 1 << 40}, {"GI", 1 << 30}, {"MI", 1 << 20}, {"KI", 1 << 10},
		{"T", 1e12}, {"G", 1e9}, {"M", 1e6}, {"K", 1e3},
	}
	numPart := upper
	for _, sfx := range suffixes {
		if strings.HasSuffix(upper, sfx.suffix) {
			mult = sfx.mult
			numPart = strings.TrimSuffix(upper, sfx.suffix)
			break
		}
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(numPart), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return uint64(n * float64(mult)), nil
}
