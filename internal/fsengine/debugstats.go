package fsengine

import (
	"fmt"

	"github.com/jacobsa/syncutil"
)

// debugStats counts transactions currently open against an Engine,
// guarded the way the teacher's fileSystem guards fs.inodes: a
// syncutil.InvariantMutex whose Unlock re-checks the accounting on
// every release (fs.go's fs.mu/checkInvariants). It is off by default
// (Options.DebugInvariants) so the engine's hot path stays free of
// the extra lock spec.md §9 rules out as shared mutable state; turning
// it on trades that guarantee for an assertion net while debugging
// transaction leaks.
type debugStats struct {
	enabled bool
	mu      syncutil.InvariantMutex

	opened   int64
	closed   int64
	inFlight int64
}

func newDebugStats(enabled bool) *debugStats {
	d := &debugStats{enabled: enabled}
	if enabled {
		d.mu = syncutil.NewInvariantMutex(d.checkInvariants)
	}
	return d
}

func (d *debugStats) checkInvariants() {
	if d.inFlight < 0 {
		panic(fmt.Sprintf("fsengine: debugStats.inFlight went negative (%d)", d.inFlight))
	}
	if d.opened-d.closed != d.inFlight {
		panic(fmt.Sprintf("fsengine: debugStats accounting mismatch: opened=%d closed=%d inFlight=%d",
			d.opened, d.closed, d.inFlight))
	}
}

// begin records one withTxn call starting (which may run several
// transaction attempts).
func (d *debugStats) begin() {
	if !d.enabled {
		return
	}
	d.mu.Lock()
	d.opened++
	d.inFlight++
	d.mu.Unlock()
}

// end records one withTxn call finishing, success or not.
func (d *debugStats) end() {
	if !d.enabled {
		return
	}
	d.mu.Lock()
	d.closed++
	d.inFlight--
	d.mu.Unlock()
}
