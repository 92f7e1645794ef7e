// Package jobstate provides per-job-type mutual exclusion and
// cooperative cancellation flags with crash-safe cleanup.
//
// One Guard exists per job type for the lifetime of the process. The
// guard is an explicit, injectable handle: callers that start, cancel,
// or observe a job type all share the same *Guard, usually obtained
// from a Registry.
//
// Lock order: the three flags are independently lockable. Any code path
// that must hold more than one lock acquires them in the fixed order
// cancel flag, then running flag, then error flag. Today no path holds
// more than two, but the order is enforced everywhere so future
// extension stays structurally deadlock-free.
package jobstate

import "sync"

// State is a point-in-time snapshot of a guard's flags.
type State struct {
	Running         bool   `json:"running"`
	CancelRequested bool   `json:"cancel_requested"`
	LastError       string `json:"last_error,omitempty"`
}

// Guard holds the process-lifetime state of one job type.
//
// The zero value is a ready-to-use idle guard.
type Guard struct {
	cancelMu     sync.Mutex
	shouldCancel bool

	runMu     sync.Mutex
	isRunning bool

	errMu   sync.Mutex
	lastErr string
}

// TryStart attempts to mark the job type as running.
//
// If a run is already in flight it returns false without mutating
// anything, refusing a second concurrent run of the same job type.
// Otherwise it sets the running flag, clears the cancel flag and the
// last error, and returns true. The caller that receives true must
// arrange for Finish to run on every exit path, typically via defer.
func (g *Guard) TryStart() bool {
	g.cancelMu.Lock()
	defer g.cancelMu.Unlock()
	g.runMu.Lock()
	defer g.runMu.Unlock()

	if g.isRunning {
		return false
	}
	g.isRunning = true
	g.shouldCancel = false

	g.errMu.Lock()
	g.lastErr = ""
	g.errMu.Unlock()
	return true
}

// RequestCancel asks the current run to stop.
//
// The request is advisory: the runner observes it only between chunks,
// so an in-flight chunk always finishes its current work first.
// Requesting cancellation while idle is harmless; the flag is cleared by
// the next TryStart.
func (g *Guard) RequestCancel() {
	g.cancelMu.Lock()
	g.shouldCancel = true
	g.cancelMu.Unlock()
}

// CancelRequested reports whether cancellation has been requested. It
// has the signature the batch runner expects for its cancellation
// predicate.
func (g *Guard) CancelRequested() bool {
	g.cancelMu.Lock()
	defer g.cancelMu.Unlock()
	return g.shouldCancel
}

// Running reports whether a run is currently in flight.
func (g *Guard) Running() bool {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	return g.isRunning
}

// SetError records the last human-readable failure for status reporting.
func (g *Guard) SetError(msg string) {
	g.errMu.Lock()
	g.lastErr = msg
	g.errMu.Unlock()
}

// ClearError erases the recorded failure.
func (g *Guard) ClearError() {
	g.errMu.Lock()
	g.lastErr = ""
	g.errMu.Unlock()
}

// LastError returns the recorded failure, or "" when none.
func (g *Guard) LastError() string {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.lastErr
}

// Finish returns the guard to idle, clearing the running and cancel
// flags unconditionally.
//
// Finish is designed to be deferred immediately after a successful
// TryStart: it runs on normal return, early return, and panic unwinds
// alike, so the job type is always restartable afterward no matter how
// the driving routine ended.
func (g *Guard) Finish() {
	g.cancelMu.Lock()
	defer g.cancelMu.Unlock()
	g.runMu.Lock()
	defer g.runMu.Unlock()

	g.isRunning = false
	g.shouldCancel = false
}

// Snapshot returns the current flags. The three locks are taken one at
// a time in the fixed order, so the snapshot is consistent per field but
// not across fields; that is sufficient for status reporting.
func (g *Guard) Snapshot() State {
	return State{
		CancelRequested: g.CancelRequested(),
		Running:         g.Running(),
		LastError:       g.LastError(),
	}
}
