package ndp

import (
	"context"

	"golang.org/x/sync/semaphore"
	"gvisor.dev/gvisor/pkg/tcpip"
)

// DadMode selects how a DadTask reports its outcome (spec §4.8).
type DadMode int

const (
	// DadBlocking has the caller await completion on a semaphore, releasing
	// the engine's global lock for the duration (spec §5 "Suspension
	// points").
	DadBlocking DadMode = iota
	// DadCallback invokes a caller-supplied hook from within the engine's
	// lock once the outcome is known.
	DadCallback
	// DadSilent runs DAD with no caller notification at all, used while an
	// address is still being synthesized during autoconfiguration.
	DadSilent
)

// DadOutcome is the result delivered to a DadTask's caller (spec §7 "DAD
// outcomes").
type DadOutcome int

const (
	DadSucceeded DadOutcome = iota
	DadDuplicate
	DadFailed
)

func (o DadOutcome) String() string {
	switch o {
	case DadSucceeded:
		return "Succeeded"
	case DadDuplicate:
		return "Duplicate"
	case DadFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// dadTask is the DadTask entity of spec §3, always paired 1:1 with a
// NeighborEntry in INCOMPLETE state created to drive its probes.
type dadTask struct {
	iface  tcpip.NICID
	target tcpip.Address
	mode   DadMode
	hook   func(DadOutcome)

	neighbor *NeighborEntry

	// sem is released exactly once, when the outcome is known, for the
	// blocking variant; non-blocking modes never touch it.
	sem     *semaphore.Weighted
	outcome DadOutcome
}

// dadEngine is C8: the set of in-flight DadTasks, keyed the way spec §4.8
// says lookups must be ("by target address").
type dadEngine struct {
	byTarget map[tcpip.Address]*dadTask
}

func newDadEngine() *dadEngine {
	return &dadEngine{byTarget: make(map[tcpip.Address]*dadTask)}
}

func (d *dadEngine) find(target tcpip.Address) (*dadTask, bool) {
	t, ok := d.byTarget[target]
	return t, ok
}

// start registers a new dadTask for (iface, target), paired with neighbor.
// It fails with ErrInvalidArgument if a task for target is already active,
// matching the "at most one DadTask per (interface, target)" invariant of
// spec §3 (the spec keys the invariant on (iface, target); the engine's
// lookup index is target-only per §4.8, so duplicate targets across
// interfaces are rejected too — a narrower, safer reading than the
// invariant strictly requires).
func (d *dadEngine) start(iface tcpip.NICID, target tcpip.Address, mode DadMode, hook func(DadOutcome), neighbor *NeighborEntry) (*dadTask, *Error) {
	if _, ok := d.byTarget[target]; ok {
		return nil, errf(ErrInvalidArgument, "DAD already in progress for %s", target)
	}
	t := &dadTask{
		iface:    iface,
		target:   target,
		mode:     mode,
		hook:     hook,
		neighbor: neighbor,
	}
	if mode == DadBlocking {
		t.sem = semaphore.NewWeighted(1)
		t.sem.Acquire(context.Background(), 1)
	}
	d.byTarget[target] = t
	neighbor.dad = t
	return t, nil
}

// complete delivers outcome to t's caller according to its mode and removes
// t from the active set. It must be called with the engine's global lock
// held; per spec §4.8's concurrency contract, the blocking variant's waiter
// re-acquires that same lock after waking, so releasing the semaphore here
// is safe even though the lock is held.
func (d *dadEngine) complete(t *dadTask, outcome DadOutcome) {
	delete(d.byTarget, t.target)
	t.outcome = outcome
	switch t.mode {
	case DadBlocking:
		t.sem.Release(1)
	case DadCallback:
		if t.hook != nil {
			t.hook(outcome)
		}
	case DadSilent:
		// No notification: the outcome is only recorded in t.outcome.
	}
}

// wait blocks the calling goroutine for DadBlocking tasks until complete
// posts the outcome, per spec §5: "releases the global lock and awaits a
// semaphore". unlock/relock let the caller hand in its own mutex's
// Unlock/Lock methods so dadEngine has no direct dependency on Engine.
func (t *dadTask) wait(ctx context.Context, unlock, relock func()) (DadOutcome, error) {
	unlock()
	defer relock()
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return DadFailed, err
	}
	return t.outcome, nil
}

// stop implements dad_stop (spec §5 "Cancellation"): remove the task from
// the active set without notifying anyone. The paired NeighborEntry and its
// timer are the caller's responsibility to remove (the engine does this in
// one step via Engine.DadStop).
func (d *dadEngine) stop(target tcpip.Address) (*dadTask, bool) {
	t, ok := d.byTarget[target]
	if !ok {
		return nil, false
	}
	delete(d.byTarget, target)
	return t, true
}
