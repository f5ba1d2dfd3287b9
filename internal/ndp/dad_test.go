package ndp

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDadEngineStartRejectsDuplicateTarget(t *testing.T) {
	d := newDadEngine()
	ne := &NeighborEntry{iface: testIface, addr: addr("target1")}
	if _, err := d.start(testIface, addr("target1"), DadSilent, nil, ne); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := d.start(testIface, addr("target1"), DadSilent, nil, ne); err == nil || err.Kind != ErrInvalidArgument {
		t.Fatalf("second start for the same target = %v, want ErrInvalidArgument", err)
	}
}

func TestDadEngineCallbackModeDeliversOutcome(t *testing.T) {
	d := newDadEngine()
	ne := &NeighborEntry{iface: testIface, addr: addr("target1")}
	var got DadOutcome
	var called bool
	task, err := d.start(testIface, addr("target1"), DadCallback, func(o DadOutcome) { got, called = o, true }, ne)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	d.complete(task, DadSucceeded)
	if !called {
		t.Fatalf("callback was never invoked")
	}
	if got != DadSucceeded {
		t.Errorf("callback outcome = %v, want DadSucceeded", got)
	}
	if _, ok := d.find(addr("target1")); ok {
		t.Errorf("task should be removed from the active set after completion")
	}
}

func TestDadEngineBlockingWaitUnblocksOnComplete(t *testing.T) {
	d := newDadEngine()
	ne := &NeighborEntry{iface: testIface, addr: addr("target1")}
	task, err := d.start(testIface, addr("target1"), DadBlocking, nil, ne)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var mu sync.Mutex
	unlockCalls, relockCalls := 0, 0
	unlock := func() { mu.Lock(); unlockCalls++; mu.Unlock() }
	relock := func() { mu.Lock(); relockCalls++; mu.Unlock() }

	done := make(chan DadOutcome, 1)
	go func() {
		outcome, err := task.wait(context.Background(), unlock, relock)
		if err != nil {
			t.Errorf("wait: %v", err)
		}
		done <- outcome
	}()

	// Give the waiter a moment to block on the semaphore before completing.
	time.Sleep(10 * time.Millisecond)
	d.complete(task, DadDuplicate)

	select {
	case outcome := <-done:
		if outcome != DadDuplicate {
			t.Errorf("wait() outcome = %v, want DadDuplicate", outcome)
		}
	case <-time.After(time.Second):
		t.Fatalf("wait() did not unblock after complete()")
	}
	if unlockCalls != 1 || relockCalls != 1 {
		t.Errorf("unlock/relock calls = %d/%d, want 1/1", unlockCalls, relockCalls)
	}
}

func TestDadEngineStop(t *testing.T) {
	d := newDadEngine()
	ne := &NeighborEntry{iface: testIface, addr: addr("target1")}
	d.start(testIface, addr("target1"), DadSilent, nil, ne)
	task, ok := d.stop(addr("target1"))
	if !ok || task.neighbor != ne {
		t.Fatalf("stop = %v, %v, want the started task", task, ok)
	}
	if _, ok := d.find(addr("target1")); ok {
		t.Errorf("task should no longer be active after stop")
	}
}

func TestDadOutcomeString(t *testing.T) {
	cases := map[DadOutcome]string{DadSucceeded: "Succeeded", DadDuplicate: "Duplicate", DadFailed: "Failed"}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", outcome, got, want)
		}
	}
}
