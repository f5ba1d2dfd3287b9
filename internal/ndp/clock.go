package ndp

import (
	"sync"
	"time"
)

// RealTimerService is a TimerService backed by time.AfterFunc. It is the
// production default; tests use ManualClock instead so that timing-sensitive
// scenarios (retransmit counts, lifetime expiry) are deterministic, in the
// same spirit as the teacher's use of gvisor's faketime.ManualClock.
type RealTimerService struct{}

type realTimerHandle struct {
	mu    sync.Mutex
	timer *time.Timer
}

// Get implements TimerService.
func (RealTimerService) Get(callback func(arg interface{}), arg interface{}, d time.Duration) (TimerHandle, error) {
	h := &realTimerHandle{}
	h.timer = time.AfterFunc(d, func() { callback(arg) })
	return h, nil
}

// Set implements TimerService.
func (RealTimerService) Set(handle TimerHandle, callback func(arg interface{}), d time.Duration) error {
	h, ok := handle.(*realTimerHandle)
	if !ok {
		return errf(ErrInvalidArgument, "not a RealTimerService handle")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timer.Stop()
	h.timer = time.AfterFunc(d, func() { callback(nil) })
	return nil
}

// Free implements TimerService.
func (RealTimerService) Free(handle TimerHandle) {
	h, ok := handle.(*realTimerHandle)
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timer.Stop()
}

// ManualClock is a TimerService whose timers only fire when Advance is
// called, letting tests deterministically exercise retransmit counts and
// lifetime expiries without sleeping. Its methods are guarded by an internal
// mutex, so Get/Set/Free may be called from another goroutine while a test
// drives Advance; Advance releases that mutex while each callback runs.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Duration
	pending []*manualTimer
	nextID  int
}

type manualTimer struct {
	id       int
	deadline time.Duration
	callback func(arg interface{})
	arg      interface{}
	live     bool
}

// NewManualClock returns a ManualClock starting at time zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// Get implements TimerService.
func (m *ManualClock) Get(callback func(arg interface{}), arg interface{}, d time.Duration) (TimerHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &manualTimer{id: m.nextID, deadline: m.now + d, callback: callback, arg: arg, live: true}
	m.pending = append(m.pending, t)
	return t, nil
}

// Set implements TimerService.
func (m *ManualClock) Set(handle TimerHandle, callback func(arg interface{}), d time.Duration) error {
	t, ok := handle.(*manualTimer)
	if !ok {
		return errf(ErrInvalidArgument, "not a ManualClock handle")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t.deadline = m.now + d
	t.callback = callback
	t.live = true
	return nil
}

// Free implements TimerService.
func (m *ManualClock) Free(handle TimerHandle) {
	t, ok := handle.(*manualTimer)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t.live = false
}

// Advance moves the clock forward by d, synchronously firing (in deadline
// order) every timer whose deadline is now due. Callbacks run on the calling
// goroutine. The engine's timer callbacks acquire Engine.mu themselves, so
// callers must not hold Engine.mu while calling Advance.
func (m *ManualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	now := m.now
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var due *manualTimer
		dueIdx := -1
		for i, t := range m.pending {
			if t.live && t.deadline <= now {
				if due == nil || t.deadline < due.deadline {
					due = t
					dueIdx = i
				}
			}
		}
		if due != nil {
			due.live = false
			m.pending = append(m.pending[:dueIdx], m.pending[dueIdx+1:]...)
		}
		m.mu.Unlock()

		if due == nil {
			return
		}
		due.callback(due.arg)
	}
}

// Now returns the ManualClock's current simulated time, for assertions.
func (m *ManualClock) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}
