package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source used by every blocking wait in the orchestrator.
// Components depend on the interface so tests and simulations can substitute
// an accelerated controller for wall-clock time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the current time once d has
	// elapsed.
	After(d time.Duration) <-chan time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime follows the wall clock.
	RealTime Mode = iota
	// Accelerated advances virtual time instantly whenever a caller waits, so
	// a fifteen-minute attach timeout costs nothing in a test.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// TimeController implements Clock for both modes and notifies registered
// listeners each time virtual time advances.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
}

// NewTimeController constructs a controller. start is ignored in RealTime mode.
func NewTimeController(start time.Time, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Mode:        mode,
		currentTime: start,
	}
}

// NewRealTime is shorthand for a wall-clock controller.
func NewRealTime() *TimeController {
	return NewTimeController(time.Now(), RealTime)
}

// Now returns the current time.
func (tc *TimeController) Now() time.Time {
	if tc.Mode == RealTime {
		return time.Now()
	}
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// After implements Clock. In Accelerated mode the returned channel is already
// loaded with the advanced time.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	if tc.Mode == RealTime {
		return time.After(d)
	}
	ch := make(chan time.Time, 1)
	ch <- tc.Advance(d)
	return ch
}

// Sleep implements Clock.
func (tc *TimeController) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	if tc.Mode == Accelerated {
		tc.Advance(d)
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Advance moves virtual time forward by d and runs listeners outside the lock.
// It is a no-op returning the wall time in RealTime mode.
func (tc *TimeController) Advance(d time.Duration) time.Time {
	if tc.Mode == RealTime {
		return time.Now()
	}
	if d < 0 {
		d = 0
	}

	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(d)
	now := tc.currentTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// SetTime jumps virtual time to t without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// AddListener registers a callback invoked after every virtual-time advance.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}
