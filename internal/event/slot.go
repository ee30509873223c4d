// Package event provides the single-slot signal used to hand asynchronous
// notifications (network registration, positioning fixes) from producer
// goroutines to the control loop.
package event

import (
	"context"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

// Slot holds at most one pending value. Give never blocks; a second Give
// before a Wait overwrites the first. Nothing is queued.
type Slot[T any] struct {
	ch chan T
}

// NewSlot returns an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ch: make(chan T, 1)}
}

// Give stores v, replacing any value not yet taken.
func (s *Slot[T]) Give(v T) {
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// Reset discards any pending value.
func (s *Slot[T]) Reset() {
	select {
	case <-s.ch:
	default:
	}
}

// TryTake returns the pending value without blocking.
func (s *Slot[T]) TryTake() (T, bool) {
	select {
	case v := <-s.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Wait blocks until a value is given, timeout elapses on clock, or ctx is
// done. The wait is split into chunks of at most chunk; onChunk, when
// non-nil, runs after each chunk that ends without a value so callers can
// feed a watchdog during long waits.
func (s *Slot[T]) Wait(ctx context.Context, clock timectrl.Clock, timeout, chunk time.Duration, onChunk func()) (T, bool) {
	var zero T
	if chunk <= 0 || chunk > timeout {
		chunk = timeout
	}
	deadline := clock.Now().Add(timeout)
	for {
		if v, ok := s.TryTake(); ok {
			return v, true
		}
		remaining := deadline.Sub(clock.Now())
		if remaining <= 0 || ctx.Err() != nil {
			return zero, false
		}
		step := chunk
		if remaining < step {
			step = remaining
		}
		select {
		case v := <-s.ch:
			return v, true
		case <-ctx.Done():
			return zero, false
		case <-clock.After(step):
		}
		if onChunk != nil {
			onChunk()
		}
	}
}

// Sleep waits d on clock in chunks of at most chunk, calling onChunk after
// each one. It returns ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, clock timectrl.Clock, d, chunk time.Duration, onChunk func()) error {
	if chunk <= 0 || chunk > d {
		chunk = d
	}
	for d > 0 {
		step := chunk
		if d < step {
			step = d
		}
		if err := clock.Sleep(ctx, step); err != nil {
			return err
		}
		d -= step
		if onChunk != nil {
			onChunk()
		}
	}
	return ctx.Err()
}
