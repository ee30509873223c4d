package gnss

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/model"
	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

// FakeReceiver is an in-process Receiver for tests and the -simulate agent,
// driven by a TimeController. While a fix is set it reports that fix on every
// advance of virtual time, the way a real receiver reports once per
// measurement epoch.
type FakeReceiver struct {
	tc *timectrl.TimeController

	mu       sync.Mutex
	fix      model.Position
	hasFix   bool
	onFix    func(model.Position)
	started  bool
	startErr error
}

// NewFakeReceiver returns a FakeReceiver without a fix.
func NewFakeReceiver(tc *timectrl.TimeController) *FakeReceiver {
	return &FakeReceiver{tc: tc}
}

// SetFix makes the receiver report pos from now on.
func (f *FakeReceiver) SetFix(pos model.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pos.Valid = true
	f.fix = pos
	f.hasFix = true
}

// ClearFix stops reporting fixes.
func (f *FakeReceiver) ClearFix() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasFix = false
}

// FailStart makes Start return err.
func (f *FakeReceiver) FailStart(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

// OnFix implements Receiver.
func (f *FakeReceiver) OnFix(fn func(model.Position)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFix = fn
}

// Start implements Receiver.
func (f *FakeReceiver) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if !f.started {
		f.started = true
		f.tc.AddListener(f.tick)
	}
	return nil
}

func (f *FakeReceiver) tick(now time.Time) {
	f.mu.Lock()
	pos, ok, fn := f.fix, f.hasFix, f.onFix
	f.mu.Unlock()
	if !ok || fn == nil {
		return
	}
	pos.FixTime = now
	fn(pos)
}
