// Package recovery implements the escalating remediation ladder run when the
// device enters the error state.
package recovery

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/ntn-orchestrator/internal/config"
	"github.com/signalsfoundry/ntn-orchestrator/internal/event"
	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/internal/modem"
	"github.com/signalsfoundry/ntn-orchestrator/internal/observability"
	"github.com/signalsfoundry/ntn-orchestrator/model"
	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

// MaxAttempts is the number of remediation runs allowed between successful
// registrations. The run after the last one reports Exhausted and resets the
// counter.
const MaxAttempts = 3

// Tier is the remediation strength.
type Tier int

const (
	TierNone Tier = iota
	TierSoft
	TierHard
	TierFull
)

func (t Tier) String() string {
	switch t {
	case TierSoft:
		return "soft"
	case TierHard:
		return "hard"
	case TierFull:
		return "full"
	default:
		return "none"
	}
}

// TierFor maps the attempt number (after incrementing) to a tier.
func TierFor(attempt int) Tier {
	switch {
	case attempt <= 1:
		return TierSoft
	case attempt == 2:
		return TierHard
	default:
		return TierFull
	}
}

// Result is how a remediation run ended.
type Result int

const (
	// Recovered means the device can resume from its last good state.
	Recovered Result = iota
	// Deferred means the tier failed; the device should cool down in Idle.
	Deferred
	// Exhausted means the ladder ran out; the device returns to Idle.
	Exhausted
)

func (r Result) String() string {
	switch r {
	case Recovered:
		return "recovered"
	case Deferred:
		return "deferred"
	default:
		return "exhausted"
	}
}

// Outcome reports one Recover call. Resume is only meaningful when Result is
// Recovered.
type Outcome struct {
	Tier   Tier
	Result Result
	Resume model.DeviceState
	Err    error
}

// Manager runs the remediation ladder.
type Manager struct {
	configurator *modem.Configurator
	clock        timectrl.Clock
	timing       config.Timing
	feed         func()
	metrics      *observability.ConnectivityCollector
	log          logging.Logger
}

// NewManager returns a Manager.
func NewManager(configurator *modem.Configurator, clock timectrl.Clock, timing config.Timing, feed func(),
	metrics *observability.ConnectivityCollector, log logging.Logger) *Manager {
	if log == nil {
		log = logging.Noop()
	}
	return &Manager{
		configurator: configurator,
		clock:        clock,
		timing:       timing,
		feed:         feed,
		metrics:      metrics,
		log:          log.With(logging.String("component", "recovery")),
	}
}

// Recover runs the tier selected by dc.Recovery.Attempts:
//
//	attempts > MaxAttempts  exhausted, counter reset to 0
//	1st run                 soft: radio offline, short pause
//	2nd run                 hard: modem reinitialised, full radio configuration reapplied
//	3rd run onwards         full: context reset to defaults, radio configuration reapplied
//
// A failed hard or full tier is Deferred.
func (m *Manager) Recover(ctx context.Context, dc *model.DeviceContext, faulted model.DeviceState) Outcome {
	book := &dc.Recovery
	if book.Attempts > MaxAttempts {
		book.Attempts = 0
		m.metrics.ObserveRecovery(TierNone.String(), Exhausted.String())
		m.log.Error(ctx, "remediation exhausted, returning to idle",
			logging.String("faulted", faulted.String()),
			logging.Err(model.ErrRemediationExhausted))
		return Outcome{Tier: TierNone, Result: Exhausted, Err: model.ErrRemediationExhausted}
	}

	book.Attempts++
	book.LastRecoveryTime = m.clock.Now()
	tier := TierFor(book.Attempts)
	m.log.Info(ctx, "remediation started",
		logging.String("tier", tier.String()),
		logging.Int("attempt", book.Attempts),
		logging.String("faulted", faulted.String()))

	var err error
	switch tier {
	case TierSoft:
		err = m.soft(ctx)
	case TierHard:
		err = m.hard(ctx, dc)
	default:
		err = m.full(ctx, dc)
	}

	out := Outcome{Tier: tier, Err: err}
	if err != nil {
		out.Result = Deferred
		m.log.Warn(ctx, "remediation failed, deferring",
			logging.String("tier", tier.String()), logging.Err(err))
	} else {
		out.Result = Recovered
		out.Resume = resumeState(book.LastGoodState, tier)
		m.log.Info(ctx, "remediation succeeded",
			logging.String("tier", tier.String()),
			logging.String("resume", out.Resume.String()))
	}
	m.metrics.ObserveRecovery(tier.String(), out.Result.String())
	return out
}

// resumeState is the state to return to after a successful run. A full
// reset restarts any attach sequence from phase 1; fault states are never
// resumed.
func resumeState(lastGood model.DeviceState, tier Tier) model.DeviceState {
	if lastGood.IsFault() {
		return model.Idle()
	}
	if tier == TierFull && lastGood.Kind == model.StateAttaching {
		return model.Attaching(model.Phase1)
	}
	return lastGood
}

func (m *Manager) soft(ctx context.Context) error {
	if _, err := m.configurator.Radio().Execute(ctx, modem.RadioOffline()); err != nil {
		m.log.Warn(ctx, "radio offline failed during soft remediation", logging.Err(err))
	}
	return event.Sleep(ctx, m.clock, m.timing.SoftPause, m.timing.FeedInterval, m.feed)
}

func (m *Manager) hard(ctx context.Context, dc *model.DeviceContext) error {
	if _, err := m.configurator.Radio().Execute(ctx, modem.RadioPowerOff()); err != nil {
		m.log.Warn(ctx, "modem power-off failed during hard remediation", logging.Err(err))
	}
	if err := event.Sleep(ctx, m.clock, m.timing.HardPause, m.timing.FeedInterval, m.feed); err != nil {
		return err
	}
	if err := m.configurator.Reapply(ctx, dc.Position()); err != nil {
		return fmt.Errorf("hard remediation: %w", err)
	}
	return nil
}

func (m *Manager) full(ctx context.Context, dc *model.DeviceContext) error {
	dc.ResetConfiguration()
	if err := m.configurator.Reapply(ctx, dc.Position()); err != nil {
		return fmt.Errorf("full remediation: %w", err)
	}
	return nil
}
