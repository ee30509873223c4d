// Package attach runs the two-phase satellite network attach. The first
// attempt is expected to be rejected while the feeder link authenticates the
// device; the second, after a settle delay, is expected to be accepted.
package attach

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/internal/config"
	"github.com/signalsfoundry/ntn-orchestrator/internal/event"
	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/internal/modem"
	"github.com/signalsfoundry/ntn-orchestrator/internal/observability"
	"github.com/signalsfoundry/ntn-orchestrator/model"
	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

// Manager owns the registration signal and the attach sequence.
type Manager struct {
	configurator *modem.Configurator
	clock        timectrl.Clock
	timing       config.Timing
	feed         func()
	metrics      *observability.ConnectivityCollector
	log          logging.Logger

	registered *event.Slot[modem.RegistrationStatus]
	requested  time.Time
}

// NewManager returns a Manager issuing directives through configurator.
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
		log:          log.With(logging.String("component", "attach")),
		registered:   event.NewSlot[modem.RegistrationStatus](),
	}
}

// NotifyRegistration is the radio's registration handler. Only home and
// roaming registrations raise the signal. Safe to call from any goroutine.
func (m *Manager) NotifyRegistration(status modem.RegistrationStatus) {
	if status.Registered() {
		m.registered.Give(status)
	}
}

// Timeout returns the registration wait bound for phase.
func (m *Manager) Timeout(phase model.AttachmentPhase) time.Duration {
	if phase == model.Phase2 {
		return m.timing.Phase2Timeout
	}
	return m.timing.Phase1Timeout
}

// BeginPhase prepares and issues an attach request for phase. Phase 1 first
// applies the NTN pre-configuration and fails with
// model.ErrConfigurationFailure if it is rejected. Phase 2 waits the settle
// delay first. The registration signal is cleared before the request so only
// a registration caused by this request completes the wait.
func (m *Manager) BeginPhase(ctx context.Context, dc *model.DeviceContext, phase model.AttachmentPhase) error {
	dc.Connectivity.Phase = phase
	dc.Connectivity.Registered = false

	switch phase {
	case model.Phase2:
		m.log.Info(ctx, "waiting for feeder link before second attach",
			logging.Duration("settle", m.timing.Phase2Settle))
		if err := event.Sleep(ctx, m.clock, m.timing.Phase2Settle, m.timing.FeedInterval, m.feed); err != nil {
			return err
		}
	default:
		if err := m.configurator.PreAttach(ctx, dc.Position()); err != nil {
			m.metrics.ObserveAttach(phase.String(), "config_failure", 0)
			return err
		}
	}

	m.registered.Reset()
	m.requested = m.clock.Now()
	if _, err := m.configurator.Radio().Execute(ctx, modem.RequestAttach()); err != nil {
		// A rejected request surfaces as a registration timeout.
		m.log.Warn(ctx, "attach request rejected", logging.String("phase", phase.String()), logging.Err(err))
	}
	m.log.Info(ctx, "attach requested",
		logging.String("phase", phase.String()),
		logging.Duration("timeout", m.Timeout(phase)))
	return nil
}

// Await blocks until the network registers the device or the phase timeout
// elapses, feeding the watchdog between chunks. It reports whether the
// device registered.
func (m *Manager) Await(ctx context.Context, dc *model.DeviceContext, phase model.AttachmentPhase) bool {
	status, ok := m.registered.Wait(ctx, m.clock, m.Timeout(phase), m.timing.FeedInterval, m.feed)
	waited := m.clock.Now().Sub(m.requested)
	if !ok {
		m.metrics.ObserveAttach(phase.String(), "timeout", waited)
		m.log.Warn(ctx, "attach timed out",
			logging.String("phase", phase.String()),
			logging.Duration("waited", waited),
			logging.Err(fmt.Errorf("phase %s: %w", phase, model.ErrAttachTimeout)))
		return false
	}

	m.metrics.ObserveAttach(phase.String(), "registered", waited)
	dc.Connectivity.Registered = true
	dc.Connectivity.LastRegistration = m.clock.Now()
	dc.Connectivity.Phase = model.PhaseComplete
	m.log.Info(ctx, "network registered",
		logging.String("phase", phase.String()),
		logging.String("status", status.String()),
		logging.Duration("waited", waited))
	return true
}

// TakeOffline turns the radio off. Failure is logged; the next attach
// sequence reconfigures the radio anyway.
func (m *Manager) TakeOffline(ctx context.Context, dc *model.DeviceContext) {
	dc.Connectivity.Registered = false
	if _, err := m.configurator.Radio().Execute(ctx, modem.RadioOffline()); err != nil {
		m.log.Warn(ctx, "radio offline failed", logging.Err(err))
	}
}
