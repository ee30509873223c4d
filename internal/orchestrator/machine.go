// Package orchestrator runs the device's connectivity state machine: sleep
// until the next predicted pass, acquire a fix, attach in two phases, send
// one telemetry record, then take the radio offline again. Faults go through
// an escalating remediation ladder.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/ntn-orchestrator/internal/attach"
	"github.com/signalsfoundry/ntn-orchestrator/internal/config"
	"github.com/signalsfoundry/ntn-orchestrator/internal/event"
	"github.com/signalsfoundry/ntn-orchestrator/internal/gnss"
	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/internal/modem"
	"github.com/signalsfoundry/ntn-orchestrator/internal/observability"
	"github.com/signalsfoundry/ntn-orchestrator/internal/predictor"
	"github.com/signalsfoundry/ntn-orchestrator/internal/recovery"
	"github.com/signalsfoundry/ntn-orchestrator/internal/telemetry"
	"github.com/signalsfoundry/ntn-orchestrator/internal/tle"
	"github.com/signalsfoundry/ntn-orchestrator/internal/transport"
	"github.com/signalsfoundry/ntn-orchestrator/internal/watchdog"
	"github.com/signalsfoundry/ntn-orchestrator/model"
	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

const payloadBufferSize = 256

// Deps are the collaborators of an Orchestrator. Radio, Receiver, Clock and
// Watchdog are required.
type Deps struct {
	Config   config.Config
	Clock    timectrl.Clock
	Radio    modem.Radio
	Receiver gnss.Receiver
	Dialer   transport.Dialer
	Watchdog watchdog.Watchdog
	Metrics  *observability.ConnectivityCollector
	Log      logging.Logger
}

// Orchestrator owns the device context and drives every component from a
// single goroutine.
type Orchestrator struct {
	cfg      config.Config
	clock    timectrl.Clock
	receiver gnss.Receiver
	wd       watchdog.Watchdog
	metrics  *observability.ConnectivityCollector
	log      logging.Logger
	stats    *Stats

	configurator *modem.Configurator
	attach       *attach.Manager
	recovery     *recovery.Manager
	elements     *tle.Manager
	predictor    *predictor.Predictor
	formatter    *telemetry.Formatter
	sender       *telemetry.Sender

	dc      *model.DeviceContext
	state   model.DeviceState
	faulted model.DeviceState
	cycleID string

	fixes      *event.Slot[model.Position]
	pendingFix model.Position
}

// New wires the components around a fresh device context.
func New(d Deps) (*Orchestrator, error) {
	if d.Radio == nil || d.Receiver == nil || d.Clock == nil || d.Watchdog == nil {
		return nil, fmt.Errorf("orchestrator: radio, receiver, clock and watchdog are required: %w", model.ErrInvalidArgument)
	}
	cfg := d.Config.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	log := d.Log
	if log == nil {
		log = logging.Noop()
	}

	o := &Orchestrator{
		cfg:      cfg,
		clock:    d.Clock,
		receiver: d.Receiver,
		wd:       d.Watchdog,
		metrics:  d.Metrics,
		log:      log.With(logging.String("component", "orchestrator")),
		stats:    NewStats(),
		dc:       model.NewDeviceContext(cfg.ContextDefaults()),
		state:    model.Init(),
		fixes:    event.NewSlot[model.Position](),
	}

	t := cfg.Timing
	o.configurator = modem.NewConfigurator(d.Radio, cfg, log)
	o.attach = attach.NewManager(o.configurator, d.Clock, t, o.feed, d.Metrics, log)
	o.recovery = recovery.NewManager(o.configurator, d.Clock, t, o.feed, d.Metrics, log)
	o.elements = tle.NewManager(log, d.Metrics)
	o.predictor = predictor.New(cfg.Predictor, log)
	o.formatter = telemetry.NewFormatter(cfg.Radio.NetworkTag, log)
	o.sender = telemetry.NewSender(d.Dialer, d.Clock, t, o.feed, d.Metrics, log)

	d.Receiver.OnFix(func(pos model.Position) {
		if pos.Valid {
			o.fixes.Give(pos)
		}
	})
	o.stats.publish(o.state, o.dc, "", d.Clock.Now())
	return o, nil
}

// NotifyRegistration forwards a registration report from the radio. Safe to
// call from any goroutine.
func (o *Orchestrator) NotifyRegistration(status modem.RegistrationStatus) {
	o.attach.NotifyRegistration(status)
}

// State is the current state. Only meaningful on the orchestrator goroutine.
func (o *Orchestrator) State() model.DeviceState { return o.state }

// Context is the device context. Only meaningful on the orchestrator goroutine.
func (o *Orchestrator) Context() *model.DeviceContext { return o.dc }

// Stats exposes counters and the last published device view.
func (o *Orchestrator) Stats() *Stats { return o.stats }

// Start installs the watchdog. Any error wraps model.ErrWatchdogUnavailable.
func (o *Orchestrator) Start() error {
	if err := o.wd.Install(o.cfg.Watchdog.Window); err != nil {
		if !errors.Is(err, model.ErrWatchdogUnavailable) {
			err = fmt.Errorf("%w: %v", model.ErrWatchdogUnavailable, err)
		}
		o.log.Error(context.Background(), "watchdog installation failed", logging.Err(err))
		return err
	}
	o.log.Info(context.Background(), "watchdog installed", logging.Duration("window", o.cfg.Watchdog.Window))
	return nil
}

// Run installs the watchdog and loops until ctx is done. It only returns an
// error when the watchdog cannot be installed.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(); err != nil {
		return err
	}
	for ctx.Err() == nil {
		o.Step(ctx)
		if err := o.clock.Sleep(ctx, o.cfg.Timing.LoopYield); err != nil {
			break
		}
	}
	o.log.Info(context.Background(), "orchestrator stopped", logging.String("state", o.state.String()))
	return nil
}

// Step runs one loop iteration: feed the watchdog, run the current state's
// handler and apply at most one transition.
func (o *Orchestrator) Step(ctx context.Context) {
	o.feed()
	if o.cycleID != "" {
		ctx = logging.WithCycleID(ctx, o.cycleID)
	}

	from := o.state
	spanCtx, span := observability.StartSpan(ctx, "ntn/"+from.Kind.String(),
		attribute.String("ntn.state", from.String()))
	ev := o.dispatch(spanCtx)
	span.SetAttributes(attribute.String("ntn.event", ev.Kind.String()))

	var stepErr error
	if next, effects, ok := Transition(from, ev); ok {
		for _, eff := range effects {
			o.apply(spanCtx, eff)
		}
		o.setState(spanCtx, next)
		if next.Kind == model.StateError {
			stepErr = fmt.Errorf("%s: %s", from, ev.Kind)
		}
	}
	observability.EndSpan(span, stepErr)
	o.stats.publish(o.state, o.dc, o.cycleID, o.clock.Now())
}

func (o *Orchestrator) dispatch(ctx context.Context) Event {
	switch o.state.Kind {
	case model.StateInit:
		return o.handleInit(ctx)
	case model.StateIdle:
		return o.handleIdle(ctx)
	case model.StateRefreshingElements:
		return o.handleRefresh(ctx)
	case model.StateAcquiringFix:
		return o.handleAcquiringFix(ctx)
	case model.StateAttaching:
		return o.handleAttaching(ctx, o.state.Phase)
	case model.StateSending:
		return o.handleSending(ctx)
	case model.StateError:
		return o.handleError(ctx)
	case model.StateRecovering:
		return o.handleRecovering(ctx)
	default:
		return on(EventNone)
	}
}

func (o *Orchestrator) handleInit(ctx context.Context) Event {
	if err := o.configurator.Initialise(ctx); err != nil {
		o.log.Error(ctx, "radio initialisation failed", logging.Err(err))
		return on(EventStartupFailed)
	}
	if err := o.receiver.Start(ctx); err != nil {
		o.log.Error(ctx, "positioning receiver start failed", logging.Err(err))
		return on(EventStartupFailed)
	}
	if err := o.configurator.PowerSaving(ctx); err != nil {
		o.log.Error(ctx, "power management configuration failed", logging.Err(err))
		return on(EventStartupFailed)
	}
	o.log.Info(ctx, "startup complete",
		logging.String("integration_phase", string(o.cfg.Phase)),
		logging.String("server", transport.Address(o.dc.Server.Host, o.dc.Server.Port)))
	return on(EventStartupOK)
}

func (o *Orchestrator) handleIdle(ctx context.Context) Event {
	now := o.clock.Now()
	if o.elements.Due(o.dc, now) {
		return on(EventElementsStale)
	}

	wait := o.cfg.Timing.IdleRetryDelay
	switch {
	case o.cfg.Phase == config.PhaseTN:
		wait = o.cfg.Timing.TerrestrialIdleDelay
	case o.dc.HasValidPosition():
		pass, err := o.predictor.Predict(ctx, now, o.dc)
		if err != nil {
			o.log.Warn(ctx, "pass prediction failed", logging.Err(err))
			break
		}
		wait = pass.StartTime.Sub(now)
		if wait > o.cfg.Timing.MaxIdleSleep {
			wait = o.cfg.Timing.MaxIdleSleep
		}
	default:
		o.log.Debug(ctx, "no position yet, skipping pass prediction")
	}

	o.log.Debug(ctx, "idle", logging.Duration("sleep", wait))
	if err := event.Sleep(ctx, o.clock, wait, o.cfg.Timing.FeedInterval, o.feed); err != nil {
		return on(EventNone)
	}
	return on(EventIdleElapsed)
}

func (o *Orchestrator) handleRefresh(ctx context.Context) Event {
	o.elements.MaybeRefresh(ctx, o.dc, o.clock.Now())
	return on(EventRefreshed)
}

func (o *Orchestrator) handleAcquiringFix(ctx context.Context) Event {
	o.fixes.Reset()
	pos, ok := o.fixes.Wait(ctx, o.clock, o.cfg.Timing.FixTimeout, o.cfg.Timing.FeedInterval, o.feed)
	if ctx.Err() != nil {
		return on(EventNone)
	}
	if ok {
		o.pendingFix = pos
		o.log.Info(ctx, "position fix acquired",
			logging.Float("lat", pos.Latitude),
			logging.Float("lon", pos.Longitude),
			logging.Int("satellites", pos.Satellites))
		return on(EventFixAcquired)
	}
	if o.dc.HasValidPosition() {
		o.log.Warn(ctx, "fix timed out, attaching with last known position",
			logging.Duration("timeout", o.cfg.Timing.FixTimeout))
		return on(EventFixTimeoutLastPosition)
	}
	o.log.Warn(ctx, "fix timed out without any known position",
		logging.Duration("timeout", o.cfg.Timing.FixTimeout), logging.Err(model.ErrNoPositionFix))
	return on(EventFixTimeoutNoPosition)
}

func (o *Orchestrator) handleAttaching(ctx context.Context, phase model.AttachmentPhase) Event {
	if err := o.attach.BeginPhase(ctx, o.dc, phase); err != nil {
		if errors.Is(err, model.ErrConfigurationFailure) {
			o.log.Error(ctx, "pre-attach configuration failed", logging.Err(err))
			return on(EventConfigFailed)
		}
		return on(EventNone)
	}
	if o.attach.Await(ctx, o.dc, phase) {
		o.stats.IncRegistrations()
		return on(EventRegistered)
	}
	if ctx.Err() != nil {
		return on(EventNone)
	}
	o.stats.IncAttachTimeouts()
	return on(EventAttachTimeout)
}

func (o *Orchestrator) handleSending(ctx context.Context) Event {
	defer func() { o.dc.Connectivity.CyclesCompleted++ }()

	buf := make([]byte, payloadBufferSize)
	n, err := o.formatter.Format(ctx, o.dc, o.clock.Now(), buf)
	if err != nil {
		o.log.Error(ctx, "telemetry formatting failed", logging.Err(err))
		o.stats.IncDeliveryFailures()
		return on(EventSendComplete)
	}
	if err := o.sender.Send(ctx, o.dc.Server, buf[:n]); err != nil {
		o.log.Error(ctx, "telemetry not delivered", logging.Err(err))
		o.stats.IncDeliveryFailures()
		return on(EventSendComplete)
	}
	o.stats.IncDelivered()
	return on(EventSendComplete)
}

func (o *Orchestrator) handleError(ctx context.Context) Event {
	o.log.Warn(ctx, "fault detected, starting remediation",
		logging.String("faulted", o.faulted.String()),
		logging.Int("attempts", o.dc.Recovery.Attempts))
	return on(EventFaultAcknowledged)
}

func (o *Orchestrator) handleRecovering(ctx context.Context) Event {
	out := o.recovery.Recover(ctx, o.dc, o.faulted)
	o.stats.IncRemediations()
	switch out.Result {
	case recovery.Recovered:
		return Recovered(out.Resume)
	case recovery.Deferred:
		return on(EventDeferred)
	default:
		return on(EventExhausted)
	}
}

func (o *Orchestrator) apply(ctx context.Context, eff Effect) {
	switch eff {
	case EffectRadioOffline:
		o.attach.TakeOffline(ctx, o.dc)
	case EffectResetRecoveryAttempts:
		o.dc.Recovery.Attempts = 0
	case EffectApplyFix:
		o.dc.SetPosition(o.pendingFix)
	case EffectCooldown:
		o.log.Info(ctx, "remediation cooldown", logging.Duration("duration", o.cfg.Timing.RecoveryCooldown))
		_ = event.Sleep(ctx, o.clock, o.cfg.Timing.RecoveryCooldown, o.cfg.Timing.FeedInterval, o.feed)
	}
}

// setState records a transition. Re-entering the current state is not a
// transition and leaves no trace.
func (o *Orchestrator) setState(ctx context.Context, next model.DeviceState) {
	prev := o.state
	if next == prev {
		return
	}
	o.state = next

	if next.IsFault() {
		if next.Kind == model.StateError {
			o.faulted = prev
		}
	} else {
		o.dc.Recovery.LastGoodState = next
	}

	switch {
	case next.Kind == model.StateIdle:
		o.cycleID = ""
	case prev.Kind == model.StateIdle || o.cycleID == "":
		_, o.cycleID = logging.NewCycleContext(ctx)
		ctx = logging.WithCycleID(ctx, o.cycleID)
	}

	o.log.Info(ctx, "state transition",
		logging.String("previous", prev.String()),
		logging.String("next", next.String()))
	o.metrics.ObserveTransition(prev.String(), next.String())
	o.stats.IncTransitions()
}

func (o *Orchestrator) feed() {
	if err := o.wd.Feed(); err != nil {
		o.log.Warn(context.Background(), "watchdog feed failed", logging.Err(err))
		return
	}
	o.metrics.IncWatchdogFeeds()
}
