package orchestrator

import (
	"fmt"

	"github.com/signalsfoundry/ntn-orchestrator/model"
)

// EventKind is what a state handler observed.
type EventKind int

const (
	// EventNone means the handler was interrupted and no transition applies.
	EventNone EventKind = iota
	EventStartupOK
	EventStartupFailed
	EventElementsStale
	EventIdleElapsed
	EventRefreshed
	EventFixAcquired
	EventFixTimeoutLastPosition
	EventFixTimeoutNoPosition
	EventRegistered
	EventAttachTimeout
	EventConfigFailed
	EventSendComplete
	EventFaultAcknowledged
	EventRecovered
	EventExhausted
	EventDeferred
)

var eventNames = map[EventKind]string{
	EventNone:                   "none",
	EventStartupOK:              "startup_ok",
	EventStartupFailed:          "startup_failed",
	EventElementsStale:          "elements_stale",
	EventIdleElapsed:            "idle_elapsed",
	EventRefreshed:              "refreshed",
	EventFixAcquired:            "fix_acquired",
	EventFixTimeoutLastPosition: "fix_timeout_last_position",
	EventFixTimeoutNoPosition:   "fix_timeout_no_position",
	EventRegistered:             "registered",
	EventAttachTimeout:          "attach_timeout",
	EventConfigFailed:           "config_failed",
	EventSendComplete:           "send_complete",
	EventFaultAcknowledged:      "fault_acknowledged",
	EventRecovered:              "recovered",
	EventExhausted:              "exhausted",
	EventDeferred:               "deferred",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a handler result. Resume carries the target state of
// EventRecovered and is ignored otherwise.
type Event struct {
	Kind   EventKind
	Resume model.DeviceState
}

func on(kind EventKind) Event { return Event{Kind: kind} }

// Recovered is the event for a successful remediation resuming at resume.
func Recovered(resume model.DeviceState) Event {
	return Event{Kind: EventRecovered, Resume: resume}
}

// Effect is a side effect executed before entering the next state.
type Effect int

const (
	EffectRadioOffline Effect = iota + 1
	EffectResetRecoveryAttempts
	EffectApplyFix
	EffectCooldown
)

func (e Effect) String() string {
	switch e {
	case EffectRadioOffline:
		return "radio_offline"
	case EffectResetRecoveryAttempts:
		return "reset_recovery_attempts"
	case EffectApplyFix:
		return "apply_fix"
	case EffectCooldown:
		return "cooldown"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

type edgeKey struct {
	from model.DeviceState
	ev   EventKind
}

type edge struct {
	to      model.DeviceState
	effects []Effect
	// resume takes the destination from Event.Resume.
	resume bool
}

var table = map[edgeKey]edge{
	{model.Init(), EventStartupOK}:     {to: model.Idle()},
	{model.Init(), EventStartupFailed}: {to: model.Error()},

	{model.Idle(), EventElementsStale}: {to: model.RefreshingElements()},
	{model.Idle(), EventIdleElapsed}:   {to: model.AcquiringFix()},

	{model.RefreshingElements(), EventRefreshed}: {to: model.AcquiringFix()},

	{model.AcquiringFix(), EventFixAcquired}:            {to: model.Attaching(model.Phase1), effects: []Effect{EffectApplyFix}},
	{model.AcquiringFix(), EventFixTimeoutLastPosition}: {to: model.Attaching(model.Phase1)},
	{model.AcquiringFix(), EventFixTimeoutNoPosition}:   {to: model.Idle()},

	{model.Attaching(model.Phase1), EventRegistered}:    {to: model.Sending(), effects: []Effect{EffectResetRecoveryAttempts}},
	{model.Attaching(model.Phase1), EventAttachTimeout}: {to: model.Attaching(model.Phase2)},
	{model.Attaching(model.Phase1), EventConfigFailed}:  {to: model.Error()},
	{model.Attaching(model.Phase2), EventRegistered}:    {to: model.Sending(), effects: []Effect{EffectResetRecoveryAttempts}},
	{model.Attaching(model.Phase2), EventAttachTimeout}: {to: model.Attaching(model.Phase1), effects: []Effect{EffectRadioOffline}},

	{model.Sending(), EventSendComplete}: {to: model.Idle(), effects: []Effect{EffectRadioOffline}},

	{model.Error(), EventFaultAcknowledged}: {to: model.Recovering()},

	{model.Recovering(), EventRecovered}: {resume: true},
	{model.Recovering(), EventExhausted}: {to: model.Idle()},
	{model.Recovering(), EventDeferred}:  {to: model.Idle(), effects: []Effect{EffectCooldown}},
}

// Transition looks up the edge leaving state on ev. ok is false for pairs
// with no edge; the caller then stays where it is.
func Transition(state model.DeviceState, ev Event) (next model.DeviceState, effects []Effect, ok bool) {
	e, found := table[edgeKey{from: state, ev: ev.Kind}]
	if !found {
		return state, nil, false
	}
	next = e.to
	if e.resume {
		next = ev.Resume
		if next.IsFault() {
			next = model.Idle()
		}
	}
	return next, append([]Effect(nil), e.effects...), true
}
