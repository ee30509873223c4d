package model

import "fmt"

// StateKind enumerates the orchestrator states.
type StateKind int

const (
	StateInit StateKind = iota
	StateAcquiringFix
	StateIdle
	StateAttaching
	StateSending
	StateError
	StateRecovering
	StateRefreshingElements
)

var stateKindNames = map[StateKind]string{
	StateInit:               "init",
	StateAcquiringFix:       "acquiring_fix",
	StateIdle:               "idle",
	StateAttaching:          "attaching",
	StateSending:            "sending",
	StateError:              "error",
	StateRecovering:         "recovering",
	StateRefreshingElements: "refreshing_elements",
}

func (k StateKind) String() string {
	if name, ok := stateKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(k))
}

// AttachmentPhase selects which timeout and which pre-attach radio
// configuration applies to an attach attempt.
type AttachmentPhase int

const (
	// PhaseNone is carried by every state other than Attaching.
	PhaseNone AttachmentPhase = iota
	// Phase1 is expected to be rejected by the network.
	Phase1
	// Phase2 is expected to be accepted.
	Phase2
	// PhaseComplete marks a successful registration.
	PhaseComplete
)

func (p AttachmentPhase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case Phase1:
		return "phase1"
	case Phase2:
		return "phase2"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// DeviceState is the tagged state value. Phase is only meaningful when Kind is
// StateAttaching; the constructors below keep it at PhaseNone otherwise so two
// states compare equal with == exactly when they are the same variant.
type DeviceState struct {
	Kind  StateKind
	Phase AttachmentPhase
}

func Init() DeviceState               { return DeviceState{Kind: StateInit} }
func AcquiringFix() DeviceState       { return DeviceState{Kind: StateAcquiringFix} }
func Idle() DeviceState               { return DeviceState{Kind: StateIdle} }
func Sending() DeviceState            { return DeviceState{Kind: StateSending} }
func Error() DeviceState              { return DeviceState{Kind: StateError} }
func Recovering() DeviceState         { return DeviceState{Kind: StateRecovering} }
func RefreshingElements() DeviceState { return DeviceState{Kind: StateRefreshingElements} }

// Attaching returns the attaching state for phase. Anything other than Phase2
// is normalised to Phase1.
func Attaching(phase AttachmentPhase) DeviceState {
	if phase != Phase2 {
		phase = Phase1
	}
	return DeviceState{Kind: StateAttaching, Phase: phase}
}

// IsFault reports whether s is one of the states that never become the last
// known-good state.
func (s DeviceState) IsFault() bool {
	return s.Kind == StateError || s.Kind == StateRecovering
}

func (s DeviceState) String() string {
	if s.Kind == StateAttaching {
		return fmt.Sprintf("attaching(%s)", s.Phase)
	}
	return s.Kind.String()
}
