package model

import (
	"sync"
	"time"
)

// ConstellationSize is the number of orbital-element slots, one per
// constellation member.
const ConstellationSize = 4

// Position is the last position reported by the positioning receiver.
type Position struct {
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Satellites int
	FixTime    time.Time
	Valid      bool
}

// ServerEndpoint is the telemetry server address.
type ServerEndpoint struct {
	Host string
	Port int
}

// TLERecord holds one constellation member's orbital elements.
type TLERecord struct {
	Name  string
	Line1 string
	Line2 string
	Epoch time.Time
	Valid bool
}

// ElementRefresh is the orbital-element staleness bookkeeping.
type ElementRefresh struct {
	LastUpdate          time.Time
	IntervalHours       int
	BaseIntervalHours   int
	Needed              bool
	ConsecutiveFailures int
}

// Interval returns the current refresh interval as a duration.
func (r ElementRefresh) Interval() time.Duration {
	return time.Duration(r.IntervalHours) * time.Hour
}

// RecoveryBook is the recovery bookkeeping. Attempts is reset on every
// successful network registration.
type RecoveryBook struct {
	Attempts         int
	LastRecoveryTime time.Time
	LastGoodState    DeviceState
}

// Connectivity is the attach bookkeeping.
type Connectivity struct {
	Phase            AttachmentPhase
	Registered       bool
	LastRegistration time.Time
	CyclesCompleted  int
}

// Defaults are the values a DeviceContext starts from and is reset to by a
// full remediation.
type Defaults struct {
	Server               ServerEndpoint
	Elements             [ConstellationSize]TLERecord
	RefreshIntervalHours int
}

// DeviceContext is the single mutable record shared by the orchestrator and
// its components. It is created once at startup and passed by pointer into
// each component call; components must not keep it between calls.
//
// Position is the only field written from outside the orchestrator goroutine
// and is guarded by mu. Everything else is owned by the orchestrator.
type DeviceContext struct {
	mu       sync.RWMutex
	position Position

	Server         ServerEndpoint
	Elements       [ConstellationSize]TLERecord
	ElementRefresh ElementRefresh
	Recovery       RecoveryBook
	Connectivity   Connectivity

	defaults Defaults
}

// NewDeviceContext builds a context from d. The position starts invalid and
// the first Idle evaluation sees the elements as due for refresh.
func NewDeviceContext(d Defaults) *DeviceContext {
	if d.RefreshIntervalHours <= 0 {
		d.RefreshIntervalHours = 24
	}
	dc := &DeviceContext{defaults: d}
	dc.Server = d.Server
	dc.Elements = d.Elements
	dc.ElementRefresh = ElementRefresh{
		IntervalHours:     d.RefreshIntervalHours,
		BaseIntervalHours: d.RefreshIntervalHours,
		Needed:            true,
	}
	dc.Recovery = RecoveryBook{LastGoodState: Init()}
	dc.Connectivity = Connectivity{Phase: Phase1}
	return dc
}

// Position returns a consistent copy of the current position.
func (dc *DeviceContext) Position() Position {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.position
}

// SetPosition replaces the position as a single unit.
func (dc *DeviceContext) SetPosition(p Position) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.position = p
}

// HasValidPosition reports whether a fix has ever been stored.
func (dc *DeviceContext) HasValidPosition() bool {
	return dc.Position().Valid
}

// ResetConfiguration restores the server endpoint, orbital elements and
// position from the construction defaults and forces an element refresh.
// Recovery bookkeeping is preserved so the remediation ladder keeps its place.
func (dc *DeviceContext) ResetConfiguration() {
	dc.SetPosition(Position{})
	dc.Server = dc.defaults.Server
	dc.Elements = dc.defaults.Elements
	dc.ElementRefresh.BaseIntervalHours = dc.defaults.RefreshIntervalHours
	dc.ElementRefresh.Needed = true
	dc.Connectivity.Phase = Phase1
	dc.Connectivity.Registered = false
}
