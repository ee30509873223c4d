package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/model"
)

// Stats tracks in-memory counters and the last published device view.
// It is the only orchestrator state read from other goroutines.
type Stats struct {
	mu sync.Mutex

	NumTransitions      uint64
	NumRegistrations    uint64
	NumAttachTimeouts   uint64
	NumDelivered        uint64
	NumDeliveryFailures uint64
	NumRemediations     uint64

	device DeviceView
}

// DeviceView is a copy of the device context fields worth exposing.
type DeviceView struct {
	State                string    `json:"state"`
	Phase                string    `json:"phase"`
	Registered           bool      `json:"registered"`
	CyclesCompleted      int       `json:"cycles_completed"`
	RecoveryAttempts     int       `json:"recovery_attempts"`
	ElementFailures      int       `json:"element_consecutive_failures"`
	ElementIntervalHours int       `json:"element_refresh_interval_hours"`
	PositionValid        bool      `json:"position_valid"`
	Latitude             float64   `json:"lat"`
	Longitude            float64   `json:"lon"`
	FixTime              time.Time `json:"fix_time"`
	CycleID              string    `json:"cycle_id,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewStats returns zeroed Stats.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) IncTransitions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NumTransitions++
}

func (s *Stats) IncRegistrations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NumRegistrations++
}

func (s *Stats) IncAttachTimeouts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NumAttachTimeouts++
}

func (s *Stats) IncDelivered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NumDelivered++
}

func (s *Stats) IncDeliveryFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NumDeliveryFailures++
}

func (s *Stats) IncRemediations() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NumRemediations++
}

// publish replaces the device view. Called by the orchestrator goroutine
// only, at the end of every step.
func (s *Stats) publish(state model.DeviceState, dc *model.DeviceContext, cycleID string, now time.Time) {
	pos := dc.Position()
	view := DeviceView{
		State:                state.String(),
		Phase:                dc.Connectivity.Phase.String(),
		Registered:           dc.Connectivity.Registered,
		CyclesCompleted:      dc.Connectivity.CyclesCompleted,
		RecoveryAttempts:     dc.Recovery.Attempts,
		ElementFailures:      dc.ElementRefresh.ConsecutiveFailures,
		ElementIntervalHours: dc.ElementRefresh.IntervalHours,
		PositionValid:        pos.Valid,
		Latitude:             pos.Latitude,
		Longitude:            pos.Longitude,
		FixTime:              pos.FixTime,
		CycleID:              cycleID,
		UpdatedAt:            now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = view
}

// Snapshot is a copy of the current counters and device view.
type Snapshot struct {
	Device              DeviceView `json:"device"`
	NumTransitions      uint64     `json:"transitions"`
	NumRegistrations    uint64     `json:"registrations"`
	NumAttachTimeouts   uint64     `json:"attach_timeouts"`
	NumDelivered        uint64     `json:"delivered"`
	NumDeliveryFailures uint64     `json:"delivery_failures"`
	NumRemediations     uint64     `json:"remediations"`
}

// Snapshot returns a copy of the current values.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Device:              s.device,
		NumTransitions:      s.NumTransitions,
		NumRegistrations:    s.NumRegistrations,
		NumAttachTimeouts:   s.NumAttachTimeouts,
		NumDelivered:        s.NumDelivered,
		NumDeliveryFailures: s.NumDeliveryFailures,
		NumRemediations:     s.NumRemediations,
	}
}

func (s *Stats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf("orchestrator: state=%s transitions=%d registered=%d attach_timeouts=%d delivered=%d delivery_failures=%d remediations=%d",
		snap.Device.State,
		snap.NumTransitions,
		snap.NumRegistrations,
		snap.NumAttachTimeouts,
		snap.NumDelivered,
		snap.NumDeliveryFailures,
		snap.NumRemediations,
	)
}
