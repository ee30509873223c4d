package model

import (
	"testing"
	"time"
)

func TestDeviceStateEquality(t *testing.T) {
	if Attaching(Phase1) == Attaching(Phase2) {
		t.Fatalf("attaching phases should differ")
	}
	if Attaching(PhaseNone) != Attaching(Phase1) {
		t.Fatalf("Attaching(PhaseNone) should normalise to phase 1")
	}
	if Idle() != (DeviceState{Kind: StateIdle}) {
		t.Fatalf("Idle() should carry no phase")
	}
}

func TestDeviceStateString(t *testing.T) {
	cases := map[DeviceState]string{
		Init():               "init",
		Attaching(Phase2):    "attaching(phase2)",
		RefreshingElements(): "refreshing_elements",
		Recovering():         "recovering",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}

func TestIsFault(t *testing.T) {
	if !Error().IsFault() || !Recovering().IsFault() {
		t.Fatalf("error and recovering must be fault states")
	}
	if Idle().IsFault() || Attaching(Phase2).IsFault() {
		t.Fatalf("idle and attaching must not be fault states")
	}
}

func TestNewDeviceContextDefaults(t *testing.T) {
	var elements [ConstellationSize]TLERecord
	elements[0] = TLERecord{Name: "SAT_1", Valid: true}

	dc := NewDeviceContext(Defaults{
		Server:               ServerEndpoint{Host: "10.0.0.1", Port: 17777},
		Elements:             elements,
		RefreshIntervalHours: 12,
	})

	if dc.HasValidPosition() {
		t.Fatalf("position should start invalid")
	}
	if !dc.ElementRefresh.Needed {
		t.Fatalf("first refresh should be flagged")
	}
	if dc.ElementRefresh.IntervalHours != 12 || dc.ElementRefresh.BaseIntervalHours != 12 {
		t.Fatalf("interval = %d/%d, want 12/12", dc.ElementRefresh.IntervalHours, dc.ElementRefresh.BaseIntervalHours)
	}
	if dc.Recovery.LastGoodState != Init() {
		t.Fatalf("LastGoodState = %v, want init", dc.Recovery.LastGoodState)
	}
	if dc.Connectivity.Phase != Phase1 {
		t.Fatalf("phase = %v, want phase1", dc.Connectivity.Phase)
	}
}

func TestResetConfigurationKeepsRecoveryBook(t *testing.T) {
	dc := NewDeviceContext(Defaults{Server: ServerEndpoint{Host: "a", Port: 1}})
	dc.SetPosition(Position{Latitude: 41.4, Longitude: 2.1, Valid: true, FixTime: time.Unix(10, 0)})
	dc.Server = ServerEndpoint{Host: "b", Port: 2}
	dc.Elements[1].Valid = true
	dc.ElementRefresh.Needed = false
	dc.Recovery.Attempts = 3
	dc.Connectivity.Phase = Phase2

	dc.ResetConfiguration()

	if dc.HasValidPosition() {
		t.Fatalf("position should be invalid after reset")
	}
	if dc.Server.Host != "a" || dc.Server.Port != 1 {
		t.Fatalf("server = %+v, want defaults", dc.Server)
	}
	if dc.Elements[1].Valid {
		t.Fatalf("elements should be restored from defaults")
	}
	if !dc.ElementRefresh.Needed {
		t.Fatalf("refresh should be flagged after reset")
	}
	if dc.Recovery.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (preserved)", dc.Recovery.Attempts)
	}
	if dc.Connectivity.Phase != Phase1 {
		t.Fatalf("phase = %v, want phase1", dc.Connectivity.Phase)
	}
}
