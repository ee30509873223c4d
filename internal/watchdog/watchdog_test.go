package watchdog

import (
	"errors"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/signalsfoundry/ntn-orchestrator/model"
	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

func TestSoftwareCountsLateFeeds(t *testing.T) {
	tc := timectrl.NewTimeController(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), timectrl.Accelerated)
	w := NewSoftware(tc, nil)

	if err := w.Feed(); !errors.Is(err, model.ErrWatchdogUnavailable) {
		t.Fatalf("Feed before Install = %v, want ErrWatchdogUnavailable", err)
	}
	if err := w.Install(60 * time.Second); err != nil {
		t.Fatalf("Install: %v", err)
	}

	tc.Advance(15 * time.Second)
	_ = w.Feed()
	tc.Advance(60 * time.Second)
	_ = w.Feed()
	if w.Bites() != 0 {
		t.Fatalf("bites = %d after on-time feeds, want 0", w.Bites())
	}

	tc.Advance(61 * time.Second)
	_ = w.Feed()
	if w.Bites() != 1 {
		t.Fatalf("bites = %d, want 1", w.Bites())
	}
	if w.Feeds() != 3 || w.WorstGap() != 61*time.Second {
		t.Fatalf("feeds = %d worst = %s", w.Feeds(), w.WorstGap())
	}
}

func TestSoftwareRejectsZeroWindow(t *testing.T) {
	w := NewSoftware(timectrl.NewRealTime(), nil)
	if err := w.Install(0); !errors.Is(err, model.ErrWatchdogUnavailable) {
		t.Fatalf("Install(0) = %v, want ErrWatchdogUnavailable", err)
	}
}

func TestSystemdInstall(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		err      error
		wantErr  bool
	}{
		{name: "armed", interval: 60 * time.Second},
		{name: "not armed", wantErr: true},
		{name: "interval too long", interval: 2 * time.Minute, wantErr: true},
		{name: "interval too short", interval: 10 * time.Second, wantErr: true},
		{name: "interval below feed cadence budget", interval: 30 * time.Second, wantErr: true},
		{name: "env broken", err: errors.New("bad WATCHDOG_USEC"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var states []string
			s := NewSystemd(nil)
			s.enabled = func(bool) (time.Duration, error) { return tt.interval, tt.err }
			s.notify = func(_ bool, state string) (bool, error) {
				states = append(states, state)
				return true, nil
			}

			err := s.Install(60 * time.Second)
			if tt.wantErr {
				if !errors.Is(err, model.ErrWatchdogUnavailable) {
					t.Fatalf("Install = %v, want ErrWatchdogUnavailable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Install: %v", err)
			}
			if err := s.Feed(); err != nil {
				t.Fatalf("Feed: %v", err)
			}
			if len(states) != 2 || states[0] != daemon.SdNotifyReady || states[1] != daemon.SdNotifyWatchdog {
				t.Fatalf("notify states = %v", states)
			}
		})
	}
}

func TestSystemdRejectsShortIntervalBeforeReady(t *testing.T) {
	var states []string
	s := NewSystemd(nil)
	s.enabled = func(bool) (time.Duration, error) { return 10 * time.Second, nil }
	s.notify = func(_ bool, state string) (bool, error) {
		states = append(states, state)
		return true, nil
	}

	if err := s.Install(60 * time.Second); !errors.Is(err, model.ErrWatchdogUnavailable) {
		t.Fatalf("Install = %v, want ErrWatchdogUnavailable", err)
	}
	if len(states) != 0 {
		t.Fatalf("notify states = %v, want none before a usable watchdog", states)
	}
	if s.Interval() != 0 {
		t.Fatalf("Interval = %s, want 0 after rejected install", s.Interval())
	}
}

func TestSystemdFeedWithoutSocket(t *testing.T) {
	s := NewSystemd(nil)
	s.notify = func(bool, string) (bool, error) { return false, nil }
	if err := s.Feed(); err == nil {
		t.Fatalf("Feed should fail when the notify socket is missing")
	}
}
