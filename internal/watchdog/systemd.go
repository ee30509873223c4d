package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/model"
)

// Systemd feeds the service manager's watchdog over the notify socket.
// The unit must set WatchdogSec to exactly the requested window: a shorter
// interval fires between feeds during long attach sequences, a longer one
// resets later than the window promises.
type Systemd struct {
	log      logging.Logger
	interval time.Duration

	// enabled and notify are swapped out in tests.
	enabled func(unset bool) (time.Duration, error)
	notify  func(unset bool, state string) (bool, error)
}

// NewSystemd returns a watchdog bound to the systemd notify socket.
func NewSystemd(log logging.Logger) *Systemd {
	if log == nil {
		log = logging.Noop()
	}
	return &Systemd{
		log:     log.With(logging.String("component", "watchdog")),
		enabled: daemon.SdWatchdogEnabled,
		notify:  daemon.SdNotify,
	}
}

// Install checks that systemd armed a watchdog for this unit with an interval
// equal to window, then reports readiness.
func (s *Systemd) Install(window time.Duration) error {
	interval, err := s.enabled(false)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrWatchdogUnavailable, err)
	}
	if interval == 0 {
		return fmt.Errorf("%w: WATCHDOG_USEC not set for this process", model.ErrWatchdogUnavailable)
	}
	if window <= 0 {
		return fmt.Errorf("%w: window must be positive", model.ErrWatchdogUnavailable)
	}
	if interval < window {
		return fmt.Errorf("%w: systemd interval %s shorter than window %s", model.ErrWatchdogUnavailable, interval, window)
	}
	if interval > window {
		return fmt.Errorf("%w: systemd interval %s exceeds window %s", model.ErrWatchdogUnavailable, interval, window)
	}
	s.interval = interval
	if _, err := s.notify(false, daemon.SdNotifyReady); err != nil {
		s.log.Warn(context.Background(), "sd_notify READY failed", logging.Err(err))
	}
	s.log.Info(context.Background(), "systemd watchdog installed", logging.Duration("interval", interval))
	return nil
}

// Feed sends WATCHDOG=1.
func (s *Systemd) Feed() error {
	sent, err := s.notify(false, daemon.SdNotifyWatchdog)
	if err != nil {
		return fmt.Errorf("watchdog feed: %w", err)
	}
	if !sent {
		return fmt.Errorf("watchdog feed: notify socket not available")
	}
	return nil
}

// Interval is the systemd watchdog interval seen at Install.
func (s *Systemd) Interval() time.Duration { return s.interval }
