// Package watchdog supervises the orchestrator loop. The loop installs a
// watchdog once at startup and feeds it on every iteration and between the
// chunks of every long wait.
package watchdog

import "time"

// Watchdog is the supervision contract used by the orchestrator.
type Watchdog interface {
	// Install arms the watchdog with the given window. A failure is fatal
	// to the process and must wrap model.ErrWatchdogUnavailable.
	Install(window time.Duration) error
	// Feed resets the watchdog timer.
	Feed() error
}
