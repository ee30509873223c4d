package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/model"
	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

// Software is an in-process watchdog measured on a timectrl.Clock. It does
// not reset anything; a feed that arrives later than the window after the
// previous one is counted as a bite and logged.
type Software struct {
	clock timectrl.Clock
	log   logging.Logger

	mu        sync.Mutex
	window    time.Duration
	installed bool
	lastFeed  time.Time
	feeds     int
	bites     int
	worstGap  time.Duration
}

// NewSoftware returns an uninstalled software watchdog.
func NewSoftware(clock timectrl.Clock, log logging.Logger) *Software {
	if log == nil {
		log = logging.Noop()
	}
	return &Software{clock: clock, log: log.With(logging.String("component", "watchdog"))}
}

func (w *Software) Install(window time.Duration) error {
	if window <= 0 {
		return fmt.Errorf("%w: window must be positive", model.ErrWatchdogUnavailable)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.installed {
		return nil
	}
	w.window = window
	w.installed = true
	w.lastFeed = w.clock.Now()
	return nil
}

func (w *Software) Feed() error {
	now := w.clock.Now()
	w.mu.Lock()
	if !w.installed {
		w.mu.Unlock()
		return fmt.Errorf("%w: feed before install", model.ErrWatchdogUnavailable)
	}
	gap := now.Sub(w.lastFeed)
	w.lastFeed = now
	w.feeds++
	if gap > w.worstGap {
		w.worstGap = gap
	}
	bitten := gap > w.window
	if bitten {
		w.bites++
	}
	window := w.window
	w.mu.Unlock()

	if bitten {
		w.log.Error(context.Background(), "watchdog window exceeded",
			logging.Duration("gap", gap), logging.Duration("window", window))
	}
	return nil
}

// Bites is the number of feeds that arrived after the window had expired.
func (w *Software) Bites() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bites
}

// Feeds is the number of successful feeds.
func (w *Software) Feeds() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.feeds
}

// WorstGap is the longest interval seen between two feeds.
func (w *Software) WorstGap() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.worstGap
}
