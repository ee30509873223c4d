package tle

import (
	"context"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/internal/observability"
	"github.com/signalsfoundry/ntn-orchestrator/model"
)

// backoffThreshold is the number of consecutive failed refreshes after which
// the refresh interval doubles.
const backoffThreshold = 3

// Outcome summarises one MaybeRefresh call.
type Outcome struct {
	Performed           bool
	InvalidSlots        []int
	ConsecutiveFailures int
	IntervalHours       int
}

// Manager keeps the orbital-element cache fresh. There is no remote source;
// a refresh re-validates the cached slots and adjusts the interval.
type Manager struct {
	log     logging.Logger
	metrics *observability.ConnectivityCollector
}

// NewManager returns a Manager. Both arguments may be nil.
func NewManager(log logging.Logger, metrics *observability.ConnectivityCollector) *Manager {
	if log == nil {
		log = logging.Noop()
	}
	return &Manager{log: log.With(logging.String("component", "tle")), metrics: metrics}
}

// Due reports whether a refresh would do work at now.
func (m *Manager) Due(dc *model.DeviceContext, now time.Time) bool {
	r := dc.ElementRefresh
	return r.Needed || now.Sub(r.LastUpdate) >= r.Interval()
}

// MaybeRefresh validates every slot when the cache is due, updating the
// failure count and interval. It never fails; a failed refresh only lengthens
// the interval once failures exceed the threshold.
func (m *Manager) MaybeRefresh(ctx context.Context, dc *model.DeviceContext, now time.Time) Outcome {
	if !m.Due(dc, now) {
		return Outcome{
			ConsecutiveFailures: dc.ElementRefresh.ConsecutiveFailures,
			IntervalHours:       dc.ElementRefresh.IntervalHours,
		}
	}

	var invalid []int
	for i := range dc.Elements {
		rec := &dc.Elements[i]
		if !rec.Valid {
			invalid = append(invalid, i)
			continue
		}
		epoch, err := Validate(*rec)
		if err != nil {
			m.log.Warn(ctx, "orbital elements rejected",
				logging.String("satellite", rec.Name), logging.Err(err))
			rec.Valid = false
			invalid = append(invalid, i)
			continue
		}
		rec.Epoch = epoch
	}

	r := &dc.ElementRefresh
	if len(invalid) > 0 {
		r.ConsecutiveFailures++
	} else {
		r.ConsecutiveFailures = 0
	}
	r.LastUpdate = now
	r.Needed = false
	if r.ConsecutiveFailures > backoffThreshold {
		r.IntervalHours = 2 * r.BaseIntervalHours
	} else {
		r.IntervalHours = r.BaseIntervalHours
	}

	m.metrics.SetElementRefresh(r.ConsecutiveFailures, r.IntervalHours)
	if len(invalid) > 0 {
		m.log.Warn(ctx, "orbital element refresh incomplete",
			logging.Int("invalid_slots", len(invalid)),
			logging.Int("consecutive_failures", r.ConsecutiveFailures),
			logging.Int("interval_hours", r.IntervalHours))
	} else {
		m.log.Info(ctx, "orbital elements refreshed", logging.Int("interval_hours", r.IntervalHours))
	}

	return Outcome{
		Performed:           true,
		InvalidSlots:        invalid,
		ConsecutiveFailures: r.ConsecutiveFailures,
		IntervalHours:       r.IntervalHours,
	}
}
