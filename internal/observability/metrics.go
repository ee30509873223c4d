package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ConnectivityCollector bundles the Prometheus metrics of the connectivity
// core. All methods are safe on a nil receiver so components can run without
// metrics.
type ConnectivityCollector struct {
	gatherer prometheus.Gatherer

	StateTransitions *prometheus.CounterVec
	CurrentState     *prometheus.GaugeVec
	AttachAttempts   *prometheus.CounterVec
	AttachWait       *prometheus.HistogramVec
	SendAttempts     *prometheus.CounterVec
	Recoveries       *prometheus.CounterVec

	ElementFailures prometheus.Gauge
	ElementInterval prometheus.Gauge
	WatchdogFeeds   prometheus.Counter
}

// NewConnectivityCollector registers the connectivity metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewConnectivityCollector(reg prometheus.Registerer) (*ConnectivityCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ntn_state_transitions_total",
		Help: "State machine transitions, labeled by previous and next state.",
	}, []string{"from", "to"}), "ntn_state_transitions_total")
	if err != nil {
		return nil, err
	}

	current, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ntn_current_state",
		Help: "1 for the state the device is currently in, 0 otherwise.",
	}, []string{"state"}), "ntn_current_state")
	if err != nil {
		return nil, err
	}

	attempts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ntn_attach_attempts_total",
		Help: "Network attach attempts, labeled by attachment phase and result.",
	}, []string{"phase", "result"}), "ntn_attach_attempts_total")
	if err != nil {
		return nil, err
	}

	wait, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ntn_attach_wait_seconds",
		Help:    "Time spent waiting for network registration per attach attempt.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
	}, []string{"phase"}), "ntn_attach_wait_seconds")
	if err != nil {
		return nil, err
	}

	sends, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ntn_telemetry_send_attempts_total",
		Help: "Telemetry datagram send attempts, labeled by result.",
	}, []string{"result"}), "ntn_telemetry_send_attempts_total")
	if err != nil {
		return nil, err
	}

	recoveries, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ntn_recovery_total",
		Help: "Remediation runs, labeled by tier and result.",
	}, []string{"tier", "result"}), "ntn_recovery_total")
	if err != nil {
		return nil, err
	}

	failures, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ntn_tle_consecutive_failures",
		Help: "Consecutive orbital-element refreshes that found an invalid slot.",
	}), "ntn_tle_consecutive_failures")
	if err != nil {
		return nil, err
	}

	interval, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ntn_tle_refresh_interval_hours",
		Help: "Current orbital-element refresh interval in hours.",
	}), "ntn_tle_refresh_interval_hours")
	if err != nil {
		return nil, err
	}

	feeds, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ntn_watchdog_feeds_total",
		Help: "Watchdog feeds issued by the control loop.",
	}), "ntn_watchdog_feeds_total")
	if err != nil {
		return nil, err
	}

	return &ConnectivityCollector{
		gatherer:         gatherer,
		StateTransitions: transitions,
		CurrentState:     current,
		AttachAttempts:   attempts,
		AttachWait:       wait,
		SendAttempts:     sends,
		Recoveries:       recoveries,
		ElementFailures:  failures,
		ElementInterval:  interval,
		WatchdogFeeds:    feeds,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ConnectivityCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ConnectivityCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTransition counts a state change and moves the current-state gauge.
func (c *ConnectivityCollector) ObserveTransition(from, to string) {
	if c == nil {
		return
	}
	if c.StateTransitions != nil {
		c.StateTransitions.WithLabelValues(from, to).Inc()
	}
	if c.CurrentState != nil {
		c.CurrentState.WithLabelValues(from).Set(0)
		c.CurrentState.WithLabelValues(to).Set(1)
	}
}

// ObserveAttach records one attach attempt and how long it waited.
func (c *ConnectivityCollector) ObserveAttach(phase, result string, waited time.Duration) {
	if c == nil {
		return
	}
	if c.AttachAttempts != nil {
		c.AttachAttempts.WithLabelValues(phase, result).Inc()
	}
	if c.AttachWait != nil {
		c.AttachWait.WithLabelValues(phase).Observe(waited.Seconds())
	}
}

// ObserveSendAttempt records one telemetry send attempt.
func (c *ConnectivityCollector) ObserveSendAttempt(result string) {
	if c == nil || c.SendAttempts == nil {
		return
	}
	c.SendAttempts.WithLabelValues(result).Inc()
}

// ObserveRecovery records one remediation run.
func (c *ConnectivityCollector) ObserveRecovery(tier, result string) {
	if c == nil || c.Recoveries == nil {
		return
	}
	c.Recoveries.WithLabelValues(tier, result).Inc()
}

// SetElementRefresh publishes the orbital-element refresh bookkeeping.
func (c *ConnectivityCollector) SetElementRefresh(consecutiveFailures, intervalHours int) {
	if c == nil {
		return
	}
	if c.ElementFailures != nil {
		c.ElementFailures.Set(float64(consecutiveFailures))
	}
	if c.ElementInterval != nil {
		c.ElementInterval.Set(float64(intervalHours))
	}
}

// IncWatchdogFeeds counts one watchdog feed.
func (c *ConnectivityCollector) IncWatchdogFeeds() {
	if c == nil || c.WatchdogFeeds == nil {
		return
	}
	c.WatchdogFeeds.Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
