package orchestrator

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/ntn-orchestrator/internal/config"
	"github.com/signalsfoundry/ntn-orchestrator/internal/gnss"
	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/internal/modem"
	"github.com/signalsfoundry/ntn-orchestrator/internal/observability"
	"github.com/signalsfoundry/ntn-orchestrator/internal/telemetry"
	"github.com/signalsfoundry/ntn-orchestrator/internal/watchdog"
	"github.com/signalsfoundry/ntn-orchestrator/model"
	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

var start = time.Date(2025, time.March, 12, 9, 0, 0, 0, time.UTC)

var barcelona = model.Position{Latitude: 41.387412, Longitude: 2.168601, Altitude: 61.7, Satellites: 8}

type memConn struct {
	net.Conn
	d *memDialer
}

func (c *memConn) Write(b []byte) (int, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.payloads = append(c.d.payloads, append([]byte(nil), b...))
	if c.d.onWrite != nil {
		c.d.onWrite()
	}
	return len(b), nil
}

func (c *memConn) Close() error { return nil }

type memDialer struct {
	mu       sync.Mutex
	addrs    []string
	payloads [][]byte
	onWrite  func()
}

func (d *memDialer) DialContext(_ context.Context, _, addr string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs = append(d.addrs, addr)
	return &memConn{d: d}, nil
}

func (d *memDialer) sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.payloads...)
}

type harness struct {
	tc      *timectrl.TimeController
	radio   *modem.FakeRadio
	gps     *gnss.FakeReceiver
	dialer  *memDialer
	wd      *watchdog.Software
	rec     *logging.Recorder
	metrics *observability.ConnectivityCollector
	o       *Orchestrator
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	metrics, err := observability.NewConnectivityCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	h := &harness{
		tc:      timectrl.NewTimeController(start, timectrl.Accelerated),
		radio:   modem.NewFakeRadio(),
		dialer:  &memDialer{},
		rec:     logging.NewRecorder(),
		metrics: metrics,
	}
	h.gps = gnss.NewFakeReceiver(h.tc)
	h.wd = watchdog.NewSoftware(h.tc, h.rec)
	h.o, err = New(Deps{
		Config:   cfg,
		Clock:    h.tc,
		Radio:    h.radio,
		Receiver: h.gps,
		Dialer:   h.dialer,
		Watchdog: h.wd,
		Metrics:  metrics,
		Log:      h.rec,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.o.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

// registerOn makes the network register the device on the given attach
// requests (1-based). No argument registers on every request.
func (h *harness) registerOn(requests ...int) {
	n := 0
	h.radio.OnDirective(modem.NameRequestAttach, func() {
		n++
		if len(requests) == 0 {
			h.o.NotifyRegistration(modem.RegisteredRoaming)
			return
		}
		for _, r := range requests {
			if r == n {
				h.o.NotifyRegistration(modem.RegisteredHome)
			}
		}
	})
}

// steps runs n steps and returns the state after each.
func (h *harness) steps(n int) []model.DeviceState {
	var out []model.DeviceState
	for i := 0; i < n; i++ {
		h.o.Step(context.Background())
		out = append(out, h.o.State())
	}
	return out
}

func (h *harness) stepUntil(t *testing.T, want model.DeviceState, max int) {
	t.Helper()
	for i := 0; i < max; i++ {
		h.o.Step(context.Background())
		if h.o.State() == want {
			return
		}
	}
	t.Fatalf("state %s not reached within %d steps, at %s", want, max, h.o.State())
}

func (h *harness) assertWatchdogFed(t *testing.T) {
	t.Helper()
	if bites := h.wd.Bites(); bites != 0 {
		t.Fatalf("watchdog starved %d times, worst gap %s", bites, h.wd.WorstGap())
	}
	if gap := h.wd.WorstGap(); gap > config.DefaultTiming().FeedInterval {
		t.Fatalf("worst feed gap %s exceeds feed interval", gap)
	}
}

func assertStates(t *testing.T, got, want []model.DeviceState) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: state = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestHappyCycleSendsOneRecord(t *testing.T) {
	h := newHarness(t, nil)
	h.gps.SetFix(barcelona)
	h.registerOn()

	got := h.steps(6)
	assertStates(t, got, []model.DeviceState{
		model.Idle(),
		model.RefreshingElements(),
		model.AcquiringFix(),
		model.Attaching(model.Phase1),
		model.Sending(),
		model.Idle(),
	})

	sent := h.dialer.sent()
	if len(sent) != 1 {
		t.Fatalf("datagrams = %d, want 1", len(sent))
	}
	rec, err := telemetry.Parse(sent[0])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.Latitude != barcelona.Latitude || rec.Satellites != 8 || rec.Network != "sateliot" {
		t.Fatalf("record = %+v", rec)
	}
	if h.dialer.addrs[0] != "127.0.0.1:17777" {
		t.Fatalf("addr = %s", h.dialer.addrs[0])
	}

	cmds := h.radio.Commands()
	if cmds[len(cmds)-1] != "AT+CFUN=4" {
		t.Fatalf("last directive = %s, want radio offline", cmds[len(cmds)-1])
	}
	dc := h.o.Context()
	if dc.Connectivity.CyclesCompleted != 1 || dc.Recovery.Attempts != 0 {
		t.Fatalf("connectivity = %+v recovery = %+v", dc.Connectivity, dc.Recovery)
	}
	if !dc.Position().Valid {
		t.Fatalf("fix was not applied to the context")
	}
	if got := len(h.rec.Messages("state transition")); got != 6 {
		t.Fatalf("state transition records = %d, want 6", got)
	}
	snap := h.o.Stats().Snapshot()
	if snap.NumDelivered != 1 || snap.NumRegistrations != 1 || snap.Device.State != "idle" {
		t.Fatalf("stats = %s", h.o.Stats())
	}
	h.assertWatchdogFed(t)
}

func TestCycleRecordsShareCycleID(t *testing.T) {
	h := newHarness(t, nil)
	h.gps.SetFix(barcelona)
	h.registerOn()
	h.steps(6)

	transitions := h.rec.Messages("state transition")
	// Init->Idle belongs to no cycle; the rest share the one minted on leaving Idle.
	if _, ok := transitions[0].Fields["cycle_id"]; ok {
		t.Fatalf("startup transition carries a cycle_id")
	}
	id := transitions[1].Fields["cycle_id"]
	if id == nil || id == "" {
		t.Fatalf("cycle start has no cycle_id: %v", transitions[1].Fields)
	}
	for _, r := range transitions[2:] {
		if r.Fields["cycle_id"] != id {
			t.Fatalf("record %v has cycle_id %v, want %v", r.Fields, r.Fields["cycle_id"], id)
		}
	}
}

func TestPhaseOneTimeoutThenPhaseTwoRegisters(t *testing.T) {
	h := newHarness(t, nil)
	h.gps.SetFix(barcelona)
	h.registerOn(2)

	h.stepUntil(t, model.Attaching(model.Phase1), 5)
	h.o.Context().Recovery.Attempts = 2
	before := h.tc.Now()

	assertStates(t, h.steps(1), []model.DeviceState{model.Attaching(model.Phase2)})
	if got := h.o.Context().Recovery.Attempts; got != 2 {
		t.Fatalf("attempts after phase 1 timeout = %d, want 2", got)
	}
	if got := h.o.Context().Connectivity.Phase; got != model.Phase2 {
		t.Fatalf("attachment phase = %v, want phase 2", got)
	}

	got := h.steps(2)
	assertStates(t, got, []model.DeviceState{
		model.Sending(),
		model.Idle(),
	})
	if got := h.o.Context().Recovery.Attempts; got != 0 {
		t.Fatalf("attempts after registration = %d, want 0", got)
	}

	elapsed := h.tc.Now().Sub(before)
	timing := config.DefaultTiming()
	if elapsed < timing.Phase1Timeout+timing.Phase2Settle {
		t.Fatalf("elapsed %s, want at least phase 1 timeout plus settle", elapsed)
	}
	if got := h.radio.Count(modem.NameRequestAttach); got != 2 {
		t.Fatalf("attach requests = %d, want 2", got)
	}
	// Phase 2 does not repeat the NTN pre-configuration.
	if got := h.radio.Count(modem.NameBandLock); got != 1 {
		t.Fatalf("band lock directives = %d, want 1", got)
	}
	if got := testutil.ToFloat64(h.metrics.AttachAttempts.WithLabelValues("phase1", "timeout")); got != 1 {
		t.Fatalf("phase1 timeouts = %v, want 1", got)
	}
	if len(h.dialer.sent()) != 1 {
		t.Fatalf("datagrams = %d, want 1", len(h.dialer.sent()))
	}
	h.assertWatchdogFed(t)
}

func TestPhaseTwoTimeoutFallsBackToPhaseOne(t *testing.T) {
	h := newHarness(t, nil)
	h.gps.SetFix(barcelona)

	h.stepUntil(t, model.Attaching(model.Phase1), 5)
	h.radio.ClearHistory()
	got := h.steps(2)
	assertStates(t, got, []model.DeviceState{model.Attaching(model.Phase2), model.Attaching(model.Phase1)})

	cmds := h.radio.Executed()
	if cmds[len(cmds)-1] != modem.NameRadioOffline {
		t.Fatalf("directives = %v, want radio offline after phase 2 timeout", cmds)
	}
	if h.o.Stats().Snapshot().NumAttachTimeouts != 2 {
		t.Fatalf("attach timeouts = %d, want 2", h.o.Stats().Snapshot().NumAttachTimeouts)
	}
	h.assertWatchdogFed(t)
}

func TestConfigurationFailureIsRemediated(t *testing.T) {
	h := newHarness(t, nil)
	h.gps.SetFix(barcelona)
	h.registerOn()
	h.radio.FailTimes(modem.NameBandLock, 1)

	h.stepUntil(t, model.Attaching(model.Phase1), 5)
	got := h.steps(5)
	assertStates(t, got, []model.DeviceState{
		model.Error(),
		model.Recovering(),
		model.Attaching(model.Phase1),
		model.Sending(),
		model.Idle(),
	})

	dc := h.o.Context()
	if dc.Recovery.Attempts != 0 {
		t.Fatalf("attempts = %d, want reset to 0 after registration", dc.Recovery.Attempts)
	}
	if dc.Recovery.LastGoodState != model.Idle() {
		t.Fatalf("last good state = %s, want idle", dc.Recovery.LastGoodState)
	}
	if got := testutil.ToFloat64(h.metrics.Recoveries.WithLabelValues("soft", "recovered")); got != 1 {
		t.Fatalf("soft recoveries = %v, want 1", got)
	}
	if len(h.dialer.sent()) != 1 {
		t.Fatalf("datagrams = %d, want 1", len(h.dialer.sent()))
	}
	h.assertWatchdogFed(t)
}

func TestFailedRemediationCoolsDownInIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.gps.SetFix(barcelona)
	h.radio.FailAlways(modem.NameBandLock)

	h.stepUntil(t, model.Attaching(model.Phase1), 5)
	got := h.steps(4)
	assertStates(t, got, []model.DeviceState{
		model.Error(),
		model.Recovering(),
		model.Attaching(model.Phase1),
		model.Error(),
	})

	before := h.tc.Now()
	got = h.steps(2)
	assertStates(t, got, []model.DeviceState{model.Recovering(), model.Idle()})
	if elapsed := h.tc.Now().Sub(before); elapsed < config.DefaultTiming().RecoveryCooldown {
		t.Fatalf("elapsed %s, want at least the recovery cooldown", elapsed)
	}
	if got := h.o.Context().Recovery.Attempts; got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	if got := testutil.ToFloat64(h.metrics.Recoveries.WithLabelValues("hard", "deferred")); got != 1 {
		t.Fatalf("deferred hard recoveries = %v, want 1", got)
	}
	h.assertWatchdogFed(t)
}

func TestExhaustedRemediationReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.steps(1)
	h.o.setState(context.Background(), model.Error())
	h.o.Context().Recovery.Attempts = 4

	got := h.steps(2)
	assertStates(t, got, []model.DeviceState{model.Recovering(), model.Idle()})
	if h.o.Context().Recovery.Attempts != 0 {
		t.Fatalf("attempts = %d, want 0", h.o.Context().Recovery.Attempts)
	}
}

func TestStartupFailureRecoversIntoInit(t *testing.T) {
	h := newHarness(t, nil)
	h.gps.FailStart(errors.New("no receiver"))

	got := h.steps(3)
	assertStates(t, got, []model.DeviceState{model.Error(), model.Recovering(), model.Init()})

	h.gps.FailStart(nil)
	got = h.steps(1)
	assertStates(t, got, []model.DeviceState{model.Idle()})
}

func TestElementBackoffAcrossCycles(t *testing.T) {
	h := newHarness(t, nil)
	h.steps(1)

	wantInterval := []int{24, 24, 24, 48, 48}
	for i, want := range wantInterval {
		h.stepUntil(t, model.RefreshingElements(), 20)
		h.steps(1)
		r := h.o.Context().ElementRefresh
		if r.ConsecutiveFailures != i+1 || r.IntervalHours != want {
			t.Fatalf("refresh %d: failures = %d interval = %dh, want %d/%dh",
				i+1, r.ConsecutiveFailures, r.IntervalHours, i+1, want)
		}
		h.tc.Advance(r.Interval())
	}
	if got := testutil.ToFloat64(h.metrics.ElementInterval); got != 48 {
		t.Fatalf("interval gauge = %v, want 48", got)
	}
}

func TestNoFixReturnsToIdleWithoutPredicting(t *testing.T) {
	h := newHarness(t, nil)

	got := h.steps(4)
	assertStates(t, got, []model.DeviceState{
		model.Idle(),
		model.RefreshingElements(),
		model.AcquiringFix(),
		model.Idle(),
	})

	before := h.tc.Now()
	h.steps(1)
	if elapsed := h.tc.Now().Sub(before); elapsed != config.DefaultTiming().IdleRetryDelay {
		t.Fatalf("idle slept %s, want the retry delay", elapsed)
	}
	if len(h.rec.Messages("next pass predicted")) != 0 {
		t.Fatalf("predictor ran without a position")
	}
	if h.radio.Count(modem.NameRequestAttach) != 0 {
		t.Fatalf("attach requested without a position")
	}
}

func TestIdleSleepsUntilPredictedPass(t *testing.T) {
	h := newHarness(t, nil)
	h.o.Context().SetPosition(model.Position{Latitude: 41.4, Longitude: 2.2, Valid: true})
	h.steps(3)
	if h.o.State() != model.AcquiringFix() {
		t.Fatalf("state = %s", h.o.State())
	}
	h.steps(1)
	if h.o.State() != model.Attaching(model.Phase1) {
		t.Fatalf("state = %s, want attaching with last known position", h.o.State())
	}

	h.o.setState(context.Background(), model.Idle())
	before := h.tc.Now()
	h.steps(1)
	elapsed := h.tc.Now().Sub(before)
	if elapsed <= 0 || elapsed > config.DefaultTiming().MaxIdleSleep {
		t.Fatalf("idle slept %s, want (0, max idle sleep]", elapsed)
	}
	if len(h.rec.Messages("next pass predicted")) != 1 {
		t.Fatalf("predictor not consulted")
	}
}

func TestTerrestrialPhaseSkipsNTNConfiguration(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Phase = config.PhaseTN })
	h.gps.SetFix(barcelona)
	h.registerOn()

	h.stepUntil(t, model.Idle(), 1)
	h.stepUntil(t, model.Idle(), 10)
	if h.radio.Count(modem.NameBandLock) != 0 || h.radio.Count(modem.NameNetworkSelect) != 0 {
		t.Fatalf("NTN pre-configuration sent in terrestrial phase: %v", h.radio.Executed())
	}
	if len(h.dialer.sent()) != 1 {
		t.Fatalf("datagrams = %d, want 1", len(h.dialer.sent()))
	}

	before := h.tc.Now()
	h.steps(1)
	if elapsed := h.tc.Now().Sub(before); elapsed != config.DefaultTiming().TerrestrialIdleDelay {
		t.Fatalf("idle slept %s, want terrestrial delay", elapsed)
	}
}

func TestSetStateIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.o.setState(ctx, model.Init())
	if n := len(h.rec.Messages("state transition")); n != 0 {
		t.Fatalf("re-entering the current state logged %d records", n)
	}
	h.o.setState(ctx, model.Idle())
	h.o.setState(ctx, model.Idle())
	records := h.rec.Messages("state transition")
	if len(records) != 1 {
		t.Fatalf("state transition records = %d, want 1", len(records))
	}
	if records[0].Fields["previous"] != "init" || records[0].Fields["next"] != "idle" {
		t.Fatalf("fields = %v", records[0].Fields)
	}
}

func TestLastGoodStateSkipsFaults(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.o.setState(ctx, model.Attaching(model.Phase2))
	h.o.setState(ctx, model.Error())
	h.o.setState(ctx, model.Recovering())
	if got := h.o.Context().Recovery.LastGoodState; got != model.Attaching(model.Phase2) {
		t.Fatalf("last good state = %s, want attaching(phase2)", got)
	}
	if h.o.faulted != model.Attaching(model.Phase2) {
		t.Fatalf("faulted = %s", h.o.faulted)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.gps.SetFix(barcelona)
	h.registerOn()

	ctx, cancel := context.WithCancel(context.Background())
	h.dialer.onWrite = cancel

	done := make(chan error, 1)
	go func() { done <- h.o.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if len(h.dialer.sent()) != 1 {
		t.Fatalf("datagrams = %d, want 1", len(h.dialer.sent()))
	}
}

type brokenWatchdog struct{}

func (brokenWatchdog) Install(time.Duration) error { return errors.New("no device") }
func (brokenWatchdog) Feed() error                 { return nil }

func TestRunFailsWithoutWatchdog(t *testing.T) {
	tc := timectrl.NewTimeController(start, timectrl.Accelerated)
	o, err := New(Deps{
		Config:   config.Default(),
		Clock:    tc,
		Radio:    modem.NewFakeRadio(),
		Receiver: gnss.NewFakeReceiver(tc),
		Watchdog: brokenWatchdog{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.Run(context.Background()); !errors.Is(err, model.ErrWatchdogUnavailable) {
		t.Fatalf("Run = %v, want ErrWatchdogUnavailable", err)
	}
	if o.State() != model.Init() {
		t.Fatalf("state = %s, want init", o.State())
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{Config: config.Default()}); !errors.Is(err, model.ErrInvalidArgument) {
		t.Fatalf("New = %v, want ErrInvalidArgument", err)
	}
}
