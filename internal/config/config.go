// Package config holds every tunable of the connectivity core: server
// endpoint, radio directives, power-saving timers, and all timeouts. Nothing
// else in the module carries a magic duration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/model"
)

// IntegrationPhase selects between terrestrial bring-up and satellite
// operation.
type IntegrationPhase string

const (
	// PhaseNTN drives the full satellite flow.
	PhaseNTN IntegrationPhase = "ntn"
	// PhaseTN is terrestrial testing: fixed idle delay, no NTN
	// pre-configuration.
	PhaseTN IntegrationPhase = "tn"
)

// ServerConfig is the telemetry server endpoint.
type ServerConfig struct {
	Host string
	Port int
}

// RadioConfig parameterises the NTN pre-attach directives.
type RadioConfig struct {
	PLMN          string
	BandMask      string
	ChannelSelect string
	NTNFeature    string
	NetworkTag    string
}

// PowerConfig holds the power-saving parameters set once at startup.
type PowerConfig struct {
	PeriodicTAU string // T3412
	ActiveTime  string // T3324
	EDRXCycle   string
}

// Timing collects every timeout, delay and retry bound.
type Timing struct {
	LoopYield            time.Duration
	FeedInterval         time.Duration
	IdleRetryDelay       time.Duration
	TerrestrialIdleDelay time.Duration
	MaxIdleSleep         time.Duration
	FixTimeout           time.Duration
	Phase1Timeout        time.Duration
	Phase2Timeout        time.Duration
	Phase2Settle         time.Duration
	CommandTimeout       time.Duration
	SendAttempts         int
	SendBackoff          time.Duration
	SoftPause            time.Duration
	HardPause            time.Duration
	RecoveryCooldown     time.Duration
}

// PredictorConfig parameterises the heuristic pass predictor. The anchors are
// UTC times of day of the two daily visibility windows.
type PredictorConfig struct {
	MorningAnchor   time.Duration
	EveningAnchor   time.Duration
	MinPassDuration time.Duration
	MaxPassDuration time.Duration
	Seed            uint64
}

// SatelliteElements is one configured constellation slot.
type SatelliteElements struct {
	Name  string
	Line1 string
	Line2 string
}

// ElementsConfig seeds the orbital-element cache.
type ElementsConfig struct {
	RefreshIntervalHours int
	File                 string
	Satellites           []SatelliteElements
}

// WatchdogConfig selects and sizes the watchdog.
type WatchdogConfig struct {
	Mode   string // software | systemd
	Window time.Duration
}

// SerialConfig names the device ports for the modem and positioning receiver.
type SerialConfig struct {
	ModemPort string
	GNSSPort  string
}

// Config is the full configuration of the agent.
type Config struct {
	Phase     IntegrationPhase
	Server    ServerConfig
	Radio     RadioConfig
	Power     PowerConfig
	Timing    Timing
	Predictor PredictorConfig
	Elements  ElementsConfig
	Watchdog  WatchdogConfig
	Serial    SerialConfig
	// StatusAddr is the HTTP address of the status API; empty disables it.
	StatusAddr string
}

// Sateliot SIC-4 slot 1 elements. The other slots stay empty until real
// elements are loaded.
const (
	defaultTLELine1 = "1 60550U 24149CL  25071.82076637  .00007488  00000+0  68187-3 0  9999"
	defaultTLELine2 = "2 60550  97.7148 150.0635 0007556 170.3117 189.8251 14.95428546 31058"
)

// DefaultTiming returns the production timeouts.
func DefaultTiming() Timing {
	return Timing{
		LoopYield:            500 * time.Millisecond,
		FeedInterval:         15 * time.Second,
		IdleRetryDelay:       30 * time.Second,
		TerrestrialIdleDelay: 60 * time.Second,
		MaxIdleSleep:         30 * time.Minute,
		FixTimeout:           180 * time.Second,
		Phase1Timeout:        5 * time.Minute,
		Phase2Timeout:        15 * time.Minute,
		Phase2Settle:         30 * time.Second,
		CommandTimeout:       5 * time.Second,
		SendAttempts:         3,
		SendBackoff:          15 * time.Second,
		SoftPause:            5 * time.Second,
		HardPause:            10 * time.Second,
		RecoveryCooldown:     5 * time.Minute,
	}
}

// FastTiming keeps the ratios of DefaultTiming at millisecond scale for tests
// that run against the wall clock.
func FastTiming() Timing {
	return Timing{
		LoopYield:            time.Millisecond,
		FeedInterval:         5 * time.Millisecond,
		IdleRetryDelay:       2 * time.Millisecond,
		TerrestrialIdleDelay: 4 * time.Millisecond,
		MaxIdleSleep:         10 * time.Millisecond,
		FixTimeout:           10 * time.Millisecond,
		Phase1Timeout:        10 * time.Millisecond,
		Phase2Timeout:        30 * time.Millisecond,
		Phase2Settle:         2 * time.Millisecond,
		CommandTimeout:       50 * time.Millisecond,
		SendAttempts:         3,
		SendBackoff:          2 * time.Millisecond,
		SoftPause:            time.Millisecond,
		HardPause:            2 * time.Millisecond,
		RecoveryCooldown:     5 * time.Millisecond,
	}
}

// Default returns a Config with the production defaults.
func Default() Config {
	return Config{
		Phase:  PhaseNTN,
		Server: ServerConfig{Host: "127.0.0.1", Port: 17777},
		Radio: RadioConfig{
			PLMN:          "90197",
			BandMask:      "1" + strings.Repeat("0", 63),
			ChannelSelect: "2,9,66296",
			NTNFeature:    "0,1",
			NetworkTag:    "sateliot",
		},
		Power: PowerConfig{
			PeriodicTAU: "01000010",
			ActiveTime:  "00000001",
			EDRXCycle:   "1001",
		},
		Timing: DefaultTiming(),
		Predictor: PredictorConfig{
			MorningAnchor:   10 * time.Hour,
			EveningAnchor:   21 * time.Hour,
			MinPassDuration: 30 * time.Second,
			MaxPassDuration: 8 * time.Minute,
		},
		Elements: ElementsConfig{
			RefreshIntervalHours: 24,
			Satellites: []SatelliteElements{
				{Name: "SATELIOT_1", Line1: defaultTLELine1, Line2: defaultTLELine2},
				{Name: "SATELIOT_2"},
				{Name: "SATELIOT_3"},
				{Name: "SATELIOT_4"},
			},
		},
		Watchdog: WatchdogConfig{Mode: "software", Window: 60 * time.Second},
		Serial:   SerialConfig{ModemPort: "/dev/ttyACM0", GNSSPort: "/dev/ttyACM1"},
	}
}

// ApplyDefaults fills zero fields from Default. Timing fields are filled one
// by one so a partially specified Timing keeps its explicit values.
func (c Config) ApplyDefaults() Config {
	d := Default()
	if c.Phase == "" {
		c.Phase = d.Phase
	}
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Radio == (RadioConfig{}) {
		c.Radio = d.Radio
	}
	if c.Radio.NetworkTag == "" {
		c.Radio.NetworkTag = d.Radio.NetworkTag
	}
	if c.Power == (PowerConfig{}) {
		c.Power = d.Power
	}
	c.Timing = c.Timing.applyDefaults(d.Timing)
	if c.Predictor.MorningAnchor == 0 && c.Predictor.EveningAnchor == 0 {
		c.Predictor.MorningAnchor = d.Predictor.MorningAnchor
		c.Predictor.EveningAnchor = d.Predictor.EveningAnchor
	}
	if c.Predictor.MinPassDuration <= 0 {
		c.Predictor.MinPassDuration = d.Predictor.MinPassDuration
	}
	if c.Predictor.MaxPassDuration <= c.Predictor.MinPassDuration {
		c.Predictor.MaxPassDuration = d.Predictor.MaxPassDuration
	}
	if c.Elements.RefreshIntervalHours <= 0 {
		c.Elements.RefreshIntervalHours = d.Elements.RefreshIntervalHours
	}
	if len(c.Elements.Satellites) == 0 {
		c.Elements.Satellites = d.Elements.Satellites
	}
	if c.Watchdog.Mode == "" {
		c.Watchdog.Mode = d.Watchdog.Mode
	}
	if c.Watchdog.Window <= 0 {
		c.Watchdog.Window = d.Watchdog.Window
	}
	return c
}

func (t Timing) applyDefaults(d Timing) Timing {
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.LoopYield, d.LoopYield)
	fill(&t.FeedInterval, d.FeedInterval)
	fill(&t.IdleRetryDelay, d.IdleRetryDelay)
	fill(&t.TerrestrialIdleDelay, d.TerrestrialIdleDelay)
	fill(&t.MaxIdleSleep, d.MaxIdleSleep)
	fill(&t.FixTimeout, d.FixTimeout)
	fill(&t.Phase1Timeout, d.Phase1Timeout)
	fill(&t.Phase2Timeout, d.Phase2Timeout)
	fill(&t.Phase2Settle, d.Phase2Settle)
	fill(&t.CommandTimeout, d.CommandTimeout)
	fill(&t.SendBackoff, d.SendBackoff)
	fill(&t.SoftPause, d.SoftPause)
	fill(&t.HardPause, d.HardPause)
	fill(&t.RecoveryCooldown, d.RecoveryCooldown)
	if t.SendAttempts <= 0 {
		t.SendAttempts = d.SendAttempts
	}
	return t
}

// Validate reports configuration that would break the orchestrator's
// invariants.
func (c Config) Validate() error {
	if c.Phase != PhaseNTN && c.Phase != PhaseTN {
		return fmt.Errorf("unknown integration phase %q", c.Phase)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Timing.Phase1Timeout >= c.Timing.Phase2Timeout {
		return fmt.Errorf("phase 1 timeout %s must be shorter than phase 2 timeout %s",
			c.Timing.Phase1Timeout, c.Timing.Phase2Timeout)
	}
	if c.Timing.FeedInterval >= c.Watchdog.Window {
		return fmt.Errorf("feed interval %s must be shorter than watchdog window %s",
			c.Timing.FeedInterval, c.Watchdog.Window)
	}
	if c.Predictor.MorningAnchor >= c.Predictor.EveningAnchor || c.Predictor.EveningAnchor >= 24*time.Hour {
		return fmt.Errorf("predictor anchors must satisfy 0 <= morning < evening < 24h")
	}
	if len(c.Elements.Satellites) > model.ConstellationSize {
		return fmt.Errorf("%d satellites configured, at most %d supported",
			len(c.Elements.Satellites), model.ConstellationSize)
	}
	switch c.Watchdog.Mode {
	case "software", "systemd":
	default:
		return fmt.Errorf("unknown watchdog mode %q", c.Watchdog.Mode)
	}
	return nil
}

// ContextDefaults converts the configuration into DeviceContext defaults.
// Configured slots are marked valid only when both lines are present; the
// refresh manager validates them properly on its first run.
func (c Config) ContextDefaults() model.Defaults {
	d := model.Defaults{
		Server:               model.ServerEndpoint{Host: c.Server.Host, Port: c.Server.Port},
		RefreshIntervalHours: c.Elements.RefreshIntervalHours,
	}
	for i := 0; i < model.ConstellationSize; i++ {
		name := fmt.Sprintf("SATELIOT_%d", i+1)
		if i < len(c.Elements.Satellites) {
			sat := c.Elements.Satellites[i]
			if sat.Name != "" {
				name = sat.Name
			}
			d.Elements[i] = model.TLERecord{
				Name:  name,
				Line1: sat.Line1,
				Line2: sat.Line2,
				Valid: sat.Line1 != "" && sat.Line2 != "",
			}
			continue
		}
		d.Elements[i] = model.TLERecord{Name: name}
	}
	return d
}

// FromEnv starts from Default and applies NTN_* environment overrides.
// Without NTN_WATCHDOG_MODE, a process started by systemd with a notify
// socket uses the systemd watchdog.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := Default()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				record(fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				record(fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	var phase string
	str("NTN_PHASE", &phase)
	if phase != "" {
		c.Phase = IntegrationPhase(strings.ToLower(phase))
	}
	str("NTN_SERVER_HOST", &c.Server.Host)
	integer("NTN_SERVER_PORT", &c.Server.Port)
	str("NTN_PLMN", &c.Radio.PLMN)
	str("NTN_BAND_MASK", &c.Radio.BandMask)
	str("NTN_CHANNEL_SELECT", &c.Radio.ChannelSelect)
	str("NTN_NETWORK_TAG", &c.Radio.NetworkTag)
	str("NTN_PSM_PERIODIC_TAU", &c.Power.PeriodicTAU)
	str("NTN_PSM_ACTIVE_TIME", &c.Power.ActiveTime)
	str("NTN_EDRX_CYCLE", &c.Power.EDRXCycle)

	duration("NTN_LOOP_YIELD", &c.Timing.LoopYield)
	duration("NTN_IDLE_RETRY_DELAY", &c.Timing.IdleRetryDelay)
	duration("NTN_MAX_IDLE_SLEEP", &c.Timing.MaxIdleSleep)
	duration("NTN_FIX_TIMEOUT", &c.Timing.FixTimeout)
	duration("NTN_PHASE1_TIMEOUT", &c.Timing.Phase1Timeout)
	duration("NTN_PHASE2_TIMEOUT", &c.Timing.Phase2Timeout)
	duration("NTN_PHASE2_SETTLE", &c.Timing.Phase2Settle)
	duration("NTN_SEND_BACKOFF", &c.Timing.SendBackoff)
	integer("NTN_SEND_ATTEMPTS", &c.Timing.SendAttempts)
	duration("NTN_RECOVERY_COOLDOWN", &c.Timing.RecoveryCooldown)

	integer("NTN_TLE_REFRESH_HOURS", &c.Elements.RefreshIntervalHours)
	str("NTN_TLE_FILE", &c.Elements.File)

	str("NTN_WATCHDOG_MODE", &c.Watchdog.Mode)
	if v, ok := lookup("NTN_WATCHDOG_MODE"); !ok || v == "" {
		if sock, ok := lookup("NOTIFY_SOCKET"); ok && sock != "" {
			c.Watchdog.Mode = "systemd"
		}
	}
	duration("NTN_WATCHDOG_WINDOW", &c.Watchdog.Window)

	str("NTN_MODEM_PORT", &c.Serial.ModemPort)
	str("NTN_GNSS_PORT", &c.Serial.GNSSPort)
	str("NTN_STATUS_ADDR", &c.StatusAddr)

	if firstErr != nil {
		return Config{}, firstErr
	}
	c = c.ApplyDefaults()
	return c, c.Validate()
}
