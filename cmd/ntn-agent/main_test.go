package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/internal/config"
	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/internal/orchestrator"
	"github.com/signalsfoundry/ntn-orchestrator/internal/watchdog"
	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

const elementsFile = `SATELIOT_1
1 60550U 24149CL  25071.82076637  .00007488  00000+0  68187-3 0  9999
2 60550  97.7148 150.0635 0007556 170.3117 189.8251 14.95428546 31058
`

func TestLoadElementsFillsEverySlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sateliot.tle")
	if err := os.WriteFile(path, []byte(elementsFile), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg := config.Default()
	cfg.Elements.File = path

	loadElements(logging.Noop(), &cfg)

	sats := cfg.Elements.Satellites
	if len(sats) != 4 {
		t.Fatalf("satellites = %d, want 4", len(sats))
	}
	if sats[0].Name != "SATELIOT_1" || sats[0].Line1 == "" || sats[0].Line2 == "" {
		t.Fatalf("slot 1 = %+v", sats[0])
	}
	if sats[3].Name != "SATELIOT_4" || sats[3].Line1 != "" {
		t.Fatalf("slot 4 = %+v", sats[3])
	}
}

func TestLoadElementsKeepsDefaultsOnMissingFile(t *testing.T) {
	cfg := config.Default()
	cfg.Elements.File = filepath.Join(t.TempDir(), "missing.tle")
	want := cfg.Elements.Satellites[0]

	loadElements(logging.Noop(), &cfg)
	if cfg.Elements.Satellites[0] != want {
		t.Fatalf("slot 1 changed to %+v", cfg.Elements.Satellites[0])
	}
}

func TestSelectWatchdog(t *testing.T) {
	cfg := config.Default()
	clock := timectrl.NewRealTime()
	if _, ok := selectWatchdog(cfg, clock, nil).(*watchdog.Software); !ok {
		t.Fatalf("default mode should select the software watchdog")
	}
	cfg.Watchdog.Mode = "systemd"
	if _, ok := selectWatchdog(cfg, clock, nil).(*watchdog.Systemd); !ok {
		t.Fatalf("systemd mode should select the systemd watchdog")
	}
}

func TestSimulationCompletesCycles(t *testing.T) {
	cfg := config.Default()
	deps, wire := simulationDeps(cfg, 41.3874, 2.1686)
	deps.Config = cfg
	wd := watchdog.NewSoftware(deps.Clock, nil)
	deps.Watchdog = wd

	orch, err := orchestrator.New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wire(orch)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	go stopAfterCycles(ctx, orch.Stats(), 2, cancel)

	if err := orch.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	snap := orch.Stats().Snapshot()
	if snap.Device.CyclesCompleted < 2 {
		t.Fatalf("cycles = %d, want at least 2 (%s)", snap.Device.CyclesCompleted, orch.Stats())
	}
	if snap.NumAttachTimeouts == 0 {
		t.Fatalf("simulated network should reject the first attach of each cycle")
	}
	if wd.Bites() != 0 {
		t.Fatalf("watchdog starved %d times", wd.Bites())
	}
}
