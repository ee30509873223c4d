package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/internal/config"
	"github.com/signalsfoundry/ntn-orchestrator/internal/gnss"
	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/internal/modem"
	"github.com/signalsfoundry/ntn-orchestrator/internal/observability"
	"github.com/signalsfoundry/ntn-orchestrator/internal/orchestrator"
	"github.com/signalsfoundry/ntn-orchestrator/internal/statusapi"
	"github.com/signalsfoundry/ntn-orchestrator/internal/tle"
	"github.com/signalsfoundry/ntn-orchestrator/internal/watchdog"
	"github.com/signalsfoundry/ntn-orchestrator/model"
	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

func main() {
	simulate := flag.Bool("simulate", false, "Run against an in-process radio and receiver on an accelerated clock")
	simCycles := flag.Int("sim-cycles", 3, "Stop after this many completed cycles when simulating (0 runs forever)")
	simLat := flag.Float64("sim-lat", 41.3874, "Simulated receiver latitude")
	simLon := flag.Float64("sim-lon", 2.1686, "Simulated receiver longitude")
	baud := flag.Int("baud", 115200, "Serial line speed for the modem and receiver ports")
	statusAddr := flag.String("status-addr", "", "HTTP address for the status API (overrides NTN_STATUS_ADDR)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		os.Exit(1)
	}
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}
	loadElements(log, &cfg)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	collector, err := observability.NewConnectivityCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var deps orchestrator.Deps
	var wireRegistration func(*orchestrator.Orchestrator)
	if *simulate {
		deps, wireRegistration = simulationDeps(cfg, *simLat, *simLon)
	} else {
		deps, wireRegistration, err = hardwareDeps(runCtx, cfg, *baud, log)
		if err != nil {
			log.Error(ctx, "failed to open device ports", logging.Err(err))
			os.Exit(1)
		}
	}
	deps.Config = cfg
	deps.Metrics = collector
	deps.Log = log
	deps.Watchdog = selectWatchdog(cfg, deps.Clock, log)

	orch, err := orchestrator.New(deps)
	if err != nil {
		log.Error(ctx, "failed to build orchestrator", logging.Err(err))
		os.Exit(1)
	}
	wireRegistration(orch)

	var status *statusapi.Server
	if cfg.StatusAddr != "" {
		status = statusapi.NewServer(cfg.StatusAddr, statusapi.NewRouter(orch.Stats(), collector.Handler()), log)
		if _, err := status.Start(); err != nil {
			log.Warn(ctx, "status API unavailable", logging.Err(err))
			status = nil
		}
	}

	if *simulate && *simCycles > 0 {
		go stopAfterCycles(runCtx, orch.Stats(), *simCycles, stop)
	}

	log.Info(ctx, "starting connectivity orchestrator",
		logging.String("integration_phase", string(cfg.Phase)),
		logging.Bool("simulate", *simulate),
		logging.String("watchdog", cfg.Watchdog.Mode))

	if err := orch.Run(runCtx); err != nil {
		if errors.Is(err, model.ErrWatchdogUnavailable) {
			// Block without feeding; the supervisor restarts the process.
			log.Error(ctx, "watchdog unavailable, halting", logging.Err(err))
			select {}
		}
		log.Error(ctx, "orchestrator exited", logging.Err(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if status != nil {
		_ = status.Shutdown(shutdownCtx)
	}
	log.Info(ctx, "orchestrator stopped", logging.String("stats", orch.Stats().String()))
}

func loadElements(log logging.Logger, cfg *config.Config) {
	if cfg.Elements.File == "" {
		return
	}
	recs, err := tle.ParseFile(cfg.Elements.File, log)
	if err != nil {
		log.Warn(context.Background(), "skipping orbital elements file",
			logging.String("path", cfg.Elements.File), logging.Err(err))
		return
	}
	if len(recs) > model.ConstellationSize {
		recs = recs[:model.ConstellationSize]
	}
	sats := make([]config.SatelliteElements, model.ConstellationSize)
	for i := range sats {
		sats[i].Name = "SATELIOT_" + strconv.Itoa(i+1)
		if i < len(recs) {
			sats[i] = config.SatelliteElements{Name: recs[i].Name, Line1: recs[i].Line1, Line2: recs[i].Line2}
		}
	}
	cfg.Elements.Satellites = sats
	log.Info(context.Background(), "loaded orbital elements",
		logging.String("path", cfg.Elements.File), logging.Int("count", len(recs)))
}

func selectWatchdog(cfg config.Config, clock timectrl.Clock, log logging.Logger) watchdog.Watchdog {
	if cfg.Watchdog.Mode == "systemd" {
		return watchdog.NewSystemd(log)
	}
	return watchdog.NewSoftware(clock, log)
}

func stopAfterCycles(ctx context.Context, stats *orchestrator.Stats, cycles int, stop func()) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stats.Snapshot().Device.CyclesCompleted >= cycles {
				stop()
				return
			}
		}
	}
}

// simulationDeps builds an in-process device: the receiver always has a fix
// and the network rejects every odd attach request, as the feeder link does
// on first contact.
func simulationDeps(cfg config.Config, lat, lon float64) (orchestrator.Deps, func(*orchestrator.Orchestrator)) {
	start := time.Now().UTC()
	clock := timectrl.NewTimeController(start, timectrl.Accelerated)
	radio := modem.NewFakeRadio()
	receiver := gnss.NewFakeReceiver(clock)
	receiver.SetFix(model.Position{Latitude: lat, Longitude: lon, Altitude: 12, Satellites: 7})

	wire := func(o *orchestrator.Orchestrator) {
		requests := 0
		radio.OnDirective(modem.NameRequestAttach, func() {
			requests++
			if requests%2 == 0 || cfg.Phase == config.PhaseTN {
				o.NotifyRegistration(modem.RegisteredRoaming)
			}
		})
	}
	return orchestrator.Deps{Clock: clock, Radio: radio, Receiver: receiver}, wire
}

func hardwareDeps(ctx context.Context, cfg config.Config, baud int, log logging.Logger) (orchestrator.Deps, func(*orchestrator.Orchestrator), error) {
	clock := timectrl.NewRealTime()

	modemPort, err := openSerial(ctx, cfg.Serial.ModemPort, baud)
	if err != nil {
		return orchestrator.Deps{}, nil, err
	}
	gnssPort, err := openSerial(ctx, cfg.Serial.GNSSPort, baud)
	if err != nil {
		modemPort.Close()
		return orchestrator.Deps{}, nil, err
	}

	at := modem.NewATModem(modemPort, cfg.Timing.CommandTimeout, log)
	receiver := gnss.NewNMEAReceiver(gnssPort, clock, log)

	wire := func(o *orchestrator.Orchestrator) {
		at.OnRegistration(o.NotifyRegistration)
		at.Start(ctx)
	}
	return orchestrator.Deps{Clock: clock, Radio: at, Receiver: receiver}, wire, nil
}
