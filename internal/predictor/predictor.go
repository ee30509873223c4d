// Package predictor estimates the next satellite visibility window.
//
// The estimate is heuristic: two fixed daily windows in UTC, stretched by
// observer latitude, with randomised duration, elevation and satellite. It
// does not propagate the cached orbital elements.
package predictor

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/internal/config"
	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/model"
)

const (
	day = 24 * time.Hour

	minElevationDeg   = 30
	elevationSpanDeg  = 56
	maxLatitudeFactor = 0.5
)

// Predictor produces SatellitePass estimates. It is safe for concurrent use.
type Predictor struct {
	cfg config.PredictorConfig
	log logging.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Predictor. A zero cfg.Seed seeds the random source from the
// runtime; tests pass a fixed seed.
func New(cfg config.PredictorConfig, log logging.Logger) *Predictor {
	if log == nil {
		log = logging.Noop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Predictor{
		cfg: cfg,
		log: log.With(logging.String("component", "predictor")),
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// LatitudeFactor is the duration multiplier for an observer at lat degrees,
// 1.0 at the equator rising to 1.5 at the poles.
func LatitudeFactor(lat float64) float64 {
	return 1 + math.Abs(lat)/90*maxLatitudeFactor
}

// Predict returns the next pass after now for the position stored in dc.
// It fails with model.ErrNoPositionFix when no valid position is known.
func (p *Predictor) Predict(ctx context.Context, now time.Time, dc *model.DeviceContext) (model.SatellitePass, error) {
	pos := dc.Position()
	if !pos.Valid {
		return model.SatellitePass{}, model.ErrNoPositionFix
	}

	start := p.nextAnchor(now)

	p.mu.Lock()
	span := p.cfg.MaxPassDuration - p.cfg.MinPassDuration
	duration := p.cfg.MinPassDuration + time.Duration(p.rng.Int64N(int64(span)))
	elevation := minElevationDeg + p.rng.IntN(elevationSpanDeg)
	satID := p.rng.IntN(model.ConstellationSize)
	p.mu.Unlock()

	duration = time.Duration(float64(duration) * LatitudeFactor(pos.Latitude))

	pass := model.SatellitePass{
		StartTime:       start,
		EndTime:         start.Add(duration),
		MaxElevationDeg: elevation,
		SatelliteID:     satID,
		IsPredicted:     true,
	}
	p.log.Info(ctx, "next pass predicted",
		logging.Duration("starts_in", start.Sub(now)),
		logging.Duration("duration", duration),
		logging.Int("max_elevation_deg", elevation),
		logging.Int("satellite_id", satID))
	return pass, nil
}

// nextAnchor returns the first configured window start strictly after the
// current UTC time of day, wrapping to tomorrow's morning window.
func (p *Predictor) nextAnchor(now time.Time) time.Time {
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	sinceMidnight := utc.Sub(midnight)

	switch {
	case sinceMidnight < p.cfg.MorningAnchor:
		return midnight.Add(p.cfg.MorningAnchor)
	case sinceMidnight < p.cfg.EveningAnchor:
		return midnight.Add(p.cfg.EveningAnchor)
	default:
		return midnight.Add(day + p.cfg.MorningAnchor)
	}
}
