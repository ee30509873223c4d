// Package gnss turns positioning-receiver output into model.Position fixes.
package gnss

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/model"
	"github.com/signalsfoundry/ntn-orchestrator/timectrl"
)

// Receiver delivers position fixes to a handler from its own goroutine.
type Receiver interface {
	OnFix(fn func(model.Position))
	Start(ctx context.Context) error
}

var (
	errNotGGA      = errors.New("not a GGA sentence")
	errBadChecksum = errors.New("nmea checksum mismatch")
	errBadCoord    = errors.New("nmea coordinate invalid")
)

// NMEAReceiver reads NMEA 0183 sentences from a serial stream and reports a
// fix for every GGA sentence with a non-zero fix quality.
type NMEAReceiver struct {
	r     io.Reader
	clock timectrl.Clock
	log   logging.Logger

	mu    sync.RWMutex
	onFix func(model.Position)
	start sync.Once
}

// NewNMEAReceiver wraps r. clock stamps each fix.
func NewNMEAReceiver(r io.Reader, clock timectrl.Clock, log logging.Logger) *NMEAReceiver {
	if log == nil {
		log = logging.Noop()
	}
	return &NMEAReceiver{r: r, clock: clock, log: log.With(logging.String("component", "gnss"))}
}

// OnFix installs the fix handler. It must not block.
func (n *NMEAReceiver) OnFix(fn func(model.Position)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onFix = fn
}

// Start launches the reader goroutine, which runs until the stream ends.
// Later calls are no-ops.
func (n *NMEAReceiver) Start(ctx context.Context) error {
	if n.r == nil {
		return fmt.Errorf("gnss: no input stream")
	}
	n.start.Do(func() { go n.readLoop(ctx) })
	return nil
}

func (n *NMEAReceiver) readLoop(ctx context.Context) {
	scanner := bufio.NewScanner(n.r)
	for scanner.Scan() {
		pos, err := ParseGGA(scanner.Text())
		if errors.Is(err, errNotGGA) {
			continue
		}
		if err != nil {
			n.log.Debug(ctx, "discarding nmea sentence", logging.Err(err))
			continue
		}
		if !pos.Valid {
			continue
		}
		pos.FixTime = n.clock.Now()

		n.mu.RLock()
		fn := n.onFix
		n.mu.RUnlock()
		if fn != nil {
			fn(pos)
		}
	}
	if err := scanner.Err(); err != nil {
		n.log.Warn(ctx, "gnss reader stopped", logging.Err(err))
	}
}

// ParseGGA parses a $GPGGA or $GNGGA sentence. Valid is set when the fix
// quality field is non-zero; such a sentence must carry a usable latitude and
// longitude or it is rejected.
func ParseGGA(line string) (model.Position, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$GPGGA") && !strings.HasPrefix(line, "$GNGGA") {
		return model.Position{}, errNotGGA
	}
	if star := strings.LastIndexByte(line, '*'); star >= 0 {
		if err := verifyChecksum(line[1:star], line[star+1:]); err != nil {
			return model.Position{}, err
		}
		line = line[:star]
	}

	parts := strings.Split(line, ",")
	if len(parts) < 10 {
		return model.Position{}, fmt.Errorf("gga has %d fields, want at least 10", len(parts))
	}

	var pos model.Position
	if fq, err := strconv.Atoi(parts[6]); err == nil {
		pos.Valid = fq > 0
	}
	if sats, err := strconv.Atoi(parts[7]); err == nil {
		pos.Satellites = sats
	}
	lat, latErr := parseNMEACoord(parts[2], parts[3], 90)
	lon, lonErr := parseNMEACoord(parts[4], parts[5], 180)
	if pos.Valid {
		if err := errors.Join(latErr, lonErr); err != nil {
			return model.Position{}, err
		}
	}
	if latErr == nil && lonErr == nil {
		pos.Latitude, pos.Longitude = lat, lon
	}
	if parts[9] != "" {
		if alt, err := strconv.ParseFloat(parts[9], 64); err == nil {
			pos.Altitude = alt
		}
	}
	return pos, nil
}

func verifyChecksum(body, sum string) error {
	want, err := strconv.ParseUint(strings.TrimSpace(sum), 16, 8)
	if err != nil {
		return fmt.Errorf("nmea checksum %q: %w", sum, err)
	}
	var got byte
	for i := 0; i < len(body); i++ {
		got ^= body[i]
	}
	if got != byte(want) {
		return fmt.Errorf("%w: got %02X, want %02X", errBadChecksum, got, want)
	}
	return nil
}

// parseNMEACoord converts DDMM.MMMM / DDDMM.MMMM with a hemisphere letter to
// signed decimal degrees no larger than limit in magnitude.
func parseNMEACoord(coord, dir string, limit float64) (float64, error) {
	if coord == "" || dir == "" {
		return 0, fmt.Errorf("%w: empty field", errBadCoord)
	}
	dot := strings.IndexByte(coord, '.')
	if dot == -1 {
		dot = len(coord)
	}
	degLen := dot - 2
	if degLen < 1 || degLen > 3 {
		return 0, fmt.Errorf("%w: %q", errBadCoord, coord)
	}
	degrees, err := strconv.ParseFloat(coord[:degLen], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadCoord, coord)
	}
	minutes, err := strconv.ParseFloat(coord[degLen:], 64)
	if err != nil || minutes < 0 || minutes >= 60 {
		return 0, fmt.Errorf("%w: %q", errBadCoord, coord)
	}
	result := degrees + minutes/60
	if result > limit {
		return 0, fmt.Errorf("%w: %q out of range", errBadCoord, coord)
	}
	switch dir {
	case "N", "E":
	case "S", "W":
		result = -result
	default:
		return 0, fmt.Errorf("%w: hemisphere %q", errBadCoord, dir)
	}
	return result, nil
}
