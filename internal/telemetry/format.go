// Package telemetry renders the position report and delivers it to the
// telemetry server over datagrams.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/internal/logging"
	"github.com/signalsfoundry/ntn-orchestrator/model"
)

// DefaultNetworkTag is the value of the "ntn" field.
const DefaultNetworkTag = "sateliot"

// bufferMargin is the headroom above the smallest plausible record a caller
// buffer must provide. It covers signs, multi-digit coordinates and a
// millisecond timestamp.
const bufferMargin = 48

const recordFormat = `{"ts":%d,"lat":%.6f,"lon":%.6f,"alt":%.1f,"sats":%d,"ntn":%q}`

// Record is the telemetry payload. Field order and precision on the wire are
// fixed by Format.
type Record struct {
	Timestamp  int64   `json:"ts"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	Altitude   float64 `json:"alt"`
	Satellites int     `json:"sats"`
	Network    string  `json:"ntn"`
}

// Formatter renders Records into caller-provided buffers.
type Formatter struct {
	tag string
	log logging.Logger

	minPlausible int
}

// NewFormatter returns a Formatter stamping records with tag.
func NewFormatter(tag string, log logging.Logger) *Formatter {
	if tag == "" {
		tag = DefaultNetworkTag
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Formatter{
		tag:          tag,
		log:          log.With(logging.String("component", "telemetry")),
		minPlausible: len(render(Record{Network: tag})),
	}
}

// MinPlausibleSize is the length of the all-zero record; anything shorter is
// an encoding fault.
func (f *Formatter) MinPlausibleSize() int { return f.minPlausible }

// MinBufferSize is the smallest buffer Format accepts.
func (f *Formatter) MinBufferSize() int { return f.minPlausible + bufferMargin }

func render(r Record) string {
	return fmt.Sprintf(recordFormat, r.Timestamp, r.Latitude, r.Longitude, r.Altitude, r.Satellites, r.Network)
}

// Format writes the record for dc at now into buf and returns its length.
// Without a valid fix the coordinates and satellite count are zero and a
// warning is logged.
func (f *Formatter) Format(ctx context.Context, dc *model.DeviceContext, now time.Time, buf []byte) (int, error) {
	if dc == nil || len(buf) == 0 {
		return 0, fmt.Errorf("format telemetry: %w", model.ErrInvalidArgument)
	}
	if len(buf) < f.MinBufferSize() {
		return 0, fmt.Errorf("format telemetry: %w: have %d, need %d",
			model.ErrInsufficientBuffer, len(buf), f.MinBufferSize())
	}

	rec := Record{Timestamp: now.UnixMilli(), Network: f.tag}
	if pos := dc.Position(); pos.Valid {
		rec.Latitude = pos.Latitude
		rec.Longitude = pos.Longitude
		rec.Altitude = pos.Altitude
		rec.Satellites = pos.Satellites
	} else {
		f.log.Warn(ctx, "no valid position, reporting zeros")
	}

	out := render(rec)
	if len(out) > len(buf) {
		return 0, fmt.Errorf("format telemetry: %w: have %d, need %d",
			model.ErrInsufficientBuffer, len(buf), len(out))
	}
	if len(out) < f.minPlausible {
		return 0, fmt.Errorf("format telemetry: %w: %d bytes", model.ErrEncoding, len(out))
	}
	return copy(buf, out), nil
}

// Parse decodes a payload produced by Format.
func Parse(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("parse telemetry: %w: %v", model.ErrEncoding, err)
	}
	if r.Network == "" {
		return Record{}, fmt.Errorf("parse telemetry: %w: missing ntn field", model.ErrEncoding)
	}
	return r, nil
}
