package model

import "time"

// SatellitePass is a predicted visibility window. It is produced fresh for
// every prediction and never stored across cycles.
type SatellitePass struct {
	StartTime       time.Time
	EndTime         time.Time
	MaxElevationDeg int
	SatelliteID     int
	IsPredicted     bool
}

// Duration returns the length of the window.
func (p SatellitePass) Duration() time.Duration {
	return p.EndTime.Sub(p.StartTime)
}
