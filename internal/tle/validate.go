// Package tle validates and refreshes the orbital elements cached in the
// device context.
package tle

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/ntn-orchestrator/model"
)

const (
	lineLength = 69

	earthRadiusKm = 6378.135
	minAltitudeKm = 150.0
	maxAltitudeKm = 2500.0
)

// ErrMalformed marks element sets that fail structural or propagation checks.
var ErrMalformed = errors.New("malformed orbital elements")

// Validate checks rec and returns its epoch. A record passes when both lines
// are well formed with correct checksums, every numeric column parses, and an
// SGP4 propagation at the epoch places the satellite in low Earth orbit.
func Validate(rec model.TLERecord) (time.Time, error) {
	l1, l2 := strings.TrimRight(rec.Line1, "\r\n "), strings.TrimRight(rec.Line2, "\r\n ")
	if err := checkLine(l1, '1'); err != nil {
		return time.Time{}, fmt.Errorf("%w: line 1: %v", ErrMalformed, err)
	}
	if err := checkLine(l2, '2'); err != nil {
		return time.Time{}, fmt.Errorf("%w: line 2: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(l1[2:7]) != strings.TrimSpace(l2[2:7]) {
		return time.Time{}, fmt.Errorf("%w: catalog numbers differ", ErrMalformed)
	}
	if err := checkColumns(l1, l2); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	epoch, err := parseEpoch(strings.TrimSpace(l1[18:32]))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	alt, err := altitudeAt(l1, l2, epoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if alt < minAltitudeKm || alt > maxAltitudeKm {
		return time.Time{}, fmt.Errorf("%w: altitude %.0f km at epoch outside [%.0f, %.0f]",
			ErrMalformed, alt, minAltitudeKm, maxAltitudeKm)
	}
	return epoch, nil
}

func checkLine(line string, number byte) error {
	if len(line) != lineLength {
		return fmt.Errorf("length %d, want %d", len(line), lineLength)
	}
	if line[0] != number || line[1] != ' ' {
		return fmt.Errorf("line number %q, want %q", line[0], number)
	}
	want := int(line[lineLength-1] - '0')
	if want < 0 || want > 9 {
		return fmt.Errorf("checksum column %q is not a digit", line[lineLength-1])
	}
	if got := checksum(line[:lineLength-1]); got != want {
		return fmt.Errorf("checksum %d, want %d", got, want)
	}
	return nil
}

// checksum is the modulo-10 sum of all digits, with each minus sign counted
// as one.
func checksum(s string) int {
	sum := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// checkColumns parses every column the SGP4 parser reads, in the same way it
// reads them, so malformed input is rejected here instead of inside the
// propagator.
func checkColumns(l1, l2 string) error {
	if _, err := strconv.Atoi(strings.TrimSpace(l1[2:7])); err != nil {
		return fmt.Errorf("catalog number: %v", err)
	}
	if _, err := strconv.Atoi(l1[18:20]); err != nil {
		return fmt.Errorf("epoch year: %v", err)
	}
	if _, err := strconv.ParseFloat(l1[20:32], 64); err != nil {
		return fmt.Errorf("epoch day: %v", err)
	}
	if _, err := strconv.ParseFloat("."+l2[26:33], 64); err != nil {
		return fmt.Errorf("eccentricity: %v", err)
	}
	floats := []struct {
		name  string
		value string
	}{
		{"mean motion derivative", l1[33:43]},
		{"mean motion second derivative", l1[44:45] + "." + l1[45:50] + "e" + l1[50:52]},
		{"drag term", l1[53:54] + "." + l1[54:59] + "e" + l1[59:61]},
		{"inclination", l2[8:16]},
		{"right ascension", l2[17:25]},
		{"argument of perigee", l2[34:42]},
		{"mean anomaly", l2[43:51]},
		{"mean motion", l2[52:63]},
	}
	for _, f := range floats {
		if _, err := strconv.ParseFloat(strings.Replace(f.value, " ", "", 2), 64); err != nil {
			return fmt.Errorf("%s %q: %v", f.name, f.value, err)
		}
	}
	return nil
}

// parseEpoch converts a YYDDD.DDDDDDDD epoch. Years 57-99 are 19xx.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch %q too short", s)
	}
	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch year %q: %v", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}
	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch day %q: %v", s[2:], err)
	}
	if day < 1 || day >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %v out of range", day)
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((day - 1) * float64(24*time.Hour))), nil
}

// altitudeAt propagates the element set to t and returns the geodetic
// altitude in kilometres.
func altitudeAt(l1, l2 string, t time.Time) (float64, error) {
	sat := satellite.TLEToSat(l1, l2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return 0, fmt.Errorf("sgp4 init error %d", sat.Error)
	}

	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	if math.IsNaN(posECI.X) || math.IsNaN(posECI.Y) || math.IsNaN(posECI.Z) {
		return 0, errors.New("sgp4 propagation diverged")
	}

	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)
	radius := math.Sqrt(posECEF.X*posECEF.X + posECEF.Y*posECEF.Y + posECEF.Z*posECEF.Z)
	return radius - earthRadiusKm, nil
}
