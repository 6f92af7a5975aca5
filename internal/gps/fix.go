package gps

import (
	"fmt"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// Fix represents a single combined GPS fix suitable for JSON and MQTT. A
// capture session stores one as the location of its panorama.
type Fix struct {
	Time       string  `json:"time"`        // e.g. "12:34:56"
	Date       string  `json:"date"`        // e.g. "06/12/25"
	Latitude   float64 `json:"lat"`         // decimal degrees
	Longitude  float64 `json:"lon"`         // decimal degrees
	Altitude   float64 `json:"alt_m"`       // metres above MSL, from GGA
	SpeedKnots float64 `json:"speed_knots"` // speed over ground
	CourseDeg  float64 `json:"course_deg"`  // course over ground
	Satellites int64   `json:"satellites"`  // from GGA
	Validity   string  `json:"validity"`    // "A" (valid) / "V" (void)
}

// Valid reports whether the last RMC sentence marked the fix active.
func (f Fix) Valid() bool {
	return f.Validity == nmea.ValidRMC
}

// Tracker accumulates NMEA sentences into a Fix. RMC drives validity and
// position; GGA adds altitude and satellite count.
type Tracker struct {
	current Fix
}

// Apply parses one NMEA line. It returns true when an RMC sentence
// completed the fix. Lines that are not NMEA sentences are ignored.
func (t *Tracker) Apply(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return false, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return false, fmt.Errorf("nmea parse: %w", err)
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		t.current.Time = m.Time.String()
		t.current.Date = m.Date.String()
		t.current.Latitude = m.Latitude
		t.current.Longitude = m.Longitude
		t.current.SpeedKnots = m.Speed
		t.current.CourseDeg = m.Course
		t.current.Validity = m.Validity
		return true, nil

	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		if m.FixQuality != nmea.Invalid {
			t.current.Altitude = m.Altitude
			t.current.Satellites = m.NumSatellites
		}
	}
	return false, nil
}

// Fix returns the accumulated fix.
func (t *Tracker) Fix() Fix {
	return t.current
}
