// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"time"
)

type mockSource struct {
	start time.Time
	now   func() time.Time
}

// NewMockSource creates a mock orientation source that slowly sweeps yaw
// around the horizon while pitch drifts between the capture rings.
func NewMockSource() Source {
	return &mockSource{start: time.Now(), now: time.Now}
}

func (m *mockSource) Next() (Sample, error) {
	elapsed := m.now().Sub(m.start).Seconds()

	yaw := math.Mod(elapsed*12, 360)
	pitch := 45 * math.Sin(elapsed*0.05)
	s := SampleFor(yaw, pitch)
	s.Time = m.now()
	return s, nil
}

// ScriptedSource replays a fixed list of samples, then reports the sensor
// as unavailable. Useful for tests and replaying recorded sessions.
type ScriptedSource struct {
	Samples []Sample
	pos     int
}

func (s *ScriptedSource) Next() (Sample, error) {
	if s.pos >= len(s.Samples) {
		return Sample{}, ErrSensorUnavailable
	}
	smp := s.Samples[s.pos]
	s.pos++
	return smp, nil
}
