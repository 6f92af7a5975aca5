// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"errors"
	"math"
	"time"
)

// ErrSensorUnavailable is reported when no orientation data can be read.
// Automatic capture gating is disabled until samples arrive again.
var ErrSensorUnavailable = errors.New("orientation sensor unavailable")

// Pose is the canonical representation of orientation published to MQTT.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Sample is one raw device-orientation reading in degrees. Alpha rotates
// about the device Z axis, Beta about X and Gamma about Y. Any component
// may be missing (nil).
type Sample struct {
	Alpha *float64
	Beta  *float64
	Gamma *float64

	// Time is when the reading was taken. Zero means "now" per the
	// consumer's clock.
	Time time.Time
}

// Absent reports whether the sample carries no angles at all.
func (s Sample) Absent() bool {
	return s.Alpha == nil && s.Beta == nil && s.Gamma == nil
}

// Deg returns a pointer to v, for building Samples.
func Deg(v float64) *float64 {
	return &v
}

// SampleFor builds the device reading that corresponds to looking at the
// given world yaw/pitch while holding the device upright with no roll.
func SampleFor(yaw, pitch float64) Sample {
	return Sample{
		Alpha: Deg(NormalizeYaw(-yaw)),
		Beta:  Deg(90 + pitch),
		Gamma: Deg(0),
	}
}

// Source is anything that can provide orientation samples over time.
type Source interface {
	Next() (Sample, error)
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is left at 0.
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
	}
}

// NormalizeYaw wraps an angle into [0,360).
func NormalizeYaw(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// AngleDiff returns the shortest signed arc a-b in (-180,180].
func AngleDiff(a, b float64) float64 {
	d := math.Mod(a-b, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	return d
}
