// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/sphere_capture/internal/timeutil"
)

// DefaultAlpha is the EMA blend factor. High values favour the newest
// sample, keeping lag low while the user lines up a target.
const DefaultAlpha = 0.6

// compensation rotates the "flat on a table" reference frame into "held
// upright, facing forward": -90° about X.
var compensation = quat.Number{Real: math.Sqrt(0.5), Imag: -math.Sqrt(0.5)}

// Angles is a yaw/pitch/roll triple in degrees (or degrees/second for
// velocities).
type Angles struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// SensorState is the filter state owned by one Fusion.
type SensorState struct {
	Smoothed Angles `json:"smoothed"`
	Previous Angles `json:"previous"`
	Velocity Angles `json:"velocity"`

	// RefYaw is the calibration reference; nil until Calibrate is called.
	RefYaw *float64 `json:"ref_yaw,omitempty"`

	// Calibrated is true once the first sample has seeded the filter.
	Calibrated bool      `json:"calibrated"`
	LastUpdate time.Time `json:"last_update"`
}

// Thresholds are per-axis angular speed limits in degrees/second.
type Thresholds struct {
	Yaw   float64
	Pitch float64
}

// DefaultThresholds is the stability limit used when none is configured.
var DefaultThresholds = Thresholds{Yaw: 4, Pitch: 4}

// FusionConfig tunes the filter.
type FusionConfig struct {
	Alpha float64
}

// Fusion filters raw orientation samples into a stable world yaw/pitch/roll
// plus angular velocity. It is safe for concurrent use.
type Fusion struct {
	mu    sync.RWMutex
	alpha float64
	clock timeutil.Clock
	state SensorState
}

// NewFusion creates a filter. A nil clock uses wall-clock time.
func NewFusion(cfg FusionConfig, clock timeutil.Clock) *Fusion {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = DefaultAlpha
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Fusion{alpha: cfg.Alpha, clock: clock}
}

// Update feeds one sample and returns the new state. Missing components
// are read as zero; an absent sample leaves the filter unchanged.
func (f *Fusion) Update(s Sample) SensorState {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s.Absent() {
		return f.state
	}

	now := s.Time
	if now.IsZero() {
		now = f.clock.Now()
	}

	raw := worldAngles(valueOr(s.Alpha), valueOr(s.Beta), valueOr(s.Gamma))

	if !f.state.Calibrated {
		f.state.Smoothed = raw
		f.state.Previous = raw
		f.state.Calibrated = true
		f.state.LastUpdate = now
		return f.state
	}

	dt := now.Sub(f.state.LastUpdate).Seconds()
	f.state.LastUpdate = now

	sm := &f.state.Smoothed
	sm.Yaw = emaCircular(sm.Yaw, raw.Yaw, f.alpha)
	sm.Pitch = emaLinear(sm.Pitch, raw.Pitch, f.alpha)
	sm.Roll = emaLinear(sm.Roll, raw.Roll, f.alpha)

	if dt > 0 {
		prev := f.state.Previous
		f.state.Velocity = Angles{
			Yaw:   AngleDiff(sm.Yaw, prev.Yaw) / dt,
			Pitch: (sm.Pitch - prev.Pitch) / dt,
			Roll:  (sm.Roll - prev.Roll) / dt,
		}
	}
	f.state.Previous = *sm
	return f.state
}

// Calibrate snapshots the current smoothed yaw as the zero reference.
func (f *Fusion) Calibrate() {
	f.mu.Lock()
	ref := f.state.Smoothed.Yaw
	f.state.RefYaw = &ref
	f.mu.Unlock()
}

// HasReference reports whether Calibrate has been called since the last Reset.
func (f *Fusion) HasReference() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.RefYaw != nil
}

// Calibrated reports whether any sample has seeded the filter.
func (f *Fusion) Calibrated() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.Calibrated
}

// RelativeYaw returns smoothed yaw minus the reference, in [0,360). It is 0
// until Calibrate is called.
func (f *Fusion) RelativeYaw() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.state.RefYaw == nil {
		return 0
	}
	return NormalizeYaw(f.state.Smoothed.Yaw - *f.state.RefYaw)
}

func (f *Fusion) Pitch() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.Smoothed.Pitch
}

func (f *Fusion) Roll() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.Smoothed.Roll
}

// IsStable is true iff both yaw and pitch angular speed are below th.
func (f *Fusion) IsStable(th Thresholds) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v := f.state.Velocity
	return math.Abs(v.Yaw) < th.Yaw && math.Abs(v.Pitch) < th.Pitch
}

// AngularSpeed is the Euclidean norm of the yaw/pitch velocity.
func (f *Fusion) AngularSpeed() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v := f.state.Velocity
	return math.Hypot(v.Yaw, v.Pitch)
}

// State returns a copy of the filter state.
func (f *Fusion) State() SensorState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	st := f.state
	if st.RefYaw != nil {
		ref := *st.RefYaw
		st.RefYaw = &ref
	}
	return st
}

// Pose returns the calibrated pose: relative yaw plus smoothed pitch/roll.
func (f *Fusion) Pose() Pose {
	return Pose{Yaw: f.RelativeYaw(), Pitch: f.Pitch(), Roll: f.Roll()}
}

// Reset drops all state, including the calibration reference.
func (f *Fusion) Reset() {
	f.mu.Lock()
	f.state = SensorState{}
	f.mu.Unlock()
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// worldAngles converts device alpha/beta/gamma (degrees) into world
// yaw/pitch/roll. The device quaternion is built in Z-X-Y order, remapped
// by the upright compensation and decomposed in Y-X-Z order so that yaw is
// the rotation about the vertical axis.
func worldAngles(alpha, beta, gamma float64) Angles {
	q := quat.Mul(compensation, eulerZXY(rad(beta), rad(gamma), rad(alpha)))
	x, y, z := decomposeYXZ(q)

	return Angles{
		Yaw:   NormalizeYaw(-deg(y)),
		Pitch: deg(x),
		Roll:  deg(z),
	}
}

// eulerZXY returns qz(z)·qx(x)·qy(y).
func eulerZXY(x, y, z float64) quat.Number {
	qx := quat.Number{Real: math.Cos(x / 2), Imag: math.Sin(x / 2)}
	qy := quat.Number{Real: math.Cos(y / 2), Jmag: math.Sin(y / 2)}
	qz := quat.Number{Real: math.Cos(z / 2), Kmag: math.Sin(z / 2)}
	return quat.Mul(quat.Mul(qz, qx), qy)
}

// decomposeYXZ extracts Euler angles (radians) for R = Ry·Rx·Rz.
func decomposeYXZ(q quat.Number) (x, y, z float64) {
	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	w, qx, qy, qz := q.Real, q.Imag, q.Jmag, q.Kmag

	m11 := 1 - 2*(qy*qy+qz*qz)
	m13 := 2 * (qx*qz + w*qy)
	m21 := 2 * (qx*qy + w*qz)
	m22 := 1 - 2*(qx*qx+qz*qz)
	m23 := 2 * (qy*qz - w*qx)
	m31 := 2 * (qx*qz - w*qy)
	m33 := 1 - 2*(qx*qx+qy*qy)

	x = math.Asin(-clamp(m23, -1, 1))
	if math.Abs(m23) < 0.9999999 {
		y = math.Atan2(m13, m33)
		z = math.Atan2(m21, m22)
	} else {
		y = math.Atan2(-m31, m11)
		z = 0
	}
	return x, y, z
}

func emaLinear(prev, curr, a float64) float64 {
	return prev + a*(curr-prev)
}

func emaCircular(prev, curr, a float64) float64 {
	return NormalizeYaw(prev + a*AngleDiff(curr, prev))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }
