// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package capture gates and records the frames of a spherical capture
// session. A hysteresis state machine decides when the rig is aligned and
// steady enough to shoot; the orchestrator walks the target grid, fires the
// camera and persists each frame.
package capture

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/sphere_capture/internal/logging"
	"github.com/relabs-tech/sphere_capture/internal/timeutil"
)

// State is one step of the capture gate.
type State int

const (
	StateIdle State = iota
	StateApproaching
	StateAligning
	StateStable
	StateCaptureReady
	StateCapturing
	StateCaptured
)

var stateNames = [...]string{
	StateIdle:         "IDLE",
	StateApproaching:  "APPROACHING",
	StateAligning:     "ALIGNING",
	StateStable:       "STABLE",
	StateCaptureReady: "CAPTURE_READY",
	StateCapturing:    "CAPTURING",
	StateCaptured:     "CAPTURED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown capture state %q", b)
}

// backoff widens every exit threshold relative to its entry threshold.
const backoff = 1.5

// Config holds the gate thresholds. Zero fields take the defaults.
type Config struct {
	AlignmentThreshold float64       // degrees of error to start approaching
	LockThreshold      float64       // degrees of error to start aligning
	StabilityDuration  time.Duration // steady time before capture is allowed
	RollTolerance      float64       // degrees
	MinAngularSpeed    float64       // degrees/second
}

func DefaultConfig() Config {
	return Config{
		AlignmentThreshold: 8,
		LockThreshold:      3,
		StabilityDuration:  600 * time.Millisecond,
		RollTolerance:      5,
		MinAngularSpeed:    10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AlignmentThreshold <= 0 {
		c.AlignmentThreshold = d.AlignmentThreshold
	}
	if c.LockThreshold <= 0 {
		c.LockThreshold = d.LockThreshold
	}
	if c.StabilityDuration <= 0 {
		c.StabilityDuration = d.StabilityDuration
	}
	if c.RollTolerance <= 0 {
		c.RollTolerance = d.RollTolerance
	}
	if c.MinAngularSpeed <= 0 {
		c.MinAngularSpeed = d.MinAngularSpeed
	}
	return c
}

// Alignment is the angular error to the current target. A nil Target
// means there is nothing left to aim at.
type Alignment struct {
	Target    *Target
	YawDiff   float64
	PitchDiff float64
}

// Error is the combined angular error in degrees.
func (a Alignment) Error() float64 {
	return math.Hypot(a.YawDiff, a.PitchDiff)
}

// Motion is the sensor side of an update.
type Motion struct {
	Roll         float64
	Stable       bool
	AngularSpeed float64
}

// StateMachine is not safe for concurrent use; the orchestrator guards it.
type StateMachine struct {
	cfg         Config
	clock       timeutil.Clock
	state       State
	target      *Target
	stableSince time.Time
	log         *logging.Logger
}

func NewStateMachine(cfg Config, clock timeutil.Clock) *StateMachine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &StateMachine{
		cfg:   cfg.withDefaults(),
		clock: clock,
		log:   logging.With("component", "capture"),
	}
}

func (m *StateMachine) Config() Config { return m.cfg }
func (m *StateMachine) State() State   { return m.state }
func (m *StateMachine) Target() *Target {
	return m.target
}

// Update advances the gate by one observation and returns the new state.
func (m *StateMachine) Update(a Alignment, mo Motion) State {
	if a.Target == nil {
		m.setState(StateIdle)
		return m.state
	}
	m.target = a.Target

	err := a.Error()
	roll := math.Abs(mo.Roll)
	c := m.cfg

	switch m.state {
	case StateIdle:
		if err < c.AlignmentThreshold {
			m.setState(StateApproaching)
		}

	case StateApproaching:
		if err > c.AlignmentThreshold*backoff {
			m.setState(StateIdle)
		} else if err < c.LockThreshold && roll < c.RollTolerance {
			m.setState(StateAligning)
		}

	case StateAligning:
		if err > c.LockThreshold*backoff {
			m.setState(StateApproaching)
		} else if mo.Stable && mo.AngularSpeed < c.MinAngularSpeed {
			m.setState(StateStable)
			m.stableSince = m.clock.Now()
		}

	case StateStable:
		if !mo.Stable || mo.AngularSpeed > c.MinAngularSpeed*backoff || err > c.LockThreshold*backoff {
			m.setState(StateAligning)
			m.stableSince = time.Time{}
		} else if m.clock.Now().Sub(m.stableSince) >= c.StabilityDuration {
			m.setState(StateCaptureReady)
		}

	case StateCaptureReady:
		if !mo.Stable || mo.AngularSpeed > c.MinAngularSpeed*backoff || err > c.LockThreshold*backoff {
			m.setState(StateAligning)
			m.stableSince = time.Time{}
		}

	case StateCapturing, StateCaptured:
		// held until Complete or Reset
	}
	return m.state
}

// CanCapture is true only in CAPTURE_READY.
func (m *StateMachine) CanCapture() bool {
	return m.state == StateCaptureReady
}

// Capture moves CAPTURE_READY to CAPTURING. It is a no-op returning false
// in every other state.
func (m *StateMachine) Capture() bool {
	if !m.CanCapture() {
		return false
	}
	m.setState(StateCapturing)
	return true
}

// Complete moves CAPTURING to CAPTURED.
func (m *StateMachine) Complete() {
	if m.state == StateCapturing {
		m.setState(StateCaptured)
	}
}

// Reset returns to IDLE and drops the target and timer.
func (m *StateMachine) Reset() {
	m.setState(StateIdle)
	m.target = nil
	m.stableSince = time.Time{}
}

// StabilityProgress is the fraction of StabilityDuration held so far.
func (m *StateMachine) StabilityProgress() float64 {
	switch {
	case m.state == StateCaptureReady:
		return 1
	case m.state != StateStable || m.stableSince.IsZero():
		return 0
	}
	p := float64(m.clock.Now().Sub(m.stableSince)) / float64(m.cfg.StabilityDuration)
	return math.Max(0, math.Min(1, p))
}

// Visual is the operator feedback for the current state.
type Visual struct {
	State      State   `json:"state"`
	Progress   float64 `json:"progress"`
	CanCapture bool    `json:"can_capture"`
	Color      string  `json:"color"`
	Message    string  `json:"message"`
}

var visuals = [...]struct{ color, message string }{
	StateIdle:         {"#666666", "Find the dot"},
	StateApproaching:  {"#FFA500", "Getting closer..."},
	StateAligning:     {"#FFFF00", "Hold steady..."},
	StateStable:       {"#90EE90", "Stabilizing..."},
	StateCaptureReady: {"#00FF00", "Ready, hold still"},
	StateCapturing:    {"#00FFFF", "Capturing..."},
	StateCaptured:     {"#0080FF", "Captured!"},
}

func (m *StateMachine) Visual() Visual {
	v := visuals[m.state]
	return Visual{
		State:      m.state,
		Progress:   m.StabilityProgress(),
		CanCapture: m.CanCapture(),
		Color:      v.color,
		Message:    v.message,
	}
}

func (m *StateMachine) setState(s State) {
	if m.state == s {
		return
	}
	m.log.Debug("capture: state change", "from", m.state, "to", s)
	m.state = s
}
