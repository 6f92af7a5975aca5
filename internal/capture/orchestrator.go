// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/sphere_capture/internal/frame"
	"github.com/relabs-tech/sphere_capture/internal/logging"
	"github.com/relabs-tech/sphere_capture/internal/orientation"
	"github.com/relabs-tech/sphere_capture/internal/store"
	"github.com/relabs-tech/sphere_capture/internal/timeutil"
)

var (
	// ErrCaptureDevice is fatal for the session: the camera stopped working.
	ErrCaptureDevice = errors.New("capture device unavailable")
	// ErrCaptureInFlight rejects a capture while another is outstanding.
	ErrCaptureInFlight = errors.New("capture already in flight")
	// ErrSessionComplete means every target has a frame.
	ErrSessionComplete = errors.New("capture session complete")
)

// PoseReader is the part of orientation.Fusion the orchestrator reads.
type PoseReader interface {
	HasReference() bool
	RelativeYaw() float64
	Pitch() float64
	Roll() float64
	IsStable(th orientation.Thresholds) bool
	AngularSpeed() float64
}

// Availability reports whether the orientation feed is delivering data.
type Availability interface {
	Available() bool
}

// Publisher receives status snapshots and stored frame records.
type Publisher interface {
	PublishStatus(Status) error
	PublishFrame(frame.Record) error
}

// Status is a snapshot of the session after one tick.
type Status struct {
	Visual
	Target    *Target `json:"target,omitempty"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Yaw       float64 `json:"yaw"`
	Pitch     float64 `json:"pitch"`
	Roll      float64 `json:"roll"`
	ErrorDeg  float64 `json:"error_deg"`
	Manual    bool    `json:"manual"`
	InFlight  bool    `json:"in_flight"`
	Done      bool    `json:"done"`
}

// OrchestratorConfig wires the session together.
type OrchestratorConfig struct {
	Gate         Config
	Stability    orientation.Thresholds
	TickInterval time.Duration
	HFOV         float64 // used when the camera reports none
}

// Orchestrator walks the target grid, drives the state machine from the
// fused pose and records a frame whenever the gate opens.
type Orchestrator struct {
	pose   PoseReader
	avail  Availability
	camera Camera
	repo   store.Repository
	pub    Publisher
	clock  timeutil.Clock
	cfg    OrchestratorConfig
	log    *logging.Logger

	// inflight is the single capture token: full while a frame is being
	// grabbed and stored.
	inflight chan struct{}
	wg       sync.WaitGroup

	mu        sync.Mutex
	sm        *StateMachine
	targets   []Target
	nextFrame int
	fatal     error

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

type OrchestratorOption func(*Orchestrator)

// WithAvailability lets the orchestrator fall back to manual capture while
// the orientation feed is down.
func WithAvailability(a Availability) OrchestratorOption {
	return func(o *Orchestrator) { o.avail = a }
}

func WithPublisher(p Publisher) OrchestratorOption {
	return func(o *Orchestrator) { o.pub = p }
}

func WithClock(c timeutil.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

func NewOrchestrator(cfg OrchestratorConfig, targets []Target, pose PoseReader, camera Camera, repo store.Repository, opts ...OrchestratorOption) *Orchestrator {
	if cfg.Stability == (orientation.Thresholds{}) {
		cfg.Stability = orientation.DefaultThresholds
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 33 * time.Millisecond
	}
	if cfg.HFOV <= 0 {
		cfg.HFOV = frame.DefaultHFOV
	}
	o := &Orchestrator{
		pose:      pose,
		camera:    camera,
		repo:      repo,
		clock:     timeutil.RealClock{},
		cfg:       cfg,
		log:       logging.With("component", "capture"),
		inflight:  make(chan struct{}, 1),
		targets:   append([]Target(nil), targets...),
		nextFrame: 1,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.sm = NewStateMachine(cfg.Gate, o.clock)
	return o
}

// Restore marks targets whose frames are already stored, so a restarted
// session continues where it stopped.
func (o *Orchestrator) Restore(ctx context.Context) error {
	m, err := o.repo.Manifest(ctx)
	if err != nil {
		return fmt.Errorf("restore manifest: %w", err)
	}
	frames, err := o.repo.Frames(ctx)
	if err != nil {
		return fmt.Errorf("restore frames: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	// Numbering continues after the highest stored id; failed appends
	// leave gaps.
	o.nextFrame = 1
	for _, r := range m.Frames {
		if n, ok := frame.FrameNumber(r.ID); ok && n >= o.nextFrame {
			o.nextFrame = n + 1
		}
	}
	restored := 0
	for _, f := range frames {
		for i := range o.targets {
			if o.targets[i].ID == f.TargetID && !o.targets[i].Completed {
				o.targets[i].Completed = true
				o.targets[i].Thumbnail = f.ID
				restored++
				break
			}
		}
	}
	o.log.Info("capture: session restored", "session", m.SessionID, "frames", len(frames), "targets", restored)
	return nil
}

// Targets returns a copy of the grid.
func (o *Orchestrator) Targets() []Target {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Target(nil), o.targets...)
}

// Tick runs one control step. It returns the fatal device error once the
// camera has failed.
func (o *Orchestrator) Tick(ctx context.Context) (Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fatal != nil {
		return o.statusLocked(nil, 0, true), o.fatal
	}
	if o.sm.State() == StateCaptured {
		o.sm.Reset()
	}

	target := o.nextTargetLocked()
	if target == nil {
		o.sm.Update(Alignment{}, Motion{})
		return o.statusLocked(nil, 0, false), nil
	}

	if !o.sensorReadyLocked() {
		if o.sm.State() != StateCapturing {
			o.sm.Reset()
		}
		return o.statusLocked(target, 0, true), nil
	}

	yaw, pitch := o.pose.RelativeYaw(), o.pose.Pitch()
	a := Alignment{
		Target:    target,
		YawDiff:   orientation.AngleDiff(target.Yaw, yaw),
		PitchDiff: target.Pitch - pitch,
	}
	if target.Pole() {
		a.YawDiff = 0
	}
	o.sm.Update(a, Motion{
		Roll:         o.pose.Roll(),
		Stable:       o.pose.IsStable(o.cfg.Stability),
		AngularSpeed: o.pose.AngularSpeed(),
	})

	if o.sm.CanCapture() {
		if err := o.startCaptureLocked(ctx, target); err != nil && !errors.Is(err, ErrCaptureInFlight) {
			return o.statusLocked(target, a.Error(), false), err
		}
	}
	return o.statusLocked(target, a.Error(), false), nil
}

// CaptureNow records a frame for the current target regardless of the
// gate. It is the manual path when the sensors cannot be trusted.
func (o *Orchestrator) CaptureNow(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fatal != nil {
		return o.fatal
	}
	target := o.nextTargetLocked()
	if target == nil {
		return ErrSessionComplete
	}
	return o.startCaptureLocked(ctx, target)
}

// startCaptureLocked takes the token and grabs asynchronously.
func (o *Orchestrator) startCaptureLocked(ctx context.Context, target *Target) error {
	select {
	case o.inflight <- struct{}{}:
	default:
		return ErrCaptureInFlight
	}
	idx := -1
	for i := range o.targets {
		if &o.targets[i] == target {
			idx = i
			break
		}
	}
	o.sm.Capture()

	sensors := frame.Sensors{Yaw: o.pose.RelativeYaw(), Pitch: o.pose.Pitch(), Roll: o.pose.Roll()}
	id := frame.FrameID(o.nextFrame)
	o.nextFrame++

	o.log.Debug("capture: triggered", "target", target.ID, "frame", id)
	o.wg.Add(1)
	go o.grab(ctx, idx, target.ID, id, sensors)
	return nil
}

func (o *Orchestrator) grab(ctx context.Context, idx int, targetID, id string, sensors frame.Sensors) {
	defer o.wg.Done()
	defer func() { <-o.inflight }()

	shot, err := o.camera.Grab(ctx)
	if err == nil && len(shot.Image) == 0 {
		err = errors.New("camera returned an empty image")
	}
	if err != nil && ctx.Err() != nil {
		o.mu.Lock()
		o.sm.Reset()
		o.mu.Unlock()
		o.log.Warn("capture: grab cancelled", "target", targetID)
		return
	}
	if err != nil {
		o.mu.Lock()
		o.fatal = fmt.Errorf("%w: %v", ErrCaptureDevice, err)
		o.sm.Reset()
		o.mu.Unlock()
		o.log.Error("capture: camera failed", "target", targetID, "err", err)
		return
	}

	hfov := shot.HFOV
	if hfov <= 0 {
		hfov = o.cfg.HFOV
	}
	rec := frame.Record{
		ID:        id,
		Timestamp: o.clock.Now().UnixMilli(),
		Sensors:   sensors,
		Camera:    frame.Camera{HFOV: hfov},
		TargetID:  targetID,
	}
	// a grabbed frame is stored even if the session is being stopped
	if err := o.repo.Append(context.WithoutCancel(ctx), frame.Frame{Record: rec, Image: shot.Image}); err != nil {
		o.mu.Lock()
		o.sm.Reset()
		o.mu.Unlock()
		o.log.Error("capture: frame not stored, target stays open", "target", targetID, "err", err)
		return
	}

	o.mu.Lock()
	if idx >= 0 && idx < len(o.targets) {
		o.targets[idx].Completed = true
		o.targets[idx].Thumbnail = id
	}
	if o.sm.State() == StateCapturing {
		o.sm.Complete()
	} else {
		o.sm.Reset()
	}
	o.mu.Unlock()

	o.log.Info("capture: frame stored", "target", targetID, "frame", id, "yaw", sensors.Yaw, "pitch", sensors.Pitch)
	if o.pub != nil {
		if err := o.pub.PublishFrame(rec); err != nil {
			o.log.Warn("capture: publish frame failed", "err", err)
		}
	}
}

// ResetSession clears the stored session and reopens every target. It is
// rejected with ErrCaptureInFlight while a capture is outstanding.
func (o *Orchestrator) ResetSession(ctx context.Context) (string, error) {
	select {
	case o.inflight <- struct{}{}:
	default:
		return "", ErrCaptureInFlight
	}
	defer func() { <-o.inflight }()

	id, err := o.repo.Reset(ctx)
	if err != nil {
		return "", fmt.Errorf("reset session: %w", err)
	}

	o.mu.Lock()
	for i := range o.targets {
		o.targets[i].Completed = false
		o.targets[i].Thumbnail = ""
	}
	o.nextFrame = 1
	o.sm.Reset()
	o.mu.Unlock()

	o.log.Info("capture: session reset", "session", id, "targets", len(o.targets))
	return id, nil
}

// Wait blocks until no capture is in flight.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Status returns the current snapshot without advancing the gate.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	target := o.nextTargetLocked()
	var errDeg float64
	manual := !o.sensorReadyLocked()
	if target != nil && !manual {
		a := Alignment{YawDiff: orientation.AngleDiff(target.Yaw, o.pose.RelativeYaw()), PitchDiff: target.Pitch - o.pose.Pitch()}
		if target.Pole() {
			a.YawDiff = 0
		}
		errDeg = a.Error()
	}
	return o.statusLocked(target, errDeg, manual)
}

func (o *Orchestrator) nextTargetLocked() *Target {
	for i := range o.targets {
		if !o.targets[i].Completed {
			return &o.targets[i]
		}
	}
	return nil
}

func (o *Orchestrator) sensorReadyLocked() bool {
	if o.avail != nil && !o.avail.Available() {
		return false
	}
	return o.pose.HasReference()
}

func (o *Orchestrator) statusLocked(target *Target, errDeg float64, manual bool) Status {
	st := Status{
		Visual:   o.sm.Visual(),
		Total:    len(o.targets),
		Yaw:      o.pose.RelativeYaw(),
		Pitch:    o.pose.Pitch(),
		Roll:     o.pose.Roll(),
		ErrorDeg: errDeg,
		Manual:   manual,
		InFlight: len(o.inflight) > 0,
	}
	for _, t := range o.targets {
		if t.Completed {
			st.Completed++
		}
	}
	st.Done = st.Completed == st.Total
	if target != nil {
		t := *target
		st.Target = &t
	}
	return st
}

// Start runs Tick on a ticker until Stop, the session completes or the
// camera fails. Each status is handed to the publisher.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.cancel != nil {
		return errors.New("capture loop already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})
	o.err = nil

	go o.loop(ctx, o.done)
	o.log.Info("capture: loop started", "interval", o.cfg.TickInterval, "targets", len(o.targets))
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Statuses go out on their own goroutine so a slow broker never holds
	// up the gate. The loop drops the oldest pending status when full.
	var statuses chan Status
	if o.pub != nil {
		statuses = make(chan Status, statusBuffer)
		pubDone := make(chan struct{})
		go o.publishStatuses(ctx, statuses, pubDone)
		defer func() {
			close(statuses)
			<-pubDone
		}()
	}

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := o.Tick(ctx)
			if statuses != nil {
				offerStatus(statuses, st)
			}
			if err != nil {
				o.setErr(err)
				return
			}
			if st.Done && !st.InFlight {
				o.log.Info("capture: all targets captured", "frames", st.Completed)
				return
			}
		}
	}
}

// statusBuffer bounds the statuses waiting for the publisher.
const statusBuffer = 4

// offerStatus enqueues st, discarding the oldest queued status when the
// buffer is full. ch must have a single sender.
func offerStatus(ch chan Status, st Status) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// publishStatuses drains ch until it is closed. Once ctx is cancelled the
// remaining statuses are dropped.
func (o *Orchestrator) publishStatuses(ctx context.Context, ch <-chan Status, done chan<- struct{}) {
	defer close(done)
	for st := range ch {
		if ctx.Err() != nil {
			continue
		}
		if err := o.pub.PublishStatus(st); err != nil {
			o.log.Debug("capture: publish status failed", "err", err)
		}
	}
}

func (o *Orchestrator) setErr(err error) {
	o.loopMu.Lock()
	o.err = err
	o.loopMu.Unlock()
}

// Done is closed when the loop exits.
func (o *Orchestrator) Done() <-chan struct{} {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	return o.done
}

// Err is the error that ended the loop, if any.
func (o *Orchestrator) Err() error {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	return o.err
}

// Stop ends the loop and waits for it and any in-flight capture.
func (o *Orchestrator) Stop() {
	o.loopMu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel = nil
	o.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	o.wg.Wait()
}
