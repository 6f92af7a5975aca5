// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/relabs-tech/sphere_capture/internal/capture"
	"github.com/relabs-tech/sphere_capture/internal/config"
	"github.com/relabs-tech/sphere_capture/internal/gps"
	"github.com/relabs-tech/sphere_capture/internal/logging"
	"github.com/relabs-tech/sphere_capture/internal/orientation"
	"github.com/relabs-tech/sphere_capture/internal/store"
)

const (
	calibrationWait = 2 * time.Second
	gpsFixTimeout   = 30 * time.Second
)

// RunCapture runs one capture session: the orientation feed drives the
// orchestrator, frames land in the session store and status goes to MQTT.
// Pressing Enter on stdin triggers a manual capture. With reset the stored
// session is cleared first and a new one begins.
func RunCapture(reset bool) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	log := logging.With("component", "capture")

	ctx, stop := signalContext()
	defer stop()

	src, err := orientationSource(cfg)
	if err != nil {
		// Manual captures still work without sensors.
		log.Warn("capture: orientation source unavailable, manual mode only", "err", err)
		src = unavailableSource{err: err}
	}
	fusion := orientation.NewFusion(orientation.FusionConfig{Alpha: cfg.FusionAlpha}, nil)
	feed := orientation.NewFeed(src, fusion, cfg.SampleInterval())
	if err := feed.Start(ctx); err != nil {
		return err
	}
	defer feed.Stop()

	if waitCalibrated(ctx, fusion, calibrationWait) {
		fusion.Calibrate()
		log.Info("capture: yaw reference set", "pitch", fusion.Pitch())
	} else {
		log.Warn("capture: no orientation data, manual mode only")
	}

	repo, err := store.OpenSQLite(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer repo.Close()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDCapture)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	publish := mqttPublish(client)

	if cfg.GPSSerialPort != "" {
		geotag(ctx, cfg, repo, publish)
	}

	rings, err := capture.ParseRings(cfg.GridRings)
	if err != nil {
		return fmt.Errorf("GRID_RINGS: %w", err)
	}
	targets := capture.BuildGrid(rings, cfg.GridPoles)

	cam, err := cameraFor(cfg)
	if err != nil {
		return fmt.Errorf("camera: %w", err)
	}

	orch := capture.NewOrchestrator(gateConfig(cfg), targets, fusion, cam, repo,
		capture.WithAvailability(feed),
		capture.WithPublisher(newStatusPublisher(publish, cfg.TopicCaptureState, cfg.TopicCaptureFrame, cfg.TopicPose)),
	)
	if err := startSession(ctx, orch, reset); err != nil {
		return err
	}
	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Stop()

	go manualTrigger(ctx, os.Stdin, orch)

	select {
	case <-orch.Done():
	case <-ctx.Done():
		log.Info("capture: shutting down")
	}
	orch.Stop()

	st := orch.Status()
	log.Info("capture: session ended", "completed", st.Completed, "total", st.Total)
	return orch.Err()
}

// startSession either clears the stored session or continues it.
func startSession(ctx context.Context, orch *capture.Orchestrator, reset bool) error {
	if reset {
		_, err := orch.ResetSession(ctx)
		return err
	}
	if err := orch.Restore(ctx); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if orch.Status().Done {
		logging.Info("capture: stored session already complete, run with -reset to start a new one")
	}
	return nil
}

// waitCalibrated polls until the fusion has seen a sample.
func waitCalibrated(ctx context.Context, fusion *orientation.Fusion, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for !fusion.Calibrated() {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
	return true
}

// geotag stores the first GPS fix as the session location. A missing fix
// only costs the geotag.
func geotag(ctx context.Context, cfg *config.Config, repo store.Repository, publish publishFunc) {
	log := logging.With("component", "gps")
	gctx, cancel := context.WithTimeout(ctx, gpsFixTimeout)
	defer cancel()

	fix, err := gps.ReadFix(gctx, cfg.GPSSerialPort, cfg.GPSBaudRate)
	if err != nil {
		log.Warn("gps: no fix, session not geotagged", "port", cfg.GPSSerialPort, "err", err)
		return
	}
	if err := repo.SetLocation(ctx, fix); err != nil {
		log.Warn("gps: store location failed", "err", err)
		return
	}
	log.Info("gps: session geotagged", "lat", fix.Latitude, "lon", fix.Longitude, "sats", fix.Satellites)

	if payload, err := json.Marshal(fix); err == nil {
		if err := publish(cfg.TopicGPS, true, payload); err != nil {
			log.Debug("gps: publish failed", "err", err)
		}
	}
}

// manualTrigger calls CaptureNow for every line read from r.
func manualTrigger(ctx context.Context, r io.Reader, orch *capture.Orchestrator) {
	log := logging.With("component", "capture")
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		err := orch.CaptureNow(ctx)
		switch {
		case err == nil:
			log.Info("capture: manual capture started")
		case errors.Is(err, capture.ErrCaptureInFlight):
			log.Info("capture: capture already in progress")
		case errors.Is(err, capture.ErrSessionComplete):
			log.Info("capture: all targets captured")
			return
		default:
			log.Error("capture: manual capture failed", "err", err)
			return
		}
	}
}

// unavailableSource stands in for a sensor that could not be opened.
type unavailableSource struct{ err error }

func (s unavailableSource) Next() (orientation.Sample, error) {
	return orientation.Sample{}, fmt.Errorf("%w: %v", orientation.ErrSensorUnavailable, s.err)
}
