// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/sphere_capture/internal/capture"
	"github.com/relabs-tech/sphere_capture/internal/config"
	"github.com/relabs-tech/sphere_capture/internal/logging"
	"github.com/relabs-tech/sphere_capture/internal/orientation"
	"github.com/relabs-tech/sphere_capture/internal/raster"
	"github.com/relabs-tech/sphere_capture/internal/stitch"
)

// loadedConfig returns the global config set by InitGlobal and applies its
// log level.
func loadedConfig() (*config.Config, error) {
	cfg := config.Get()
	if cfg == nil {
		return nil, errors.New("config not initialized")
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)
	return cfg, nil
}

// connectMQTT connects a client to the configured broker.
func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	logging.Info("mqtt: connected", "broker", broker, "client_id", clientID)
	return client, nil
}

// subscribe registers handler on topic and waits for the broker to ack.
func subscribe(client mqtt.Client, topic string, handler mqtt.MessageHandler) error {
	token := client.Subscribe(topic, 0, handler)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	logging.Info("mqtt: subscribed", "topic", topic)
	return nil
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// orientationSource picks the mock sweep or the SPI IMU.
func orientationSource(cfg *config.Config) (orientation.Source, error) {
	switch cfg.SensorSource {
	case "imu":
		return orientation.NewIMUSource(cfg.IMUSPIDevice, cfg.IMUCSPin)
	default:
		return orientation.NewMockSource(), nil
	}
}

// cameraFor picks the synthetic camera or a directory of prepared frames.
func cameraFor(cfg *config.Config) (capture.Camera, error) {
	switch cfg.CameraSource {
	case "dir":
		cam, err := capture.NewDirCamera(cfg.CameraDir, cfg.CameraHFOVDeg)
		if err != nil {
			return nil, err
		}
		return cam, nil
	default:
		return capture.NewMockCamera(640, 480, cfg.CameraHFOVDeg), nil
	}
}

// gateConfig maps the capture gate keys.
func gateConfig(cfg *config.Config) capture.OrchestratorConfig {
	return capture.OrchestratorConfig{
		Gate: capture.Config{
			AlignmentThreshold: cfg.AlignmentThresholdDeg,
			LockThreshold:      cfg.LockThresholdDeg,
			StabilityDuration:  cfg.StabilityDuration(),
			RollTolerance:      cfg.RollToleranceDeg,
			MinAngularSpeed:    cfg.MinAngularSpeedDPS,
		},
		Stability:    orientation.Thresholds{Yaw: cfg.StableYawDPS, Pitch: cfg.StablePitchDPS},
		TickInterval: cfg.TickInterval(),
		HFOV:         cfg.CameraHFOVDeg,
	}
}

// stitchConfig maps the STITCH_* keys; everything else keeps the engine
// defaults.
func stitchConfig(cfg *config.Config) stitch.Config {
	sc := stitch.DefaultConfig()
	sc.Tiers = []stitch.Tier{
		{Width: cfg.StitchWidth, Height: cfg.StitchHeight},
		{Width: cfg.StitchFallbackWidth, Height: cfg.StitchFallbackHeight},
	}
	sc.MaxPixels = cfg.StitchMaxPixels
	sc.MinFrames = cfg.StitchMinFrames
	sc.Slices = cfg.StitchSlices
	sc.SliceOverlap = cfg.StitchSliceOverlap
	sc.WarpMargin = cfg.StitchWarpMargin
	sc.FeatherH = cfg.StitchFeatherH
	sc.FeatherV = cfg.StitchFeatherV
	sc.Exposure = raster.DefaultExposure
	sc.Exposure.Target = cfg.StitchExposureTarget
	sc.PoleFraction = cfg.StitchPoleFraction
	sc.JPEGQuality = cfg.StitchJPEGQuality
	return sc
}
