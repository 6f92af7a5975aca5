// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every key when reading environment overrides,
// e.g. SPHERE_MQTT_BROKER overrides MQTT_BROKER.
const EnvPrefix = "SPHERE_"

// Config holds all application configuration values. The env tags match
// the file keys.
type Config struct {
	// MQTT
	MQTTBroker          string `env:"MQTT_BROKER"`
	MQTTClientIDCapture string `env:"MQTT_CLIENT_ID_CAPTURE"`
	MQTTClientIDStitch  string `env:"MQTT_CLIENT_ID_STITCH"`
	MQTTClientIDConsole string `env:"MQTT_CLIENT_ID_CONSOLE"`
	MQTTClientIDWeb     string `env:"MQTT_CLIENT_ID_WEB"`

	// Topics
	TopicPose         string `env:"TOPIC_POSE"`
	TopicCaptureState string `env:"TOPIC_CAPTURE_STATE"`
	TopicCaptureFrame string `env:"TOPIC_CAPTURE_FRAME"`
	TopicStitch       string `env:"TOPIC_STITCH"`
	TopicGPS          string `env:"TOPIC_GPS"`

	// Session store
	StorePath string `env:"STORE_PATH"`

	// Orientation source: "mock" or "imu"
	SensorSource         string `env:"SENSOR_SOURCE"`
	IMUSPIDevice         string `env:"IMU_SPI_DEVICE"`
	IMUCSPin             string `env:"IMU_CS_PIN"`
	SensorSampleInterval int    `env:"SENSOR_SAMPLE_INTERVAL"` // milliseconds

	// Fusion
	FusionAlpha    float64 `env:"FUSION_ALPHA"`
	StableYawDPS   float64 `env:"STABLE_YAW_DPS"`
	StablePitchDPS float64 `env:"STABLE_PITCH_DPS"`

	// Capture grid, "pitch:count[:offset]" comma separated
	GridRings string `env:"GRID_RINGS"`
	GridPoles bool   `env:"GRID_POLES"`

	// Capture gate
	AlignmentThresholdDeg float64 `env:"ALIGNMENT_THRESHOLD_DEG"`
	LockThresholdDeg      float64 `env:"LOCK_THRESHOLD_DEG"`
	StabilityDurationMS   int     `env:"STABILITY_DURATION_MS"`
	RollToleranceDeg      float64 `env:"ROLL_TOLERANCE_DEG"`
	MinAngularSpeedDPS    float64 `env:"MIN_ANGULAR_SPEED_DPS"`
	TickIntervalMS        int     `env:"TICK_INTERVAL_MS"`

	// Camera: "mock" or "dir"
	CameraSource  string  `env:"CAMERA_SOURCE"`
	CameraDir     string  `env:"CAMERA_DIR"`
	CameraHFOVDeg float64 `env:"CAMERA_HFOV_DEG"`

	// GPS geotag; empty port disables it
	GPSSerialPort string `env:"GPS_SERIAL_PORT"`
	GPSBaudRate   int    `env:"GPS_BAUD_RATE"`

	// Stitching
	StitchWidth          int     `env:"STITCH_WIDTH"`
	StitchHeight         int     `env:"STITCH_HEIGHT"`
	StitchFallbackWidth  int     `env:"STITCH_FALLBACK_WIDTH"`
	StitchFallbackHeight int     `env:"STITCH_FALLBACK_HEIGHT"`
	StitchMaxPixels      int     `env:"STITCH_MAX_PIXELS"`
	StitchMinFrames      int     `env:"STITCH_MIN_FRAMES"`
	StitchSlices         int     `env:"STITCH_SLICES"`
	StitchSliceOverlap   float64 `env:"STITCH_SLICE_OVERLAP"`
	StitchWarpMargin     float64 `env:"STITCH_WARP_MARGIN"`
	StitchFeatherH       float64 `env:"STITCH_FEATHER_H"`
	StitchFeatherV       float64 `env:"STITCH_FEATHER_V"`
	StitchExposureTarget float64 `env:"STITCH_EXPOSURE_TARGET"`
	StitchPoleFraction   float64 `env:"STITCH_POLE_FRACTION"`
	StitchJPEGQuality    int     `env:"STITCH_JPEG_QUALITY"`
	StitchOutput         string  `env:"STITCH_OUTPUT"`

	// Web server and console
	WebServerPort      int `env:"WEB_SERVER_PORT"`
	ConsoleLogInterval int `env:"CONSOLE_LOG_INTERVAL"` // milliseconds

	LogLevel string `env:"LOG_LEVEL"`
}

// Default returns the values used for keys missing from the file.
func Default() *Config {
	return &Config{
		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDCapture: "sphere-capture",
		MQTTClientIDStitch:  "sphere-stitch",
		MQTTClientIDConsole: "sphere-console",
		MQTTClientIDWeb:     "sphere-web",

		TopicPose:         "sphere/pose",
		TopicCaptureState: "sphere/capture/state",
		TopicCaptureFrame: "sphere/capture/frame",
		TopicStitch:       "sphere/stitch",
		TopicGPS:          "sphere/gps",

		StorePath: "sphere_session.db",

		SensorSource:         "mock",
		IMUSPIDevice:         "/dev/spidev0.0",
		SensorSampleInterval: 10,

		FusionAlpha:    0.6,
		StableYawDPS:   4,
		StablePitchDPS: 4,

		GridRings: "45:8:22.5,0:8,-45:8:22.5",
		GridPoles: true,

		AlignmentThresholdDeg: 8,
		LockThresholdDeg:      3,
		StabilityDurationMS:   600,
		RollToleranceDeg:      5,
		MinAngularSpeedDPS:    10,
		TickIntervalMS:        33,

		CameraSource:  "mock",
		CameraHFOVDeg: 75,

		GPSBaudRate: 9600,

		StitchWidth:          8192,
		StitchHeight:         4096,
		StitchFallbackWidth:  4096,
		StitchFallbackHeight: 2048,
		StitchMaxPixels:      8192 * 4096,
		StitchMinFrames:      2,
		StitchSlices:         1200,
		StitchSliceOverlap:   1.75,
		StitchWarpMargin:     1.5,
		StitchFeatherH:       0.30,
		StitchFeatherV:       0.15,
		StitchExposureTarget: 128,
		StitchPoleFraction:   0.20,
		StitchJPEGQuality:    95,
		StitchOutput:         "panorama.jpg",

		WebServerPort:      8080,
		ConsoleLogInterval: 500,

		LogLevel: "info",
	}
}

func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.SensorSampleInterval) * time.Millisecond
}

func (c *Config) StabilityDuration() time.Duration {
	return time.Duration(c.StabilityDurationMS) * time.Millisecond
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file on top of Default, then applies
// SPHERE_* environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse is Load for an already opened reader.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_CAPTURE":
		c.MQTTClientIDCapture = value
	case "MQTT_CLIENT_ID_STITCH":
		c.MQTTClientIDStitch = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_POSE":
		c.TopicPose = value
	case "TOPIC_CAPTURE_STATE":
		c.TopicCaptureState = value
	case "TOPIC_CAPTURE_FRAME":
		c.TopicCaptureFrame = value
	case "TOPIC_STITCH":
		c.TopicStitch = value
	case "TOPIC_GPS":
		c.TopicGPS = value

	case "STORE_PATH":
		c.StorePath = value

	// Orientation
	case "SENSOR_SOURCE":
		c.SensorSource = strings.ToLower(value)
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "SENSOR_SAMPLE_INTERVAL":
		c.SensorSampleInterval, err = parseInt(key, value)
	case "FUSION_ALPHA":
		c.FusionAlpha, err = parseFloat(key, value)
	case "STABLE_YAW_DPS":
		c.StableYawDPS, err = parseFloat(key, value)
	case "STABLE_PITCH_DPS":
		c.StablePitchDPS, err = parseFloat(key, value)

	// Grid
	case "GRID_RINGS":
		c.GridRings = value
	case "GRID_POLES":
		c.GridPoles, err = strconv.ParseBool(value)
		if err != nil {
			err = fmt.Errorf("invalid GRID_POLES %q: %w", value, err)
		}

	// Gate
	case "ALIGNMENT_THRESHOLD_DEG":
		c.AlignmentThresholdDeg, err = parseFloat(key, value)
	case "LOCK_THRESHOLD_DEG":
		c.LockThresholdDeg, err = parseFloat(key, value)
	case "STABILITY_DURATION_MS":
		c.StabilityDurationMS, err = parseInt(key, value)
	case "ROLL_TOLERANCE_DEG":
		c.RollToleranceDeg, err = parseFloat(key, value)
	case "MIN_ANGULAR_SPEED_DPS":
		c.MinAngularSpeedDPS, err = parseFloat(key, value)
	case "TICK_INTERVAL_MS":
		c.TickIntervalMS, err = parseInt(key, value)

	// Camera
	case "CAMERA_SOURCE":
		c.CameraSource = strings.ToLower(value)
	case "CAMERA_DIR":
		c.CameraDir = value
	case "CAMERA_HFOV_DEG":
		c.CameraHFOVDeg, err = parseFloat(key, value)

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = parseInt(key, value)

	// Stitching
	case "STITCH_WIDTH":
		c.StitchWidth, err = parseInt(key, value)
	case "STITCH_HEIGHT":
		c.StitchHeight, err = parseInt(key, value)
	case "STITCH_FALLBACK_WIDTH":
		c.StitchFallbackWidth, err = parseInt(key, value)
	case "STITCH_FALLBACK_HEIGHT":
		c.StitchFallbackHeight, err = parseInt(key, value)
	case "STITCH_MAX_PIXELS":
		c.StitchMaxPixels, err = parseInt(key, value)
	case "STITCH_MIN_FRAMES":
		c.StitchMinFrames, err = parseInt(key, value)
	case "STITCH_SLICES":
		c.StitchSlices, err = parseInt(key, value)
	case "STITCH_SLICE_OVERLAP":
		c.StitchSliceOverlap, err = parseFloat(key, value)
	case "STITCH_WARP_MARGIN":
		c.StitchWarpMargin, err = parseFloat(key, value)
	case "STITCH_FEATHER_H":
		c.StitchFeatherH, err = parseFloat(key, value)
	case "STITCH_FEATHER_V":
		c.StitchFeatherV, err = parseFloat(key, value)
	case "STITCH_EXPOSURE_TARGET":
		c.StitchExposureTarget, err = parseFloat(key, value)
	case "STITCH_POLE_FRACTION":
		c.StitchPoleFraction, err = parseFloat(key, value)
	case "STITCH_JPEG_QUALITY":
		c.StitchJPEGQuality, err = parseInt(key, value)
	case "STITCH_OUTPUT":
		c.StitchOutput = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = parseInt(key, value)

	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// validate checks required fields and ranges.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.StorePath == "" {
		return fmt.Errorf("STORE_PATH is required")
	}
	switch c.SensorSource {
	case "mock":
	case "imu":
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required when SENSOR_SOURCE=imu")
		}
		if c.IMUCSPin == "" {
			return fmt.Errorf("IMU_CS_PIN is required when SENSOR_SOURCE=imu")
		}
	default:
		return fmt.Errorf("SENSOR_SOURCE must be mock or imu, got %q", c.SensorSource)
	}
	switch c.CameraSource {
	case "mock":
	case "dir":
		if c.CameraDir == "" {
			return fmt.Errorf("CAMERA_DIR is required when CAMERA_SOURCE=dir")
		}
	default:
		return fmt.Errorf("CAMERA_SOURCE must be mock or dir, got %q", c.CameraSource)
	}
	if c.SensorSampleInterval <= 0 {
		return fmt.Errorf("SENSOR_SAMPLE_INTERVAL must be positive")
	}
	if c.TickIntervalMS <= 0 {
		return fmt.Errorf("TICK_INTERVAL_MS must be positive")
	}
	if c.FusionAlpha <= 0 || c.FusionAlpha > 1 {
		return fmt.Errorf("FUSION_ALPHA must be in (0,1], got %v", c.FusionAlpha)
	}
	if c.LockThresholdDeg <= 0 || c.LockThresholdDeg >= c.AlignmentThresholdDeg {
		return fmt.Errorf("LOCK_THRESHOLD_DEG must be positive and below ALIGNMENT_THRESHOLD_DEG")
	}
	if c.StitchWidth != 2*c.StitchHeight || c.StitchFallbackWidth != 2*c.StitchFallbackHeight {
		return fmt.Errorf("stitch resolutions must be 2:1")
	}
	if c.StitchFallbackWidth > c.StitchWidth {
		return fmt.Errorf("STITCH_FALLBACK_WIDTH must not exceed STITCH_WIDTH")
	}
	if c.StitchJPEGQuality < 1 || c.StitchJPEGQuality > 100 {
		return fmt.Errorf("STITCH_JPEG_QUALITY must be 1-100, got %d", c.StitchJPEGQuality)
	}
	if c.StitchMinFrames < 1 {
		return fmt.Errorf("STITCH_MIN_FRAMES must be at least 1")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
