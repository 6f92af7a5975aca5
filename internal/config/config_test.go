package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sphere_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
# broker
MQTT_BROKER=tcp://rig.local:1883
GRID_RINGS = 30:10,0:12,-30:10
GRID_POLES=false
STABILITY_DURATION_MS=800
FUSION_ALPHA=0.5
CAMERA_SOURCE=DIR
CAMERA_DIR=/srv/frames
STITCH_WIDTH=4096
STITCH_HEIGHT=2048
STITCH_FALLBACK_WIDTH=2048
STITCH_FALLBACK_HEIGHT=1024
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://rig.local:1883", cfg.MQTTBroker)
	assert.Equal(t, "30:10,0:12,-30:10", cfg.GridRings)
	assert.False(t, cfg.GridPoles)
	assert.Equal(t, 800*time.Millisecond, cfg.StabilityDuration())
	assert.Equal(t, 0.5, cfg.FusionAlpha)
	assert.Equal(t, "dir", cfg.CameraSource)
	assert.Equal(t, 4096, cfg.StitchWidth)

	// untouched keys keep their defaults
	assert.Equal(t, 3.0, cfg.LockThresholdDeg)
	assert.Equal(t, 1.75, cfg.StitchSliceOverlap)
	assert.Equal(t, 33*time.Millisecond, cfg.TickInterval())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("SPHERE_MQTT_BROKER", "tcp://env:1883")
	t.Setenv("SPHERE_STITCH_SLICES", "600")
	t.Setenv("SPHERE_GRID_POLES", "false")

	cfg, err := Parse(strings.NewReader("MQTT_BROKER=tcp://file:1883\nSTITCH_SLICES=900\n"))
	require.NoError(t, err)
	assert.Equal(t, "tcp://env:1883", cfg.MQTTBroker)
	assert.Equal(t, 600, cfg.StitchSlices)
	assert.False(t, cfg.GridPoles)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "NOPE=1", `config line 1: unknown config key: "NOPE"`},
		{"missing equals", "\nMQTT_BROKER", "invalid config line 2"},
		{"bad int", "STITCH_SLICES=many", "invalid STITCH_SLICES"},
		{"bad bool", "GRID_POLES=perhaps", "invalid GRID_POLES"},
		{"bad source", "SENSOR_SOURCE=gyro", "SENSOR_SOURCE must be mock or imu"},
		{"imu without cs pin", "SENSOR_SOURCE=imu", "IMU_CS_PIN is required"},
		{"imu without spi device", "SENSOR_SOURCE=imu\nIMU_SPI_DEVICE=\nIMU_CS_PIN=GPIO8", "IMU_SPI_DEVICE is required"},
		{"dir camera without dir", "CAMERA_SOURCE=dir", "CAMERA_DIR is required"},
		{"lock above alignment", "LOCK_THRESHOLD_DEG=9", "LOCK_THRESHOLD_DEG"},
		{"aspect", "STITCH_HEIGHT=1000", "2:1"},
		{"alpha", "FUSION_ALPHA=1.5", "FUSION_ALPHA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestIMUSourceWithPins(t *testing.T) {
	cfg, err := Parse(strings.NewReader("SENSOR_SOURCE=imu\nIMU_CS_PIN=GPIO8\n"))
	require.NoError(t, err)
	assert.Equal(t, "imu", cfg.SensorSource)
	assert.Equal(t, "GPIO8", cfg.IMUCSPin)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.txt"))
	assert.ErrorContains(t, err, "failed to open config file")
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().validate())
}
