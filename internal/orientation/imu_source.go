// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// gyroCountsPerDPS is the MPU9250 sensitivity at the ±250°/s range.
const gyroCountsPerDPS = 131.0

type imuSource struct {
	imu     *mpu9250.MPU9250
	heading float64
	last    time.Time
}

// NewIMUSource initializes an MPU9250 over SPI and returns a Source for a
// capture rig. Beta/gamma come from the accelerometer tilt, alpha from the
// integrated gyro Z rate (no magnetometer, so heading is relative).
func NewIMUSource(spiDev, csPin string) (Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU SPI transport (%s): %w", spiDev, err)
	}

	imu, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("IMU new device: %w", err)
	}
	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("IMU init: %w", err)
	}
	if err := imu.Calibrate(); err != nil {
		return nil, fmt.Errorf("IMU calibrate: %w", err)
	}

	return &imuSource{imu: imu}, nil
}

func (s *imuSource) Next() (Sample, error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return Sample{}, fmt.Errorf("IMU acc X: %w", err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return Sample{}, fmt.Errorf("IMU acc Y: %w", err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return Sample{}, fmt.Errorf("IMU acc Z: %w", err)
	}
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return Sample{}, fmt.Errorf("IMU gyro Z: %w", err)
	}

	now := time.Now()
	if !s.last.IsZero() {
		dt := now.Sub(s.last).Seconds()
		s.heading = NormalizeYaw(s.heading + float64(gz)/gyroCountsPerDPS*dt)
	}
	s.last = now

	tilt := ComputePoseFromAccel(float64(ax), float64(ay), float64(az))
	return Sample{
		Alpha: Deg(s.heading),
		Beta:  Deg(tilt.Roll),
		Gamma: Deg(tilt.Pitch),
		Time:  now,
	}, nil
}
