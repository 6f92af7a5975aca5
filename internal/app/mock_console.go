// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"time"

	"github.com/relabs-tech/sphere_capture/internal/orientation"
)

// RunMockConsole prints the fused pose of the mock source sweep.
func RunMockConsole() error {
	ctx, stop := signalContext()
	defer stop()

	fusion := orientation.NewFusion(orientation.FusionConfig{}, nil)
	feed := orientation.NewFeed(orientation.NewMockSource(), fusion, 10*time.Millisecond)
	if err := feed.Start(ctx); err != nil {
		return err
	}
	defer feed.Stop()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if !fusion.Calibrated() {
			continue
		}
		if !fusion.HasReference() {
			fusion.Calibrate()
		}

		pose := fusion.Pose()
		fmt.Printf(
			"ROLL=%6.2f  PITCH=%6.2f  YAW=%6.2f  SPEED=%6.2f°/s  stable=%t\n",
			pose.Roll,
			pose.Pitch,
			pose.Yaw,
			fusion.AngularSpeed(),
			fusion.IsStable(orientation.DefaultThresholds),
		)
	}
}
