// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/relabs-tech/sphere_capture/internal/config"
	"github.com/relabs-tech/sphere_capture/internal/logging"
	"github.com/relabs-tech/sphere_capture/internal/stitch"
	"github.com/relabs-tech/sphere_capture/internal/store"
)

// RunStitch stitches the stored session into STITCH_OUTPUT and announces
// the panorama on TOPIC_STITCH.
func RunStitch() error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	repo, err := store.OpenSQLite(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer repo.Close()

	ev, err := stitchSession(ctx, cfg, repo)
	if err != nil {
		return err
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDStitch)
	if err != nil {
		// The file is written; the announcement is best effort.
		logging.Warn("stitch: panorama not announced", "err", err)
		return nil
	}
	defer client.Disconnect(250)

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return mqttPublish(client)(cfg.TopicStitch, true, payload)
}

// stitchSession loads the complete frames, stitches them and writes the
// JPEG to cfg.StitchOutput.
func stitchSession(ctx context.Context, cfg *config.Config, repo store.Repository) (StitchEvent, error) {
	log := logging.With("component", "stitch")

	manifest, err := repo.Manifest(ctx)
	if err != nil {
		return StitchEvent{}, fmt.Errorf("load manifest: %w", err)
	}
	frames, err := repo.Frames(ctx)
	if err != nil {
		return StitchEvent{}, fmt.Errorf("load frames: %w", err)
	}
	log.Info("stitch: session loaded", "session", manifest.SessionID, "frames", len(frames), "recorded", len(manifest.Frames))

	pano, err := stitch.NewEngine(stitchConfig(cfg)).Stitch(ctx, frames)
	if err != nil {
		return StitchEvent{}, err
	}

	if err := os.WriteFile(cfg.StitchOutput, pano.Encoded, 0o644); err != nil {
		return StitchEvent{}, fmt.Errorf("write panorama: %w", err)
	}
	log.Info("stitch: panorama written", "path", cfg.StitchOutput, "width", pano.Width, "height", pano.Height, "bytes", len(pano.Encoded))

	return StitchEvent{
		Handle:    pano.Handle,
		SessionID: manifest.SessionID,
		Path:      cfg.StitchOutput,
		Width:     pano.Width,
		Height:    pano.Height,
		Frames:    pano.Frames,
		Fallback:  pano.Fallback,
	}, nil
}
