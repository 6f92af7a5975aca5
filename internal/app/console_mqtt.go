// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/sphere_capture/internal/capture"
	"github.com/relabs-tech/sphere_capture/internal/frame"
	"github.com/relabs-tech/sphere_capture/internal/gps"
	"github.com/relabs-tech/sphere_capture/internal/logging"
)

// consolePrinter formats capture traffic for a terminal. Status lines are
// throttled to one per interval unless the state changes.
type consolePrinter struct {
	out      io.Writer
	interval time.Duration

	mu        sync.Mutex
	lastPrint time.Time
	lastState capture.State
}

func (p *consolePrinter) status(s capture.Status, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.State == p.lastState && now.Sub(p.lastPrint) < p.interval {
		return
	}
	p.lastPrint, p.lastState = now, s.State

	target := "-"
	if s.Target != nil {
		target = s.Target.ID
	}
	fmt.Fprintf(p.out,
		"[CAPT] %-14s %3.0f%%  target=%-10s err=%5.1f°  YAW=%6.2f PITCH=%6.2f ROLL=%6.2f  %d/%d  %s\n",
		s.State, s.Progress*100, target, s.ErrorDeg, s.Yaw, s.Pitch, s.Roll, s.Completed, s.Total, s.Message,
	)
}

func (p *consolePrinter) frame(r frame.Record) {
	fmt.Fprintf(p.out,
		"[FRAME] %s target=%s yaw=%.1f pitch=%.1f roll=%.1f hfov=%.1f\n",
		r.ID, r.TargetID, r.Sensors.Yaw, r.Sensors.Pitch, r.Sensors.Roll, r.Camera.HFOVOrDefault(),
	)
}

func (p *consolePrinter) panorama(ev StitchEvent) {
	fmt.Fprintf(p.out,
		"[PANO] %s %dx%d frames=%d fallback=%t -> %s\n",
		ev.Handle, ev.Width, ev.Height, ev.Frames, ev.Fallback, ev.Path,
	)
}

func (p *consolePrinter) fix(f gps.Fix) {
	fmt.Fprintf(p.out,
		"[GPS ]  time=%s date=%s lat=%.6f lon=%.6f alt=%.1fm sats=%d validity=%s\n",
		f.Time, f.Date, f.Latitude, f.Longitude, f.Altitude, f.Satellites, f.Validity,
	)
}

// jsonHandler decodes each message into T before calling fn.
func jsonHandler[T any](name string, fn func(T)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			logging.Warn("console: unmarshal error", "topic", name, "err", err)
			return
		}
		fn(v)
	}
}

// RunConsoleMQTT prints capture status, frames, panoramas and GPS fixes
// until Ctrl+C.
func RunConsoleMQTT() error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	p := &consolePrinter{
		out:      os.Stdout,
		interval: time.Duration(cfg.ConsoleLogInterval) * time.Millisecond,
	}

	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{cfg.TopicCaptureState, jsonHandler("status", func(s capture.Status) { p.status(s, time.Now()) })},
		{cfg.TopicCaptureFrame, jsonHandler("frame", p.frame)},
		{cfg.TopicStitch, jsonHandler("panorama", p.panorama)},
		{cfg.TopicGPS, jsonHandler("gps", p.fix)},
	}
	for _, s := range subs {
		if err := subscribe(client, s.topic, s.handler); err != nil {
			return err
		}
	}

	<-ctx.Done()
	logging.Info("console: shutting down")
	return nil
}
