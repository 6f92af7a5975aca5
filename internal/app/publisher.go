// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/sphere_capture/internal/capture"
	"github.com/relabs-tech/sphere_capture/internal/frame"
	"github.com/relabs-tech/sphere_capture/internal/orientation"
)

// publishFunc sends one payload. Retained messages let late subscribers
// pick up the last value.
type publishFunc func(topic string, retained bool, payload []byte) error

func mqttPublish(client mqtt.Client) publishFunc {
	return func(topic string, retained bool, payload []byte) error {
		token := client.Publish(topic, 0, retained, payload)
		if !token.WaitTimeout(2 * time.Second) {
			return fmt.Errorf("mqtt publish %s: timeout", topic)
		}
		return token.Error()
	}
}

// StitchEvent announces a finished panorama.
type StitchEvent struct {
	Handle    string `json:"handle"`
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Frames    int    `json:"frames"`
	Fallback  bool   `json:"fallback"`
}

// statusPublisher implements capture.Publisher over MQTT. Every status also
// carries the pose on its own topic so pose-only consumers keep working.
type statusPublisher struct {
	publish    publishFunc
	topicState string
	topicFrame string
	topicPose  string
}

func newStatusPublisher(publish publishFunc, topicState, topicFrame, topicPose string) *statusPublisher {
	return &statusPublisher{
		publish:    publish,
		topicState: topicState,
		topicFrame: topicFrame,
		topicPose:  topicPose,
	}
}

func (p *statusPublisher) PublishStatus(s capture.Status) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := p.publish(p.topicState, true, payload); err != nil {
		return err
	}
	pose, err := json.Marshal(orientation.Pose{Roll: s.Roll, Pitch: s.Pitch, Yaw: s.Yaw})
	if err != nil {
		return fmt.Errorf("marshal pose: %w", err)
	}
	return p.publish(p.topicPose, true, pose)
}

func (p *statusPublisher) PublishFrame(r frame.Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return p.publish(p.topicFrame, false, payload)
}
