// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/relabs-tech/sphere_capture/internal/frame"
	"github.com/relabs-tech/sphere_capture/internal/gps"
)

// Memory is an in-process Repository for tests and mock sessions.
type Memory struct {
	mu       sync.RWMutex
	session  string
	records  []frame.Record
	images   map[string][]byte
	location *gps.Fix
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{session: uuid.NewString(), images: make(map[string][]byte)}
}

func (m *Memory) Manifest(ctx context.Context) (frame.Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return frame.Manifest{}, ErrClosed
	}
	man := frame.Manifest{SessionID: m.session, Frames: slices.Clone(m.records)}
	if man.Frames == nil {
		man.Frames = []frame.Record{}
	}
	if m.location != nil {
		loc := *m.location
		man.Location = &loc
	}
	return man, ctx.Err()
}

func (m *Memory) Append(ctx context.Context, f frame.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.ID == "" {
		return fmt.Errorf("frame id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, r := range m.records {
		if r.ID == f.ID {
			return fmt.Errorf("frame %s already stored", f.ID)
		}
	}
	m.records = append(m.records, f.Record)
	if len(f.Image) > 0 {
		m.images[f.ID] = slices.Clone(f.Image)
	}
	return nil
}

func (m *Memory) Image(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	data, ok := m.images[id]
	if !ok {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	return slices.Clone(data), nil
}

func (m *Memory) Frames(ctx context.Context) ([]frame.Frame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []frame.Frame
	for _, r := range m.records {
		if data, ok := m.images[r.ID]; ok {
			out = append(out, frame.Frame{Record: r, Image: slices.Clone(data)})
		}
	}
	return out, ctx.Err()
}

func (m *Memory) SetLocation(_ context.Context, fix gps.Fix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.location = &fix
	return nil
}

func (m *Memory) Reset(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	m.session = uuid.NewString()
	m.records = nil
	m.images = make(map[string][]byte)
	m.location = nil
	return m.session, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
