// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store persists the capture session: the manifest of frame records
// and the image bytes behind each record.
package store

import (
	"context"
	"errors"

	"github.com/relabs-tech/sphere_capture/internal/frame"
	"github.com/relabs-tech/sphere_capture/internal/gps"
)

var (
	ErrClosed   = errors.New("store: closed")
	ErrNotFound = errors.New("store: not found")
)

// Repository is the durable session store used by capture and stitching.
//
// Append must be durable before it returns: a crash afterwards may not lose
// the frame. Records whose image bytes are missing are kept in the manifest
// but never returned by Frames.
type Repository interface {
	Manifest(ctx context.Context) (frame.Manifest, error)
	Append(ctx context.Context, f frame.Frame) error
	Image(ctx context.Context, id string) ([]byte, error)
	Frames(ctx context.Context) ([]frame.Frame, error)
	SetLocation(ctx context.Context, fix gps.Fix) error
	// Reset clears the session and returns the new session id.
	Reset(ctx context.Context) (string, error)
	Close() error
}
