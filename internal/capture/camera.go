// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Shot is one grabbed still. HFOV is 0 when the camera does not know it.
type Shot struct {
	Image []byte
	HFOV  float64
}

// Camera grabs stills. An error means the device is gone.
type Camera interface {
	Grab(ctx context.Context) (Shot, error)
}

// MockCamera renders synthetic JPEG frames, each with a different tint.
type MockCamera struct {
	Width  int
	Height int
	HFOV   float64
	// Err, when set, is returned by every Grab.
	Err error

	mu sync.Mutex
	n  int
}

func NewMockCamera(w, h int, hfov float64) *MockCamera {
	return &MockCamera{Width: w, Height: h, HFOV: hfov}
}

func (c *MockCamera) Grab(ctx context.Context) (Shot, error) {
	if err := ctx.Err(); err != nil {
		return Shot{}, err
	}
	c.mu.Lock()
	if c.Err != nil {
		c.mu.Unlock()
		return Shot{}, c.Err
	}
	c.n++
	n := c.n
	c.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	base := uint8(60 + (n*37)%120)
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: base + uint8(x*60/max(c.Width, 1)),
				G: 80 + uint8(y*80/max(c.Height, 1)),
				B: 200 - base/2,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return Shot{}, fmt.Errorf("mock camera: encode: %w", err)
	}
	return Shot{Image: buf.Bytes(), HFOV: c.HFOV}, nil
}

// Grabs returns how many frames were produced.
func (c *MockCamera) Grabs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// DirCamera replays image files from a directory in name order, cycling
// when it runs out. It stands in for a camera on benches without one.
type DirCamera struct {
	hfov  float64
	files []string

	mu   sync.Mutex
	next int
}

var imageExts = []string{".jpg", ".jpeg", ".png", ".webp", ".bmp"}

func NewDirCamera(dir string, hfov float64) (*DirCamera, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("camera dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("camera dir %s: no images", dir)
	}
	slices.Sort(files)
	return &DirCamera{hfov: hfov, files: files}, nil
}

func (c *DirCamera) Grab(ctx context.Context) (Shot, error) {
	if err := ctx.Err(); err != nil {
		return Shot{}, err
	}
	c.mu.Lock()
	path := c.files[c.next%len(c.files)]
	c.next++
	c.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Shot{}, fmt.Errorf("camera dir: %w", err)
	}
	return Shot{Image: data, HFOV: c.hfov}, nil
}
