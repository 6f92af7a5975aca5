// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package stitch assembles oriented frames into one equirectangular
// panorama. Each frame is roll-corrected, feathered, exposure-matched and
// warped onto the sphere slice by slice; the canvas then gets its poles
// filled and a few smoothing passes before JPEG encoding.
package stitch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"slices"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/sphere_capture/internal/frame"
	"github.com/relabs-tech/sphere_capture/internal/logging"
	"github.com/relabs-tech/sphere_capture/internal/raster"
)

var (
	ErrInsufficientFrames = errors.New("stitch: insufficient frames")
	ErrNoUsableFrames     = errors.New("stitch: no usable frames")
	ErrAllocation         = errors.New("stitch: canvas allocation failed")
)

// Allocator returns a canvas of the requested size or an error when it
// cannot be provided.
type Allocator func(w, h int) (*raster.Raster, error)

// Panorama is a finished equirectangular image.
type Panorama struct {
	Handle   string
	Width    int
	Height   int
	Encoded  []byte // JPEG
	Raster   *raster.Raster
	Frames   int  // frames that made it onto the canvas
	Fallback bool // true when the preferred tier could not be allocated
}

type Option func(*Engine)

// WithAllocator replaces the budget-checking canvas allocator.
func WithAllocator(a Allocator) Option {
	return func(e *Engine) { e.alloc = a }
}

// Engine stitches frames. One Engine may run several Stitch calls; each
// owns its canvas.
type Engine struct {
	cfg   Config
	alloc Allocator
	log   *logging.Logger
}

func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{cfg: cfg.withDefaults(), log: logging.With("component", "stitch")}
	e.alloc = e.budgetAlloc
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) budgetAlloc(w, h int) (*raster.Raster, error) {
	if w <= 0 || h <= 0 || w*h > e.cfg.MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds budget of %d pixels", ErrAllocation, w, h, e.cfg.MaxPixels)
	}
	return raster.New(w, h), nil
}

// Stitch builds a panorama from frames. Frames that fail to decode or warp
// are skipped; only an under-minimum or wholly unusable input fails.
func (e *Engine) Stitch(ctx context.Context, frames []frame.Frame) (*Panorama, error) {
	if len(frames) < e.cfg.MinFrames {
		return nil, fmt.Errorf("%w: got %d, need at least %d", ErrInsufficientFrames, len(frames), e.cfg.MinFrames)
	}

	canvas, tier, err := e.allocate()
	if err != nil {
		return nil, err
	}
	canvas.Fill(color.RGBA{A: 255})

	images, err := e.decodeAll(ctx, frames)
	if err != nil {
		return nil, err
	}

	// poles first, horizon last
	order := make([]int, len(frames))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		pa, pb := math.Abs(frames[a].Sensors.Pitch), math.Abs(frames[b].Sensors.Pitch)
		switch {
		case pa > pb:
			return -1
		case pa < pb:
			return 1
		}
		return 0
	})

	used := 0
	for _, i := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if images[i] == nil {
			continue
		}
		if err := e.drawFrame(canvas, frames[i], images[i]); err != nil {
			e.log.Warn("stitch: frame skipped", "frame", frames[i].ID, "err", err)
			continue
		}
		images[i] = nil
		used++
	}
	if used == 0 {
		return nil, ErrNoUsableFrames
	}

	if err := e.postProcess(ctx, canvas); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas.RGBA(), &jpeg.Options{Quality: e.cfg.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("stitch: encode: %w", err)
	}

	p := &Panorama{
		Handle:   uuid.NewString(),
		Width:    canvas.Width,
		Height:   canvas.Height,
		Encoded:  buf.Bytes(),
		Raster:   canvas,
		Frames:   used,
		Fallback: tier > 0,
	}
	e.log.Info("stitch: panorama ready", "width", p.Width, "height", p.Height, "frames", used, "bytes", len(p.Encoded))
	return p, nil
}

// allocate tries each tier in order.
func (e *Engine) allocate() (*raster.Raster, int, error) {
	var errs []error
	for i, t := range e.cfg.Tiers {
		canvas, err := e.alloc(t.Width, t.Height)
		if err == nil && canvas != nil {
			if i > 0 {
				e.log.Warn("stitch: using fallback resolution", "width", t.Width, "height", t.Height)
			}
			return canvas, i, nil
		}
		errs = append(errs, err)
	}
	return nil, 0, fmt.Errorf("%w: %w", ErrAllocation, errors.Join(errs...))
}

// decodeAll decodes frames in parallel. Undecodable frames come back nil.
func (e *Engine) decodeAll(ctx context.Context, frames []frame.Frame) ([]*raster.Raster, error) {
	out := make([]*raster.Raster, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := decode(frames[i].Image)
			if err != nil {
				e.log.Warn("stitch: frame skipped", "frame", frames[i].ID, "err", err)
				return nil
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func decode(data []byte) (r *raster.Raster, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("decode panic: %v", p)
		}
	}()
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, errors.New("empty image")
	}
	return raster.FromImage(img), nil
}

func (e *Engine) postProcess(ctx context.Context, canvas *raster.Raster) error {
	passes := []func(){
		func() { e.fillPoles(canvas) },
		func() { raster.Mean3Hotspot(canvas, e.cfg.HotspotThreshold, e.cfg.HotspotPull) },
		func() { raster.Median3(canvas) },
		func() {
			raster.BoxBlurH(canvas, e.cfg.SeamBlurRadius)
			raster.BoxBlurV(canvas, e.cfg.SeamBlurRadius)
		},
		func() { raster.CenterWeighted3(canvas) },
		func() { raster.NormalizeExposure(canvas, e.cfg.Exposure) },
	}
	for _, pass := range passes {
		if err := ctx.Err(); err != nil {
			return err
		}
		pass()
	}
	return nil
}
