// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stitch

import (
	"fmt"
	"image"
	"math"

	"github.com/relabs-tech/sphere_capture/internal/frame"
	"github.com/relabs-tech/sphere_capture/internal/raster"
)

// drawFrame runs the per-frame pipeline and composites the result.
func (e *Engine) drawFrame(canvas *raster.Raster, f frame.Frame, img *raster.Raster) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if img.Width == 0 || img.Height == 0 {
		return fmt.Errorf("empty image")
	}

	pitch := math.Max(-MaxPitch, math.Min(MaxPitch, f.Sensors.Pitch))
	aspect := float64(img.Width) / float64(img.Height)
	hfov := f.Camera.HFOVOrDefault()
	if img.Width < img.Height {
		// hfov describes the long side; narrow it to the short one
		hfov = deg(2 * math.Atan(math.Tan(rad(hfov/2))*aspect))
	}

	work := raster.Rotate(img, -f.Sensors.Roll)

	top, bottom := e.cfg.FeatherV, e.cfg.FeatherV
	if pitch > e.cfg.PolePitch {
		top = 0
	}
	if pitch < -e.cfg.PolePitch {
		bottom = 0
	}
	raster.Feather(work, e.cfg.FeatherH, top, bottom)
	raster.NormalizeExposure(work, e.cfg.Exposure)

	warp := e.warp(work, canvas.Width, canvas.Height, pitch, hfov, aspect)

	w := float64(canvas.Width)
	cx := f.Sensors.Yaw / 360 * w
	cy := (90 - pitch) / 180 * float64(canvas.Height)
	x := int(math.Round(cx - float64(warp.Width)/2))
	y := int(math.Round(cy - float64(warp.Height)/2))
	for _, off := range []int{-canvas.Width, 0, canvas.Width} {
		raster.Composite(canvas, warp, x+off, y)
	}
	return nil
}

// warp projects the flat frame onto its patch of the equirectangular
// canvas. Each vertical slice is placed at its true yaw offset and
// stretched between the sphere pitches of its top and bottom edge.
func (e *Engine) warp(img *raster.Raster, W, H int, pitch, hfov, aspect float64) *raster.Raster {
	projW := int(math.Ceil(hfov * e.cfg.WarpMargin / 360 * float64(W)))
	projH := int(math.Ceil(hfov / aspect * 2 / 180 * float64(H)))
	out := raster.New(projW, projH)

	p := rad(pitch)
	cosP, sinP := math.Cos(p), math.Sin(p)
	tanH := math.Tan(rad(hfov) / 2)
	tanV := math.Tan(rad(hfov/aspect) / 2)
	pxPerRad := float64(H) / math.Pi

	n := e.cfg.Slices
	srcSliceW := float64(img.Width) / float64(n)
	destW := float64(W) / 360 * (hfov / float64(n)) * e.cfg.SliceOverlap

	for i := 0; i < n; i++ {
		u := tanH * (float64(i)/float64(n) - 0.5) * 2
		yawOffset := deg(math.Atan2(u, 1))
		destX := float64(projW)/2 + yawOffset/360*float64(W)

		spherePitch := func(v float64) float64 {
			return math.Asin((v*cosP + sinP) / math.Sqrt(u*u+v*v+1))
		}
		mid, top, bot := spherePitch(0), spherePitch(tanV), spherePitch(-tanV)
		dy := (p - mid) * pxPerRad
		sliceH := (top - bot) * pxPerRad

		x0 := int(math.Floor(float64(i) * srcSliceW))
		x1 := min(x0+int(math.Ceil(srcSliceW)), img.Width)
		sr := image.Rect(x0, 0, x1, img.Height)
		raster.DrawScaled(out, img, sr, destX, float64(projH)/2-sliceH/2+dy, destW, sliceH)
	}
	return out
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }
