// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stitch

import (
	"image/color"

	"github.com/relabs-tech/sphere_capture/internal/raster"
)

var poleGray = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// fillPoles covers the uncovered top and bottom bands. Each column walks
// inward from the edge to its first valid pixel and propagates that colour
// outward; columns with nothing valid borrow from the nearest column that
// had one. A horizontal blur inside each band hides the fill boundary.
func (e *Engine) fillPoles(canvas *raster.Raster) {
	band := int(e.cfg.PoleFraction * float64(canvas.Height))
	if band <= 0 {
		return
	}
	e.fillBand(canvas, band, true)
	e.fillBand(canvas, band, false)
	raster.BoxBlurHBand(canvas, e.cfg.PoleBlurRadius, 0, band)
	raster.BoxBlurHBand(canvas, e.cfg.PoleBlurRadius, canvas.Height-band, canvas.Height)
}

func (e *Engine) fillBand(canvas *raster.Raster, band int, top bool) {
	W, H := canvas.Width, canvas.Height
	// row at step k walking inward from the edge
	row := func(k int) int {
		if top {
			return k
		}
		return H - 1 - k
	}

	seeds := make([]color.RGBA, W)
	found := make([]bool, W)
	missing := 0
	for x := 0; x < W; x++ {
		first := -1
		for k := 0; k < H/2; k++ {
			if raster.Valid(canvas.At(x, row(k))) {
				first = k
				break
			}
		}
		if first < 0 {
			missing++
			continue
		}
		c := opaque(canvas.At(x, row(first)))
		seeds[x], found[x] = c, true
		for k := 0; k < min(first, band); k++ {
			canvas.Set(x, row(k), c)
		}
		// patch gaps left inside the band
		last := c
		for k := first; k < band; k++ {
			p := canvas.At(x, row(k))
			if raster.Valid(p) {
				last = opaque(p)
				continue
			}
			canvas.Set(x, row(k), last)
		}
	}
	if missing == 0 {
		return
	}

	for x := 0; x < W; x++ {
		if found[x] {
			continue
		}
		c := nearestSeed(seeds, found, x)
		for k := 0; k < band; k++ {
			canvas.Set(x, row(k), c)
		}
	}
	e.log.Debug("stitch: pole columns borrowed from neighbours", "top", top, "columns", missing)
}

// nearestSeed searches left and right of x, wrapping around the seam.
func nearestSeed(seeds []color.RGBA, found []bool, x int) color.RGBA {
	w := len(seeds)
	for d := 1; d <= w/2; d++ {
		if l := (x - d + w) % w; found[l] {
			return seeds[l]
		}
		if r := (x + d) % w; found[r] {
			return seeds[r]
		}
	}
	return poleGray
}

func opaque(c color.RGBA) color.RGBA {
	c.A = 255
	return c
}
