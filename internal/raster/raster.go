// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package raster holds an owned row-major RGBA buffer and the pure pixel
// passes the stitcher runs over it. Pixels are premultiplied by alpha, the
// same layout as image.RGBA, so a Raster can be handed to x/image/draw
// without copying.
package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/sync/errgroup"
)

// Raster is a Width×Height premultiplied RGBA buffer with stride Width*4.
type Raster struct {
	Width  int
	Height int
	Pix    []uint8
}

// New allocates a fully transparent raster.
func New(w, h int) *Raster {
	if w < 0 || h < 0 {
		panic(fmt.Sprintf("raster: invalid size %dx%d", w, h))
	}
	return &Raster{Width: w, Height: h, Pix: make([]uint8, w*h*4)}
}

// FromImage copies any decoded image into a new raster.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	r := New(b.Dx(), b.Dy())
	draw.Draw(r.RGBA(), r.RGBA().Bounds(), img, b.Min, draw.Src)
	return r
}

// RGBA returns an image.RGBA view sharing the raster's pixels.
func (r *Raster) RGBA() *image.RGBA {
	return &image.RGBA{Pix: r.Pix, Stride: r.Width * 4, Rect: image.Rect(0, 0, r.Width, r.Height)}
}

func (r *Raster) Clone() *Raster {
	c := &Raster{Width: r.Width, Height: r.Height, Pix: make([]uint8, len(r.Pix))}
	copy(c.Pix, r.Pix)
	return c
}

func (r *Raster) offset(x, y int) int { return (y*r.Width + x) * 4 }

func (r *Raster) At(x, y int) color.RGBA {
	i := r.offset(x, y)
	return color.RGBA{R: r.Pix[i], G: r.Pix[i+1], B: r.Pix[i+2], A: r.Pix[i+3]}
}

func (r *Raster) Set(x, y int, c color.RGBA) {
	i := r.offset(x, y)
	r.Pix[i], r.Pix[i+1], r.Pix[i+2], r.Pix[i+3] = c.R, c.G, c.B, c.A
}

// Fill paints every pixel with c.
func (r *Raster) Fill(c color.RGBA) {
	for i := 0; i < len(r.Pix); i += 4 {
		r.Pix[i], r.Pix[i+1], r.Pix[i+2], r.Pix[i+3] = c.R, c.G, c.B, c.A
	}
}

// Rotate returns a same-sized copy of src rotated clockwise by deg about
// its centre. Corners that leave the frame become transparent.
func Rotate(src *Raster, deg float64) *Raster {
	dst := New(src.Width, src.Height)
	if deg == 0 {
		copy(dst.Pix, src.Pix)
		return dst
	}
	th := deg * math.Pi / 180
	c, s := math.Cos(th), math.Sin(th)
	cx, cy := float64(src.Width)/2, float64(src.Height)/2

	// src -> dst: translate to centre, rotate, translate back
	m := f64.Aff3{
		c, -s, cx - c*cx + s*cy,
		s, c, cy - s*cx - c*cy,
	}
	draw.BiLinear.Transform(dst.RGBA(), m, src.RGBA(), src.RGBA().Bounds(), draw.Over, nil)
	return dst
}

// DrawScaled draws the sr region of src into dst, scaled to fill the
// floating-point rectangle at (x, y) with size w×h.
func DrawScaled(dst, src *Raster, sr image.Rectangle, x, y, w, h float64) {
	if sr.Empty() || w <= 0 || h <= 0 {
		return
	}
	sx := w / float64(sr.Dx())
	sy := h / float64(sr.Dy())
	m := f64.Aff3{
		sx, 0, x - float64(sr.Min.X)*sx,
		0, sy, y - float64(sr.Min.Y)*sy,
	}
	draw.ApproxBiLinear.Transform(dst.RGBA(), m, src.RGBA(), sr, draw.Over, nil)
}

// Composite draws src over dst with its top-left corner at (x, y).
func Composite(dst, src *Raster, x, y int) {
	rect := image.Rect(x, y, x+src.Width, y+src.Height)
	draw.Draw(dst.RGBA(), rect, src.RGBA(), image.Point{}, draw.Over)
}

// forRows runs fn over every row, split into bands across GOMAXPROCS.
func forRows(h int, fn func(y int)) {
	if h == 0 {
		return
	}
	workers := runtime.GOMAXPROCS(0)
	band := (h + workers - 1) / workers
	var g errgroup.Group
	for y0 := 0; y0 < h; y0 += band {
		y1 := min(y0+band, h)
		g.Go(func() error {
			for y := y0; y < y1; y++ {
				fn(y)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}
