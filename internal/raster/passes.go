// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package raster

import (
	"image/color"
	"math"
)

// Pixel validity thresholds used by exposure sampling and pole fill.
const (
	OpaqueAlpha = 250
	DarkLevel   = 15
)

// Valid reports whether c is opaque and not near-black.
func Valid(c color.RGBA) bool {
	return c.A > OpaqueAlpha && (c.R > DarkLevel || c.G > DarkLevel || c.B > DarkLevel)
}

// Feather multiplies r by a linear edge mask. h is the horizontal fade as a
// fraction of the width applied at both sides; top and bottom are the
// vertical fade fractions, and 0 disables that edge.
func Feather(r *Raster, h, top, bottom float64) {
	colMask := make([]float64, r.Width)
	for x := range colMask {
		t := (float64(x) + 0.5) / float64(r.Width)
		colMask[x] = ramp(t, h) * ramp(1-t, h)
	}
	forRows(r.Height, func(y int) {
		t := (float64(y) + 0.5) / float64(r.Height)
		rowMask := ramp(t, top) * ramp(1-t, bottom)
		row := r.Pix[r.offset(0, y):r.offset(0, y+1)]
		for x := 0; x < r.Width; x++ {
			m := rowMask * colMask[x]
			if m >= 1 {
				continue
			}
			i := x * 4
			row[i] = uint8(float64(row[i]) * m)
			row[i+1] = uint8(float64(row[i+1]) * m)
			row[i+2] = uint8(float64(row[i+2]) * m)
			row[i+3] = uint8(float64(row[i+3]) * m)
		}
	})
}

// ramp is 0 at t=0 rising to 1 at t=fade.
func ramp(t, fade float64) float64 {
	if fade <= 0 || t >= fade {
		return 1
	}
	if t <= 0 {
		return 0
	}
	return t / fade
}

// MeanColor averages the opaque pixels of r. n is the number sampled.
func MeanColor(r *Raster) (mr, mg, mb float64, n int) {
	var sr, sg, sb float64
	for i := 0; i < len(r.Pix); i += 4 {
		if r.Pix[i+3] <= OpaqueAlpha {
			continue
		}
		sr += float64(r.Pix[i])
		sg += float64(r.Pix[i+1])
		sb += float64(r.Pix[i+2])
		n++
	}
	if n == 0 {
		return 0, 0, 0, 0
	}
	return sr / float64(n), sg / float64(n), sb / float64(n), n
}

// Exposure controls NormalizeExposure.
type Exposure struct {
	Target   float64 // brightness each channel mean is pulled toward
	Strength float64 // 0 leaves the image unchanged, 1 applies the full gain
	MinGain  float64
	MaxGain  float64
}

// DefaultExposure pulls per-channel means toward mid grey.
var DefaultExposure = Exposure{Target: 128, Strength: 0.7, MinGain: 0.5, MaxGain: 2.0}

// NormalizeExposure rescales each colour channel so its mean over opaque
// pixels moves toward e.Target. It reports false when nothing was sampled.
func NormalizeExposure(r *Raster, e Exposure) bool {
	mr, mg, mb, n := MeanColor(r)
	if n == 0 {
		return false
	}
	gains := [3]float64{e.gain(mr), e.gain(mg), e.gain(mb)}
	forRows(r.Height, func(y int) {
		row := r.Pix[r.offset(0, y):r.offset(0, y+1)]
		for i := 0; i < len(row); i += 4 {
			a := float64(row[i+3])
			for c := 0; c < 3; c++ {
				row[i+c] = clampByte(math.Min(float64(row[i+c])*gains[c], a))
			}
		}
	})
	return true
}

func (e Exposure) gain(mean float64) float64 {
	if mean < 1 {
		return e.MaxGain
	}
	g := 1 + e.Strength*(e.Target/mean-1)
	return math.Max(e.MinGain, math.Min(e.MaxGain, g))
}

// BoxBlurH averages each pixel with radius neighbours on its row,
// wrapping at the left and right edges.
func BoxBlurH(r *Raster, radius int) {
	BoxBlurHBand(r, radius, 0, r.Height)
}

// BoxBlurHBand is BoxBlurH restricted to rows [y0, y1). Output alpha is
// forced opaque.
func BoxBlurHBand(r *Raster, radius, y0, y1 int) {
	if radius <= 0 {
		return
	}
	y0, y1 = max(y0, 0), min(y1, r.Height)
	if y0 >= y1 {
		return
	}
	w := r.Width
	n := float64(2*radius + 1)
	forRows(y1-y0, func(dy int) {
		y := y0 + dy
		row := r.Pix[r.offset(0, y):r.offset(0, y+1)]
		src := make([]uint8, len(row))
		copy(src, row)
		for x := 0; x < w; x++ {
			var s [3]float64
			for k := -radius; k <= radius; k++ {
				j := wrap(x+k, w) * 4
				s[0] += float64(src[j])
				s[1] += float64(src[j+1])
				s[2] += float64(src[j+2])
			}
			i := x * 4
			row[i] = clampByte(s[0] / n)
			row[i+1] = clampByte(s[1] / n)
			row[i+2] = clampByte(s[2] / n)
			row[i+3] = 255
		}
	})
}

// BoxBlurV averages each pixel with radius neighbours in its column,
// clamping at the top and bottom.
func BoxBlurV(r *Raster, radius int) {
	if radius <= 0 {
		return
	}
	src := r.Clone()
	n := float64(2*radius + 1)
	forRows(r.Height, func(y int) {
		for x := 0; x < r.Width; x++ {
			var s [4]float64
			for k := -radius; k <= radius; k++ {
				j := src.offset(x, clampInt(y+k, 0, r.Height-1))
				for c := 0; c < 4; c++ {
					s[c] += float64(src.Pix[j+c])
				}
			}
			i := r.offset(x, y)
			for c := 0; c < 4; c++ {
				r.Pix[i+c] = clampByte(s[c] / n)
			}
		}
	})
}

// Mean3Hotspot pulls pixels whose luma exceeds their 3×3 neighbourhood
// mean by more than threshold toward that mean. pull is in [0,1].
func Mean3Hotspot(r *Raster, threshold, pull float64) {
	src := r.Clone()
	forRows(r.Height, func(y int) {
		for x := 0; x < r.Width; x++ {
			var mean [4]float64
			src.each3x3(x, y, func(i, _ int) {
				for c := 0; c < 4; c++ {
					mean[c] += float64(src.Pix[i+c])
				}
			})
			for c := range mean {
				mean[c] /= 9
			}
			i := r.offset(x, y)
			px := src.Pix[i : i+4]
			if luma(float64(px[0]), float64(px[1]), float64(px[2]))-luma(mean[0], mean[1], mean[2]) <= threshold {
				continue
			}
			for c := 0; c < 4; c++ {
				v := float64(px[c])
				r.Pix[i+c] = clampByte(v + pull*(mean[c]-v))
			}
		}
	})
}

// Median3 replaces each channel with its 3×3 median.
func Median3(r *Raster) {
	src := r.Clone()
	forRows(r.Height, func(y int) {
		var win [4][9]uint8
		for x := 0; x < r.Width; x++ {
			src.each3x3(x, y, func(i, k int) {
				for c := 0; c < 4; c++ {
					win[c][k] = src.Pix[i+c]
				}
			})
			o := r.offset(x, y)
			for c := 0; c < 4; c++ {
				r.Pix[o+c] = median9(&win[c])
			}
		}
	})
}

var centerWeights = [9]float64{1, 2, 1, 2, 4, 2, 1, 2, 1}

// CenterWeighted3 applies the [1 2 1; 2 4 2; 1 2 1]/16 kernel.
func CenterWeighted3(r *Raster) {
	src := r.Clone()
	forRows(r.Height, func(y int) {
		for x := 0; x < r.Width; x++ {
			var s [4]float64
			src.each3x3(x, y, func(i, k int) {
				w := centerWeights[k]
				for c := 0; c < 4; c++ {
					s[c] += w * float64(src.Pix[i+c])
				}
			})
			o := r.offset(x, y)
			for c := 0; c < 4; c++ {
				r.Pix[o+c] = clampByte(s[c] / 16)
			}
		}
	})
}

// each3x3 visits the 3×3 neighbourhood of (x, y) in row-major order,
// wrapping horizontally and clamping vertically. fn receives the pixel
// offset and the window index 0..8.
func (r *Raster) each3x3(x, y int, fn func(i, k int)) {
	k := 0
	for dy := -1; dy <= 1; dy++ {
		yy := clampInt(y+dy, 0, r.Height-1)
		for dx := -1; dx <= 1; dx++ {
			fn(r.offset(wrap(x+dx, r.Width), yy), k)
			k++
		}
	}
}

func median9(v *[9]uint8) uint8 {
	s := *v
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
	return s[4]
}

func luma(r, g, b float64) float64 {
	return 0.299*r + 0.587*g + 0.114*b
}

func wrap(x, w int) int {
	x %= w
	if x < 0 {
		x += w
	}
	return x
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
