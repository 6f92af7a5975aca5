// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package stitch

import (
	"runtime"

	"github.com/relabs-tech/sphere_capture/internal/raster"
)

// Tier is one candidate output resolution. Width must be twice Height.
type Tier struct {
	Width  int
	Height int
}

// DefaultTiers tries 8K first and falls back to 4K.
var DefaultTiers = []Tier{{8192, 4096}, {4096, 2048}}

// MaxPitch keeps the warp away from the singularity at the poles.
const MaxPitch = 89.9

// Config tunes the stitcher. Zero fields take the defaults below.
type Config struct {
	Tiers     []Tier
	MaxPixels int // canvas pixel budget; larger tiers are skipped
	MinFrames int

	Slices       int     // vertical slices per frame in the warp
	SliceOverlap float64 // slice width multiplier that hides rounding gaps
	WarpMargin   float64 // warp buffer width as a multiple of the frame HFOV

	FeatherH  float64 // horizontal fade, fraction of frame width
	FeatherV  float64 // vertical fade, fraction of frame height
	PolePitch float64 // |pitch| above which the pole-facing fade is dropped

	Exposure raster.Exposure

	PoleFraction   float64 // height fraction of each pole band
	PoleBlurRadius int

	HotspotThreshold float64 // luma above the 3×3 mean that marks a hotspot
	HotspotPull      float64
	SeamBlurRadius   int

	JPEGQuality int
	Workers     int // parallel frame decoders
}

func DefaultConfig() Config {
	return Config{
		Tiers:            DefaultTiers,
		MaxPixels:        8192 * 4096,
		MinFrames:        2,
		Slices:           1200,
		SliceOverlap:     1.75,
		WarpMargin:       1.5,
		FeatherH:         0.30,
		FeatherV:         0.15,
		PolePitch:        60,
		Exposure:         raster.DefaultExposure,
		PoleFraction:     0.20,
		PoleBlurRadius:   10,
		HotspotThreshold: 40,
		HotspotPull:      0.6,
		SeamBlurRadius:   1,
		JPEGQuality:      95,
		Workers:          runtime.GOMAXPROCS(0),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Tiers) == 0 {
		c.Tiers = d.Tiers
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = d.MaxPixels
	}
	if c.MinFrames <= 0 {
		c.MinFrames = d.MinFrames
	}
	if c.Slices <= 0 {
		c.Slices = d.Slices
	}
	if c.SliceOverlap <= 0 {
		c.SliceOverlap = d.SliceOverlap
	}
	if c.WarpMargin <= 0 {
		c.WarpMargin = d.WarpMargin
	}
	if c.FeatherH <= 0 {
		c.FeatherH = d.FeatherH
	}
	if c.FeatherV <= 0 {
		c.FeatherV = d.FeatherV
	}
	if c.PolePitch <= 0 {
		c.PolePitch = d.PolePitch
	}
	if c.Exposure.Target <= 0 {
		c.Exposure = d.Exposure
	}
	if c.PoleFraction <= 0 {
		c.PoleFraction = d.PoleFraction
	}
	if c.PoleBlurRadius <= 0 {
		c.PoleBlurRadius = d.PoleBlurRadius
	}
	if c.HotspotThreshold <= 0 {
		c.HotspotThreshold = d.HotspotThreshold
	}
	if c.HotspotPull <= 0 {
		c.HotspotPull = d.HotspotPull
	}
	if c.SeamBlurRadius <= 0 {
		c.SeamBlurRadius = d.SeamBlurRadius
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	return c
}
