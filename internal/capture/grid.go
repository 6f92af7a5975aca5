// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package capture

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/relabs-tech/sphere_capture/internal/orientation"
)

// Target is one point on the capture sphere.
type Target struct {
	ID        string  `json:"id"`
	Ring      string  `json:"ring"`
	Yaw       float64 `json:"yaw"`
	Pitch     float64 `json:"pitch"`
	Completed bool    `json:"completed"`
	// Thumbnail references the stored frame that completed this target.
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Pole reports whether the target sits on the zenith or nadir, where every
// yaw points at the same spot.
func (t Target) Pole() bool {
	return math.Abs(t.Pitch) >= 90
}

// Ring is one latitude band of evenly spaced targets.
type Ring struct {
	Name   string
	Pitch  float64
	Count  int
	Offset float64 // yaw of the first target
}

// DefaultRings is 3 rings of 8 which, with both poles, gives 26 targets.
var DefaultRings = []Ring{
	{Name: "sky", Pitch: 45, Count: 8, Offset: 22.5},
	{Name: "horizon", Pitch: 0, Count: 8},
	{Name: "floor", Pitch: -45, Count: 8, Offset: 22.5},
}

// BuildGrid lays out the targets: zenith first, then each ring in order,
// then nadir. Target IDs are unique: a ring whose name is already taken is
// suffixed with its index.
func BuildGrid(rings []Ring, poles bool) []Target {
	var out []Target
	used := map[string]bool{"zenith": poles, "nadir": poles}
	if poles {
		out = append(out, Target{ID: "zenith_0", Ring: "zenith", Pitch: 90})
	}
	for i, r := range rings {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("ring%d", i)
		}
		if used[name] {
			name = fmt.Sprintf("%s_r%d", name, i)
		}
		used[name] = true
		for k := 0; k < r.Count; k++ {
			out = append(out, Target{
				ID:    fmt.Sprintf("%s_%d", name, k),
				Ring:  name,
				Yaw:   orientation.NormalizeYaw(r.Offset + float64(k)*360/float64(r.Count)),
				Pitch: r.Pitch,
			})
		}
	}
	if poles {
		out = append(out, Target{ID: "nadir_0", Ring: "nadir", Pitch: -90})
	}
	return out
}

// ParseRings reads a comma separated list of "pitch:count[:offset]"
// entries, e.g. "45:8:22.5,0:8,-45:8:22.5".
func ParseRings(s string) ([]Ring, error) {
	var rings []Ring
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("ring %d: want pitch:count[:offset], got %q", i, part)
		}
		pitch, err := strconv.ParseFloat(fields[0], 64)
		if err != nil || pitch <= -90 || pitch >= 90 {
			return nil, fmt.Errorf("ring %d: invalid pitch %q", i, fields[0])
		}
		count, err := strconv.Atoi(fields[1])
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("ring %d: invalid count %q", i, fields[1])
		}
		var offset float64
		if len(fields) == 3 {
			if offset, err = strconv.ParseFloat(fields[2], 64); err != nil {
				return nil, fmt.Errorf("ring %d: invalid offset %q", i, fields[2])
			}
		}
		rings = append(rings, Ring{Name: ringName(pitch), Pitch: pitch, Count: count, Offset: offset})
	}
	if len(rings) == 0 {
		return nil, fmt.Errorf("no rings in %q", s)
	}
	return rings, nil
}

func ringName(pitch float64) string {
	switch {
	case pitch == 0:
		return "horizon"
	case pitch > 0:
		return "sky" + strconv.FormatFloat(pitch, 'f', -1, 64)
	}
	return "floor" + strconv.FormatFloat(-pitch, 'f', -1, 64)
}
