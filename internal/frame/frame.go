// Package frame defines the captured-frame records persisted by a capture
// session and consumed by the stitcher.
package frame

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relabs-tech/sphere_capture/internal/gps"
)

// DefaultHFOV is assumed when a camera does not report its field of view.
const DefaultHFOV = 75.0

// Sensors is the device pose at the moment of capture, in degrees.
type Sensors struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// Camera describes the lens used for a frame.
type Camera struct {
	HFOV float64 `json:"hfov"` // horizontal field of view, degrees
}

// Record is the persisted metadata of one captured frame. The image bytes
// are stored alongside, keyed by ID.
type Record struct {
	ID        string  `json:"id"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
	Sensors   Sensors `json:"sensors"`
	Camera    Camera  `json:"camera"`
	TargetID  string  `json:"target_id,omitempty"`
}

// Frame is a record together with its encoded image. Frames are immutable
// once created.
type Frame struct {
	Record
	Image []byte `json:"-"`
}

// Manifest is the ordered list of frames of one capture session.
type Manifest struct {
	SessionID string   `json:"session_id"`
	Frames    []Record `json:"frames"`
	Location  *gps.Fix `json:"location,omitempty"`
}

// FrameID returns the identifier of the n-th frame of a session.
func FrameID(n int) string {
	return fmt.Sprintf("frame_%d.jpg", n)
}

// FrameNumber parses the n of an id produced by FrameID.
func FrameNumber(id string) (int, bool) {
	s, ok := strings.CutPrefix(id, "frame_")
	if !ok {
		return 0, false
	}
	s, ok = strings.CutSuffix(s, ".jpg")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// HFOVOrDefault returns the camera HFOV, or DefaultHFOV when unset.
func (c Camera) HFOVOrDefault() float64 {
	if c.HFOV <= 0 {
		return DefaultHFOV
	}
	return c.HFOV
}
