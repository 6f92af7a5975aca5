package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameNumber(t *testing.T) {
	tests := []struct {
		id   string
		want int
		ok   bool
	}{
		{FrameID(1), 1, true},
		{FrameID(42), 42, true},
		{"frame_0.jpg", 0, false},
		{"frame_x.jpg", 0, false},
		{"frame_3.png", 0, false},
		{"shot_3.jpg", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			n, ok := FrameNumber(tt.id)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}
