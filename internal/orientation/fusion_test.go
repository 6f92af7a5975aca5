package orientation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/sphere_capture/internal/timeutil"
)

func newTestFusion() (*Fusion, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewFusion(FusionConfig{}, clock), clock
}

func TestWorldAnglesUpright(t *testing.T) {
	tests := []struct {
		name       string
		yaw, pitch float64
	}{
		{"forward", 0, 0},
		{"right", 90, 0},
		{"behind tilted up", 180, 30},
		{"left tilted down", 270, -45},
		{"near wrap", 359, 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := SampleFor(tc.yaw, tc.pitch)
			got := worldAngles(*s.Alpha, *s.Beta, *s.Gamma)
			assert.InDelta(t, 0, AngleDiff(got.Yaw, tc.yaw), 1e-6)
			assert.InDelta(t, tc.pitch, got.Pitch, 1e-6)
			assert.InDelta(t, 0, got.Roll, 1e-6)
		})
	}
}

func TestFirstSampleSeedsFilter(t *testing.T) {
	f, _ := newTestFusion()
	st := f.Update(SampleFor(120, 15))

	require.True(t, st.Calibrated)
	assert.InDelta(t, 120, st.Smoothed.Yaw, 1e-6)
	assert.InDelta(t, 15, st.Smoothed.Pitch, 1e-6)
	assert.Equal(t, st.Smoothed, st.Previous)
	assert.Zero(t, st.Velocity)
}

func TestMissingComponentsReadAsZero(t *testing.T) {
	f, _ := newTestFusion()
	st := f.Update(Sample{Beta: Deg(90)})
	require.True(t, st.Calibrated)
	assert.InDelta(t, 0, st.Smoothed.Pitch, 1e-6)
}

func TestAbsentSampleLeavesFilterUnchanged(t *testing.T) {
	f, _ := newTestFusion()
	st := f.Update(Sample{})
	assert.False(t, st.Calibrated)

	f.Update(SampleFor(40, 0))
	before := f.State()
	after := f.Update(Sample{})
	assert.Equal(t, before.Smoothed, after.Smoothed)
}

func TestCircularEMAAcrossWrap(t *testing.T) {
	f, clock := newTestFusion()
	f.Update(SampleFor(359, 0))

	clock.Advance(100 * time.Millisecond)
	st := f.Update(SampleFor(1, 0))

	// 359 -> 1 is a 2° step; with alpha 0.6 the filter moves 1.2°.
	assert.InDelta(t, 0.2, st.Smoothed.Yaw, 1e-6)
	assert.InDelta(t, 12, st.Velocity.Yaw, 1e-6)
	assert.Less(t, math.Abs(AngleDiff(st.Smoothed.Yaw, st.Previous.Yaw)), 180.0)
}

func TestLinearEMAAndVelocity(t *testing.T) {
	f, clock := newTestFusion()
	f.Update(SampleFor(0, 0))

	clock.Advance(500 * time.Millisecond)
	st := f.Update(SampleFor(0, 10))

	assert.InDelta(t, 6, st.Smoothed.Pitch, 1e-6)
	assert.InDelta(t, 12, st.Velocity.Pitch, 1e-6)
	assert.InDelta(t, 12, f.AngularSpeed(), 1e-6)
	assert.False(t, f.IsStable(DefaultThresholds))
	assert.True(t, f.IsStable(Thresholds{Yaw: 4, Pitch: 20}))
}

func TestZeroElapsedKeepsVelocity(t *testing.T) {
	f, clock := newTestFusion()
	f.Update(SampleFor(0, 0))
	clock.Advance(time.Second)
	f.Update(SampleFor(0, 10))
	v := f.State().Velocity

	st := f.Update(SampleFor(0, 20))
	assert.Equal(t, v, st.Velocity)
}

func TestRelativeYaw(t *testing.T) {
	f, clock := newTestFusion()
	assert.Zero(t, f.RelativeYaw())

	f.Update(SampleFor(300, 0))
	assert.Zero(t, f.RelativeYaw(), "undefined before calibrate")

	f.Calibrate()
	assert.True(t, f.HasReference())
	assert.Zero(t, f.RelativeYaw())

	for _, yaw := range []float64{310, 350, 10, 100, 200, 290, 299.9} {
		clock.Advance(20 * time.Millisecond)
		f.Update(SampleFor(yaw, 0))
		rel := f.RelativeYaw()
		assert.GreaterOrEqual(t, rel, 0.0)
		assert.Less(t, rel, 360.0)
	}
}

func TestResetDropsReference(t *testing.T) {
	f, _ := newTestFusion()
	f.Update(SampleFor(10, 0))
	f.Calibrate()
	f.Reset()
	assert.False(t, f.Calibrated())
	assert.False(t, f.HasReference())
}

func TestNormalizeAndAngleDiff(t *testing.T) {
	assert.InDelta(t, 350, NormalizeYaw(-10), 1e-9)
	assert.InDelta(t, 0, NormalizeYaw(720), 1e-9)
	assert.InDelta(t, 2, AngleDiff(1, 359), 1e-9)
	assert.InDelta(t, -2, AngleDiff(359, 1), 1e-9)
	assert.InDelta(t, 180, AngleDiff(180, 0), 1e-9)
}
