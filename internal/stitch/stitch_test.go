package stitch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/sphere_capture/internal/frame"
	"github.com/relabs-tech/sphere_capture/internal/raster"
)

func testConfig() Config {
	return Config{
		Tiers:     []Tier{{512, 256}, {256, 128}},
		MaxPixels: 512 * 256,
		MinFrames: 2,
		Slices:    64,
		Workers:   2,
	}
}

func synthJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(120 + x%60), G: uint8(100 + y%50), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}))
	return buf.Bytes()
}

func shot(t *testing.T, id string, yaw, pitch float64) frame.Frame {
	return frame.Frame{
		Record: frame.Record{
			ID:      id,
			Sensors: frame.Sensors{Yaw: yaw, Pitch: pitch},
			Camera:  frame.Camera{HFOV: 75},
		},
		Image: synthJPEG(t, 160, 120),
	}
}

func TestStitchHorizonPair(t *testing.T) {
	eng := NewEngine(testConfig())
	frames := []frame.Frame{shot(t, "a", 0, 0), shot(t, "b", 180, 0)}

	p, err := eng.Stitch(context.Background(), frames)
	require.NoError(t, err)
	assert.Equal(t, 512, p.Width)
	assert.Equal(t, 256, p.Height)
	assert.Equal(t, 2, p.Frames)
	assert.False(t, p.Fallback)
	assert.NotEmpty(t, p.Handle)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(p.Encoded))
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, 256, cfg.Height)

	for y := p.Height / 3; y < 2*p.Height/3; y++ {
		for x := 0; x < p.Width; x++ {
			require.NotZero(t, p.Raster.At(x, y).A, "transparent pixel at %d,%d", x, y)
		}
	}

	// the frame at yaw 0 straddles the seam and must show on both sides
	assert.True(t, raster.Valid(p.Raster.At(2, 128)))
	assert.True(t, raster.Valid(p.Raster.At(509, 128)))
}

func TestStitchIsDeterministic(t *testing.T) {
	eng := NewEngine(testConfig())
	frames := []frame.Frame{shot(t, "a", 10, 5), shot(t, "b", 100, -10), shot(t, "c", 250, 20)}

	first, err := eng.Stitch(context.Background(), frames)
	require.NoError(t, err)
	second, err := eng.Stitch(context.Background(), frames)
	require.NoError(t, err)

	assert.Equal(t, first.Width, second.Width)
	assert.Equal(t, first.Height, second.Height)
	assert.Equal(t, first.Raster.Pix, second.Raster.Pix)
	assert.NotEqual(t, first.Handle, second.Handle)
}

func TestStitchFillsPoles(t *testing.T) {
	eng := NewEngine(testConfig())
	var frames []frame.Frame
	for _, pitch := range []float64{-30, 0, 30} {
		for yaw := 0.0; yaw < 360; yaw += 45 {
			frames = append(frames, shot(t, "f", yaw, pitch))
		}
	}

	p, err := eng.Stitch(context.Background(), frames)
	require.NoError(t, err)

	band := p.Height / 10
	for _, y := range []int{0, band / 2, band - 1, p.Height - band, p.Height - 1} {
		for x := 0; x < p.Width; x++ {
			c := p.Raster.At(x, y)
			require.Equal(t, uint8(255), c.A, "transparent pole pixel at %d,%d", x, y)
			require.NotZero(t, int(c.R)+int(c.G)+int(c.B), "black pole pixel at %d,%d", x, y)
		}
	}
}

func TestStitchFallsBackToSmallerTier(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPixels = 256 * 128
	p, err := NewEngine(cfg).Stitch(context.Background(), []frame.Frame{shot(t, "a", 0, 0), shot(t, "b", 180, 0)})
	require.NoError(t, err)
	assert.True(t, p.Fallback)
	assert.Equal(t, 256, p.Width)
	assert.Equal(t, 128, p.Height)
}

func TestStitchAllocationFailure(t *testing.T) {
	calls := 0
	failing := func(w, h int) (*raster.Raster, error) {
		calls++
		return nil, ErrAllocation
	}
	_, err := NewEngine(testConfig(), WithAllocator(failing)).
		Stitch(context.Background(), []frame.Frame{shot(t, "a", 0, 0), shot(t, "b", 180, 0)})
	assert.ErrorIs(t, err, ErrAllocation)
	assert.Equal(t, 2, calls)
}

func TestStitchRejectsTooFewFrames(t *testing.T) {
	calls := 0
	counting := func(w, h int) (*raster.Raster, error) {
		calls++
		return raster.New(w, h), nil
	}
	eng := NewEngine(testConfig(), WithAllocator(counting))

	_, err := eng.Stitch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInsufficientFrames)

	_, err = eng.Stitch(context.Background(), []frame.Frame{shot(t, "a", 0, 0)})
	assert.ErrorIs(t, err, ErrInsufficientFrames)
	assert.Zero(t, calls, "rejected before allocating")
}

func TestStitchSkipsBadFrames(t *testing.T) {
	eng := NewEngine(testConfig())
	bad := frame.Frame{Record: frame.Record{ID: "bad"}, Image: []byte("not an image")}
	empty := frame.Frame{Record: frame.Record{ID: "empty"}}

	p, err := eng.Stitch(context.Background(), []frame.Frame{bad, shot(t, "good", 90, 0), empty})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Frames)

	_, err = eng.Stitch(context.Background(), []frame.Frame{bad, empty})
	assert.ErrorIs(t, err, ErrNoUsableFrames)
}

func TestStitchPortraitFrame(t *testing.T) {
	eng := NewEngine(testConfig())
	portrait := frame.Frame{
		Record: frame.Record{ID: "p", Sensors: frame.Sensors{Yaw: 45, Roll: 8}, Camera: frame.Camera{HFOV: 75}},
		Image:  synthJPEG(t, 90, 160),
	}
	p, err := eng.Stitch(context.Background(), []frame.Frame{portrait, shot(t, "l", 225, 0)})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Frames)
}

func TestStitchHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEngine(testConfig()).Stitch(ctx, []frame.Frame{shot(t, "a", 0, 0), shot(t, "b", 180, 0)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaults(t *testing.T) {
	cfg := NewEngine(Config{}).Config()
	assert.Equal(t, DefaultTiers, cfg.Tiers)
	assert.Equal(t, 1200, cfg.Slices)
	assert.InDelta(t, 1.75, cfg.SliceOverlap, 1e-9)
	assert.InDelta(t, 1.5, cfg.WarpMargin, 1e-9)
	assert.InDelta(t, 0.30, cfg.FeatherH, 1e-9)
	assert.InDelta(t, 0.15, cfg.FeatherV, 1e-9)
	assert.InDelta(t, 128, cfg.Exposure.Target, 1e-9)
	assert.InDelta(t, 0.20, cfg.PoleFraction, 1e-9)
}

func TestFillPolesStaysInsideBand(t *testing.T) {
	cfg := testConfig()
	cfg.PoleFraction = 0.2
	eng := NewEngine(cfg)

	// 40 rows: bands are rows [0,8) and [32,40). Coverage starts at row 15
	// and ends at row 24, leaving rows outside both bands uncovered.
	canvas := raster.New(16, 40)
	red := color.RGBA{R: 200, G: 20, B: 20, A: 255}
	for x := 0; x < canvas.Width; x++ {
		for y := 15; y <= 24; y++ {
			canvas.Set(x, y, red)
		}
	}
	eng.fillPoles(canvas)

	for x := 0; x < canvas.Width; x++ {
		for _, y := range []int{0, 7, 32, 39} {
			assert.True(t, raster.Valid(canvas.At(x, y)), "pole band pixel %d,%d not filled", x, y)
		}
		for _, y := range []int{8, 14, 25, 31} {
			assert.False(t, raster.Valid(canvas.At(x, y)), "pixel %d,%d outside the pole band was filled", x, y)
		}
	}
}
