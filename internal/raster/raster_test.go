package raster

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *Raster {
	r := New(w, h)
	r.Fill(c)
	return r
}

func TestFromImageAndView(t *testing.T) {
	img := image.NewNRGBA(image.Rect(10, 10, 14, 12))
	for y := 10; y < 12; y++ {
		for x := 10; x < 14; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	r := FromImage(img)
	require.Equal(t, 4, r.Width)
	require.Equal(t, 2, r.Height)
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, r.At(3, 1))

	r.RGBA().SetRGBA(0, 0, color.RGBA{A: 255})
	assert.Equal(t, color.RGBA{A: 255}, r.At(0, 0), "view shares pixels")
}

func TestRotateKeepsCentreAndClearsCorners(t *testing.T) {
	src := solid(40, 20, color.RGBA{R: 90, G: 90, B: 90, A: 255})

	same := Rotate(src, 0)
	assert.Equal(t, src.Pix, same.Pix)

	rot := Rotate(src, 30)
	assert.Equal(t, 40, rot.Width)
	assert.Equal(t, uint8(255), rot.At(20, 10).A)
	assert.Equal(t, uint8(0), rot.At(0, 0).A, "corner rotates out of frame")
}

func TestFeather(t *testing.T) {
	r := solid(100, 100, color.RGBA{R: 200, G: 200, B: 200, A: 255})
	Feather(r, 0.3, 0.15, 0)

	centre := r.At(50, 50)
	assert.Equal(t, uint8(255), centre.A)

	left := r.At(0, 50)
	assert.Less(t, left.A, uint8(10))
	assert.LessOrEqual(t, left.R, left.A, "premultiplied")

	top := r.At(50, 0)
	assert.Less(t, top.A, uint8(40))

	bottom := r.At(50, 99)
	assert.Equal(t, uint8(255), bottom.A, "bottom fade disabled")
}

func TestNormalizeExposure(t *testing.T) {
	dark := solid(8, 8, color.RGBA{R: 40, G: 60, B: 80, A: 255})
	require.True(t, NormalizeExposure(dark, Exposure{Target: 128, Strength: 1, MinGain: 0.5, MaxGain: 4}))
	c := dark.At(3, 3)
	assert.InDelta(t, 128, int(c.R), 1)
	assert.InDelta(t, 128, int(c.G), 1)
	assert.InDelta(t, 128, int(c.B), 1)

	clamped := solid(8, 8, color.RGBA{R: 40, G: 40, B: 40, A: 255})
	NormalizeExposure(clamped, DefaultExposure)
	assert.Equal(t, uint8(80), clamped.At(0, 0).R, "gain capped at MaxGain")

	transparent := New(4, 4)
	assert.False(t, NormalizeExposure(transparent, DefaultExposure))
}

func TestMedian3RemovesIsolatedSpike(t *testing.T) {
	r := solid(9, 9, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	r.Set(4, 4, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	Median3(r)
	assert.Equal(t, color.RGBA{R: 100, G: 100, B: 100, A: 255}, r.At(4, 4))
}

func TestMean3HotspotPullsBrightPixels(t *testing.T) {
	r := solid(9, 9, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	r.Set(4, 4, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	r.Set(1, 1, color.RGBA{R: 110, G: 110, B: 110, A: 255})
	Mean3Hotspot(r, 40, 1)

	assert.Less(t, r.At(4, 4).R, uint8(130))
	assert.Equal(t, uint8(110), r.At(1, 1).R, "small deviations untouched")
}

func TestBlursPreserveFlatField(t *testing.T) {
	flat := color.RGBA{R: 70, G: 80, B: 90, A: 255}
	r := solid(16, 8, flat)
	BoxBlurH(r, 2)
	BoxBlurV(r, 1)
	CenterWeighted3(r)
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			require.Equal(t, flat, r.At(x, y))
		}
	}
}

func TestBoxBlurHBandWrapsAndStaysInBand(t *testing.T) {
	r := solid(10, 4, color.RGBA{A: 255})
	r.Set(0, 0, color.RGBA{R: 90, A: 255})
	BoxBlurHBand(r, 1, 0, 1)

	assert.Equal(t, uint8(30), r.At(9, 0).R, "left edge wraps to right")
	assert.Equal(t, uint8(30), r.At(1, 0).R)
	assert.Equal(t, uint8(0), r.At(5, 0).R)
	assert.Equal(t, color.RGBA{A: 255}, r.At(0, 1), "rows outside band untouched")
}

func TestCompositeClipsAndBlends(t *testing.T) {
	dst := solid(10, 10, color.RGBA{A: 255})
	src := solid(4, 4, color.RGBA{R: 200, A: 255})
	Composite(dst, src, 8, 8)
	assert.Equal(t, uint8(200), dst.At(9, 9).R)
	assert.Equal(t, uint8(0), dst.At(7, 7).R)

	half := solid(2, 2, color.RGBA{G: 100, A: 128})
	Composite(dst, half, 0, 0)
	c := dst.At(0, 0)
	assert.Equal(t, uint8(255), c.A)
	assert.InDelta(t, 100, int(c.G), 1)
}

func TestDrawScaledStretchesSlice(t *testing.T) {
	src := solid(4, 4, color.RGBA{B: 180, A: 255})
	dst := New(20, 20)
	DrawScaled(dst, src, image.Rect(1, 0, 2, 4), 5, 2, 3, 12)
	assert.Equal(t, uint8(180), dst.At(6, 8).B)
	assert.Equal(t, uint8(0), dst.At(15, 8).A)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(color.RGBA{R: 16, A: 255}))
	assert.False(t, Valid(color.RGBA{R: 15, G: 15, B: 15, A: 255}))
	assert.False(t, Valid(color.RGBA{R: 200, A: 250}))
}
