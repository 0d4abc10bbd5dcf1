package service

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Formats(t *testing.T) {
	r, err := Decode(sampleBlue(t), 0)
	require.NoError(t, err)
	assert.Equal(t, 256, r.Width())
	assert.Equal(t, 128, r.Height())
	assert.Equal(t, "png", r.Format)
}

func TestDecode_AlphaAndGreyBecomeOpaqueRGB(t *testing.T) {
	translucent := uniformImage(4, 4, color.NRGBA{R: 200, G: 10, B: 10, A: 40})
	r, err := Decode(encodePNG(t, translucent), 0)
	require.NoError(t, err)
	assert.Equal(t, []uint8{200, 10, 10, 255}, r.Pix[0:4])

	grey := image.NewGray(image.Rect(0, 0, 3, 3))
	for i := range grey.Pix {
		grey.Pix[i] = 90
	}
	r, err = Decode(encodePNG(t, grey), 0)
	require.NoError(t, err)
	assert.Equal(t, []uint8{90, 90, 90, 255}, r.Pix[0:4])
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"), 0)
	assert.ErrorIs(t, err, ErrInvalidImage)

	truncated := sampleBlue(t)
	_, err = Decode(truncated[:len(truncated)/2], 0)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestDecode_PixelCeiling(t *testing.T) {
	_, err := Decode(sampleBlue(t), 256*128-1)
	assert.ErrorIs(t, err, ErrInvalidImage)

	_, err = Decode(sampleBlue(t), 256*128)
	assert.NoError(t, err)
}

func TestExtractStatistics_Uniform(t *testing.T) {
	r, err := Decode(sampleBlue(t), 0)
	require.NoError(t, err)
	s := ExtractStatistics(r)

	assert.Equal(t, 256, s.Width)
	assert.Equal(t, 128, s.Height)
	assert.InDelta(t, 2.0, s.AspectRatio, 1e-9)
	// 0.299*30/255 + 0.587*180/255 + 0.114*240/255
	assert.InDelta(t, 0.5569, s.Brightness, 1e-3)
	assert.InDelta(t, 0.0, s.RedRatio, 1e-9)
	assert.InDelta(t, 1.0, s.GreenRatio, 1e-9)
	assert.InDelta(t, 1.0, s.BlueRatio, 1e-9)
	assert.InDelta(t, 0.0, s.SkinRatio, 1e-9)
	assert.InDelta(t, 0.0, s.EdgeDensity, 1e-9)
}

func TestExtractStatistics_SkinAndEdges(t *testing.T) {
	skin := &Raster{NRGBA: uniformImage(64, 64, color.NRGBA{R: 220, G: 170, B: 140, A: 255})}
	assert.InDelta(t, 1.0, ExtractStatistics(skin).SkinRatio, 1e-9)

	// 1px checkerboard at exactly the sample size: every neighbour differs fully.
	checker := &Raster{NRGBA: checkerImage(SampleSize, SampleSize, 1)}
	assert.InDelta(t, 1.0, ExtractStatistics(checker).EdgeDensity, 1e-9)

	coarse := &Raster{NRGBA: checkerImage(SampleSize, SampleSize, 16)}
	e := ExtractStatistics(coarse).EdgeDensity
	assert.Greater(t, e, 0.0)
	assert.Less(t, e, 0.35)
}

func TestExtractStatistics_DegenerateHeight(t *testing.T) {
	s := ExtractStatistics(&Raster{NRGBA: uniformImage(5, 1, color.Black)})
	assert.InDelta(t, 5.0, s.AspectRatio, 1e-9)
	assert.InDelta(t, 0.0, s.Brightness, 1e-9)
}

func TestStatisticsMetadataRounding(t *testing.T) {
	m := ImageStatistics{Width: 3, Height: 2, AspectRatio: 1.5, Brightness: 0.123456, EdgeDensity: 0.9996}.Metadata()
	assert.Equal(t, 1.5, m.AspectRatio)
	assert.Equal(t, 0.123, m.Brightness)
	assert.Equal(t, 1.0, m.EdgeDensity)
}
