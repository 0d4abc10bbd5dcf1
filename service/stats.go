package service

import (
	"math"

	"github.com/disintegration/imaging"
)

const (
	// SampleSize is the side of the square the raster is resized to before
	// analysis, so extraction cost does not depend on the input resolution.
	SampleSize = 128

	channelThreshold = 0.55
)

// ExtractStatistics computes the feature vector the heuristic generators
// work from. It is deterministic in the raster's pixels.
func ExtractStatistics(raster *Raster) ImageStatistics {
	width, height := raster.Width(), raster.Height()
	small := imaging.Resize(raster.NRGBA, SampleSize, SampleSize, imaging.CatmullRom)

	const n = SampleSize * SampleSize
	var (
		luma, red, green, blue, skin float64
		dx, dy                       float64
	)
	px := func(x, y int) (float64, float64, float64) {
		i := small.PixOffset(x, y)
		p := small.Pix[i : i+3 : i+3]
		return float64(p[0]) / 255, float64(p[1]) / 255, float64(p[2]) / 255
	}

	for y := 0; y < SampleSize; y++ {
		for x := 0; x < SampleSize; x++ {
			r, g, b := px(x, y)
			luma += 0.299*r + 0.587*g + 0.114*b
			if r > channelThreshold {
				red++
			}
			if g > channelThreshold {
				green++
			}
			if b > channelThreshold {
				blue++
			}
			if isSkin(r, g, b) {
				skin++
			}
			if x+1 < SampleSize {
				r2, g2, b2 := px(x+1, y)
				dx += math.Abs(r2-r) + math.Abs(g2-g) + math.Abs(b2-b)
			}
			if y+1 < SampleSize {
				r2, g2, b2 := px(x, y+1)
				dy += math.Abs(r2-r) + math.Abs(g2-g) + math.Abs(b2-b)
			}
		}
	}

	// Mean over every channel of every adjacent pair along each axis.
	const pairs = SampleSize * (SampleSize - 1) * 3

	return ImageStatistics{
		Width:       width,
		Height:      height,
		AspectRatio: float64(width) / float64(max(height, 1)),
		Brightness:  luma / n,
		RedRatio:    red / n,
		GreenRatio:  green / n,
		BlueRatio:   blue / n,
		SkinRatio:   skin / n,
		EdgeDensity: math.Min(1, dx/pairs+dy/pairs),
	}
}

// isSkin is a coarse skin-tone rule on normalised channel values.
func isSkin(r, g, b float64) bool {
	return r > 0.35 && g > 0.2 && b > 0.15 && r > g && r-b > 0.1
}
