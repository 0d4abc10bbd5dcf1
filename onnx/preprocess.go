package onnx

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

const DefaultImageSize = 224

var (
	ClipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	ClipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

func Sigmoid(x float32) float32 {
	if x > 50 {
		x = 50
	} else if x < -50 {
		x = -50
	}
	return 1 / (1 + float32(math.Exp(float64(-x))))
}

// Preprocess pads img to a white square, resizes it to size×size and
// returns it as a normalised CHW float tensor.
func Preprocess(img image.Image, size int) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	maxDim := max(h, w)

	canvas := imaging.New(maxDim, maxDim, color.White)
	padded := imaging.Paste(canvas, img, image.Pt((maxDim-w)/2, (maxDim-h)/2))
	resized := imaging.Resize(padded, size, size, imaging.Lanczos)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := resized.PixOffset(x, y)
			p := resized.Pix[i : i+3 : i+3]
			o := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(p[c]) / 255.0
				out[c*plane+o] = (v - ClipMean[c]) / ClipStd[c]
			}
		}
	}
	return out
}
