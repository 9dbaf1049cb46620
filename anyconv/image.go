package anyconv

import (
	"image"
	"image/color"

	"github.com/unixpickle/anyvec"
)

// ImageToTensor converts an image to a row-major RGB
// tensor with values in [0, 1].
// Alpha is ignored.
func ImageToTensor(c anyvec.Creator, img image.Image) anyvec.Vector {
	return pixelTensor(c, img, 3, func(px color.Color, out []float64) {
		r, g, b, _ := px.RGBA()
		out[0] = float64(r) / 0xffff
		out[1] = float64(g) / 0xffff
		out[2] = float64(b) / 0xffff
	})
}

// MaskToTensor converts a ground-truth mask image to a
// single-channel tensor.
// Pixels brighter than half intensity become 1, and the
// rest become 0.
func MaskToTensor(c anyvec.Creator, img image.Image) anyvec.Vector {
	return pixelTensor(c, img, 1, func(px color.Color, out []float64) {
		if color.GrayModel.Convert(px).(color.Gray).Y > 0x7f {
			out[0] = 1
		}
	})
}

func pixelTensor(c anyvec.Creator, img image.Image, depth int,
	f func(px color.Color, out []float64)) anyvec.Vector {
	b := img.Bounds()
	res := make([]float64, 0, b.Dx()*b.Dy()*depth)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			res = append(res, make([]float64, depth)...)
			f(img.At(x, y), res[len(res)-depth:])
		}
	}
	return c.MakeVectorData(c.MakeNumericList(res))
}
