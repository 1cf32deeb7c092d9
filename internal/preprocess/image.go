// Package preprocess turns images into raw network inputs.
package preprocess

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
	"github.com/pingcap/errors"
)

// Decode reads a JPEG or PNG image.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", errors.Annotate(err, "invalid image format, supported: JPEG, PNG")
	}
	return img, format, nil
}

// Planar resizes img to size x size and returns its RGB channels in CHW
// order, each value normalized to [0, 1].
func Planar(img image.Image, size uint) []float32 {
	resized := resize.Resize(size, size, img, resize.Lanczos3)

	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	data := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			i := y*width + x
			data[i] = float32(r) / 65535.0
			data[plane+i] = float32(g) / 65535.0
			data[2*plane+i] = float32(b) / 65535.0
		}
	}
	return data
}
