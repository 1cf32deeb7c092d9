package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPlanarLayout(t *testing.T) {
	img := solid(32, 16, color.RGBA{R: 255, G: 0, B: 255, A: 255})

	data := Planar(img, 8)
	require.Len(t, data, 3*8*8)
	for i := 0; i < 64; i++ {
		require.InDelta(t, 1.0, data[i], 1e-3, "red %d", i)
		require.InDelta(t, 0.0, data[64+i], 1e-3, "green %d", i)
		require.InDelta(t, 1.0, data[128+i], 1e-3, "blue %d", i)
	}
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(4, 4, color.White)))

	img, format, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 4, img.Bounds().Dx())

	_, _, err = Decode(bytes.NewReader([]byte("not an image")))
	require.Error(t, err)
}
