package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageToMatRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 40), B: uint8(x + y), A: 255})
		}
	}

	mat, err := ImageToMat(src)
	require.NoError(t, err)
	defer mat.Close()
	assert.Equal(t, 6, mat.Rows())
	assert.Equal(t, 8, mat.Cols())

	back, err := MatToImage(mat)
	require.NoError(t, err)
	b := back.Bounds()
	require.Equal(t, src.Bounds().Size(), b.Size())

	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			want := src.RGBAAt(x, y)
			got := color.RGBAModel.Convert(back.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
			assert.Equal(t, want.R, got.R, "red at (%d,%d)", x, y)
			assert.Equal(t, want.G, got.G, "green at (%d,%d)", x, y)
			assert.Equal(t, want.B, got.B, "blue at (%d,%d)", x, y)
		}
	}
}

func TestImageToMatNonRGBASource(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 16)
	}

	mat, err := ImageToMat(src)
	require.NoError(t, err)
	defer mat.Close()
	assert.Equal(t, 4, mat.Rows())
	assert.Equal(t, 4, mat.Cols())
}
