package detect

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// prepareInput resizes the frame to the square model input and writes it into
// the tensor in planar CHW order with channels normalized to [0,1].
func prepareInput(img image.Image, dst *ort.Tensor[float32], size int) error {
	data := dst.GetData()
	channelSize := size * size
	if len(data) < channelSize*3 {
		return errors.Errorf("destination tensor holds %d floats, needs %d",
			len(data), channelSize*3)
	}
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	img = resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	bounds := img.Bounds()
	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(b>>8) / 255.0
			i++
		}
	}
	return nil
}
