// Package images - Conversions across the image.Image / gocv.Mat boundary.
package images

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ImageToMat converts an image.Image to a BGR gocv.Mat.
//
// OpenCV stores pixels in BGR order, so channels are swapped during the copy.
// The returned Mat is owned by the caller and must be closed.
func ImageToMat(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.NewMat(), errors.New("input image is nil")
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return gocv.NewMat(), errors.New("input image is empty")
	}

	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)

	// Fast path for RGBA-backed images: copy raw bytes row by row.
	if rgba, ok := img.(*image.RGBA); ok {
		if data, err := mat.DataPtrUint8(); err == nil {
			for y := 0; y < height; y++ {
				srcRow := y * rgba.Stride
				dstRow := y * width * 3
				for x := 0; x < width; x++ {
					s := srcRow + x*4
					d := dstRow + x*3
					data[d+0] = rgba.Pix[s+2] // B
					data[d+1] = rgba.Pix[s+1] // G
					data[d+2] = rgba.Pix[s+0] // R
				}
			}
			return mat, nil
		}
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// 16-bit color components down to 8-bit, BGR order.
			mat.SetUCharAt(y-bounds.Min.Y, (x-bounds.Min.X)*3+0, uint8(b>>8))
			mat.SetUCharAt(y-bounds.Min.Y, (x-bounds.Min.X)*3+1, uint8(g>>8))
			mat.SetUCharAt(y-bounds.Min.Y, (x-bounds.Min.X)*3+2, uint8(r>>8))
		}
	}

	return mat, nil
}

// MatToImage converts a gocv.Mat to an image.Image.
func MatToImage(mat gocv.Mat) (image.Image, error) {
	if mat.Empty() {
		return nil, errors.New("input mat is empty")
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert mat to image")
	}
	return img, nil
}
