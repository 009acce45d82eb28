package pipeline

import (
	"image"
	"image/color"

	"github.com/shelfsight/edge-vision/tracking"
)

var detectionColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

const detectionBorder = 2

// drawDetections outlines each detection box on the display frame. The
// preview is a monitoring aid, not an analysis surface, so boxes are plain
// outlines without label text.
func drawDetections(img *image.RGBA, detections []tracking.Detection) {
	for _, det := range detections {
		rect := det.Box.ToImageRect().Intersect(img.Rect)
		if rect.Empty() {
			continue
		}
		for t := 0; t < detectionBorder; t++ {
			r := rect.Inset(t)
			if r.Empty() {
				break
			}
			for x := r.Min.X; x < r.Max.X; x++ {
				img.SetRGBA(x, r.Min.Y, detectionColor)
				img.SetRGBA(x, r.Max.Y-1, detectionColor)
			}
			for y := r.Min.Y; y < r.Max.Y; y++ {
				img.SetRGBA(r.Min.X, y, detectionColor)
				img.SetRGBA(r.Max.X-1, y, detectionColor)
			}
		}
	}
}
