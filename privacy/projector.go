// Package privacy restricts the pipeline to a configured region of interest.
//
// Frames are cropped to the region before inference, detection coordinates
// are projected back to full-frame space afterward, and display output is
// obscured everywhere outside the region.
package privacy

import (
	"image"
	"image/color"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/shelfsight/edge-vision/images/kernels"
	"github.com/shelfsight/edge-vision/tracking"
)

// Region is a pixel rectangle in full-frame coordinates. X2/Y2 are exclusive.
type Region struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Validate checks the region against the frame bounds: positive extent,
// non-negative coordinates, fully inside the frame.
func (r Region) Validate(bounds image.Rectangle) error {
	if r.X1 >= r.X2 || r.Y1 >= r.Y2 {
		return errors.Errorf("region has non-positive extent: (%d,%d)-(%d,%d)", r.X1, r.Y1, r.X2, r.Y2)
	}
	if r.X1 < 0 || r.Y1 < 0 {
		return errors.Errorf("region has negative origin: (%d,%d)", r.X1, r.Y1)
	}
	if r.X2 > bounds.Dx() || r.Y2 > bounds.Dy() {
		return errors.Errorf("region (%d,%d)-(%d,%d) exceeds frame bounds %dx%d",
			r.X1, r.Y1, r.X2, r.Y2, bounds.Dx(), bounds.Dy())
	}
	return nil
}

// ToRect converts the region to an image.Rectangle.
func (r Region) ToRect() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// borderColor outlines the region on display frames.
var borderColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

const borderThickness = 2

// Projector crops frames to the configured region, projects detection
// coordinates back to full-frame space, and renders display-safe composites.
// A nil region means full frame: crop and projection become identities.
//
// All methods are safe for concurrent use; the display consumer reads while
// the processing loop crops.
type Projector struct {
	mu         sync.RWMutex
	region     *Region
	blurRadius int
	pool       *kernels.Pool
	log        zerolog.Logger
}

// NewProjector creates a projector with no region configured.
// blurRadius controls the display blur intensity.
func NewProjector(blurRadius int, logger zerolog.Logger) *Projector {
	if blurRadius < 1 {
		blurRadius = 25
	}
	return &Projector{
		blurRadius: blurRadius,
		pool:       &kernels.Pool{},
		log:        logger.With().Str("component", "privacy").Logger(),
	}
}

// SetRegion updates the region of interest, validating against the frame
// bounds. A malformed region is rejected and the previous region stays in
// effect. Passing nil clears the region (full frame).
func (p *Projector) SetRegion(r *Region, bounds image.Rectangle) error {
	if r != nil {
		if err := p.Validate(r, bounds); err != nil {
			p.log.Warn().Err(err).Msg("rejected region update")
			return errors.Wrap(err, "invalid region")
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if r == nil {
		p.region = nil
		p.log.Info().Msg("region cleared, using full frame")
		return nil
	}
	region := *r
	p.region = &region
	p.log.Info().
		Int("x1", r.X1).Int("y1", r.Y1).
		Int("x2", r.X2).Int("y2", r.Y2).
		Msg("region updated")
	return nil
}

// Validate checks a candidate region without applying it.
func (p *Projector) Validate(r *Region, bounds image.Rectangle) error {
	if r == nil {
		return nil
	}
	return r.Validate(bounds)
}

// Region returns a copy of the current region, or nil when none is set.
func (p *Projector) Region() *Region {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.region == nil {
		return nil
	}
	r := *p.region
	return &r
}

// HasRegion reports whether a region is configured.
func (p *Projector) HasRegion() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.region != nil
}

// Crop returns the region sub-image of the frame, or the frame unchanged
// when no region is configured. The sub-image shares pixels with the frame.
func (p *Projector) Crop(frame image.Image) image.Image {
	p.mu.RLock()
	region := p.region
	p.mu.RUnlock()
	if region == nil {
		return frame
	}

	rect := clampToFrame(*region, frame.Bounds())
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := frame.(subImager); ok {
		return si.SubImage(rect.Add(frame.Bounds().Min))
	}

	// Source without SubImage support: copy the region out.
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	min := frame.Bounds().Min
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.Set(x, y, frame.At(min.X+rect.Min.X+x, min.Y+rect.Min.Y+y))
		}
	}
	return out
}

// ProjectDetections translates detection boxes from region-local coordinates
// to full-frame coordinates by adding the region's top-left offset. With no
// region configured the input is returned unchanged. The translation is the
// exact inverse of Crop, so a box computed on the cropped frame lands on the
// same full-frame pixels as one computed directly on the full frame.
func (p *Projector) ProjectDetections(detections []tracking.Detection) []tracking.Detection {
	p.mu.RLock()
	region := p.region
	p.mu.RUnlock()
	if region == nil || len(detections) == 0 {
		return detections
	}

	out := make([]tracking.Detection, len(detections))
	for i, d := range detections {
		d.Box = d.Box.Translate(region.X1, region.Y1)
		out[i] = d
	}
	return out
}

// RenderForDisplay returns a display-safe composite: blurred outside the
// region, sharp inside, with a visible border outline. Without a region the
// frame is returned as an unmodified copy. The frame itself is never written.
func (p *Projector) RenderForDisplay(frame image.Image) *image.RGBA {
	p.mu.RLock()
	region := p.region
	radius := p.blurRadius
	p.mu.RUnlock()

	if region == nil {
		return kernels.BoxBlur(frame, kernels.Options{Radius: 0})
	}

	bounds := frame.Bounds()
	rect := clampToFrame(*region, bounds).Add(bounds.Min)
	out := kernels.BlurOutsideRegion(frame, rect, kernels.Options{
		Radius:   radius,
		Pool:     p.pool,
		Parallel: true,
	})
	drawBorder(out, rect, borderColor, borderThickness)
	return out
}

// clampToFrame clips a region to the frame extent, preserving at least one
// pixel. Coordinates are relative to the frame origin.
func clampToFrame(r Region, bounds image.Rectangle) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	x1 := max(0, min(r.X1, w-1))
	y1 := max(0, min(r.Y1, h-1))
	x2 := max(x1+1, min(r.X2, w))
	y2 := max(y1+1, min(r.Y2, h))
	return image.Rect(x1, y1, x2, y2)
}

// drawBorder draws a rectangle outline of the given thickness, clipped to
// the image bounds.
func drawBorder(img *image.RGBA, rect image.Rectangle, c color.RGBA, thickness int) {
	for t := 0; t < thickness; t++ {
		r := rect.Inset(-t).Intersect(img.Rect)
		if r.Empty() {
			continue
		}
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, r.Min.Y, c)
			img.SetRGBA(x, r.Max.Y-1, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			img.SetRGBA(r.Min.X, y, c)
			img.SetRGBA(r.Max.X-1, y, c)
		}
	}
}

// FullFrameRegion returns a region covering the whole frame. Useful for
// admin tooling that wants an explicit rectangle to start from.
func FullFrameRegion(bounds image.Rectangle) Region {
	return Region{X1: 0, Y1: 0, X2: bounds.Dx(), Y2: bounds.Dy()}
}
