// Package images - Image geometry utilities shared by the detection pipeline.
package images

import "image"

// Rect is a lightweight bounding box.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// Width returns the horizontal extent of the box.
func (r Rect) Width() int { return r.X2 - r.X1 }

// Height returns the vertical extent of the box.
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Area returns the box area in pixels. Degenerate boxes have area 0.
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return r.Width() * r.Height()
}

// Empty reports whether the box contains no pixels.
func (r Rect) Empty() bool { return r.X1 >= r.X2 || r.Y1 >= r.Y2 }

// Translate returns the box shifted by (dx, dy). Used to project detections
// computed on a cropped region back into full-frame coordinates.
func (r Rect) Translate(dx, dy int) Rect {
	return Rect{X1: r.X1 + dx, Y1: r.Y1 + dy, X2: r.X2 + dx, Y2: r.Y2 + dy}
}

// Intersect returns the overlap of two boxes, or an empty Rect when they do
// not overlap.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		X1: max(r.X1, o.X1),
		Y1: max(r.Y1, o.Y1),
		X2: min(r.X2, o.X2),
		Y2: min(r.Y2, o.Y2),
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

// Center returns the midpoint of the box.
func (r Rect) Center() (x, y int) {
	return (r.X1 + r.X2) / 2, (r.Y1 + r.Y2) / 2
}

// ToImageRect converts the box to an image.Rectangle.
func (r Rect) ToImageRect() image.Rectangle {
	return image.Rect(r.X1, r.Y1, r.X2, r.Y2)
}

// FromImageRect converts an image.Rectangle to a Rect.
func FromImageRect(r image.Rectangle) Rect {
	return Rect{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// CalculateIoU computes the Intersection over Union of two boxes.
//
// IoU = Area of Intersection / Area of Union, a value in [0, 1]:
// 1.0 means the boxes are identical, 0.0 means they do not overlap at all.
// The union uses the inclusion-exclusion principle so the overlap region is
// not double-counted:
//
//	Union(A, B) = Area(A) + Area(B) - Intersection(A, B)
//
// The tracker uses this to decide whether a detection in the current frame is
// the same physical object as an already-tracked one.
func CalculateIoU(r, o Rect) float32 {
	// The intersection starts no earlier than either box and ends as soon as
	// the first box ends.
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	areaR := r.Area()
	areaO := o.Area()
	unionArea := areaR + areaO - interArea
	if unionArea <= 0 {
		return 0.0
	}

	return float32(interArea) / float32(unionArea)
}
