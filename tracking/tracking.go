// Package tracking defines the detection-and-tracking capability consumed by
// the inventory pipeline, and ships an IoU-based tracker that layers
// persistent identities on top of any frame detector.
package tracking

import (
	"context"
	"image"

	"github.com/shelfsight/edge-vision/images"
)

// Prediction is a single, identity-free detection from a frame detector.
type Prediction struct {
	ClassName  string
	Confidence float32
	Box        images.Rect
}

// Detection is a prediction carrying a persistent track identity.
//
// TrackID is an opaque token assigned by the tracker. It is unique among
// detections of a single frame and stable for one continuously-tracked
// physical object; after a prolonged occlusion the tracker assigns a fresh
// one.
type Detection struct {
	TrackID    int
	ClassName  string
	Confidence float32
	Box        images.Rect
}

// Detector runs object detection on one frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Prediction, error)
}

// Tracker detects objects and maintains identities across frames.
//
// Track is not safe for concurrent use; the pipeline processes frames one at
// a time.
type Tracker interface {
	Track(ctx context.Context, frame image.Image) ([]Detection, error)
	// Reset forgets all tracked identities.
	Reset()
}
