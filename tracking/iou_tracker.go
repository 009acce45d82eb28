package tracking

import (
	"context"
	"image"
	"sort"

	"github.com/chewxy/math32"
	"github.com/rs/zerolog"

	"github.com/shelfsight/edge-vision/images"
)

// IOUConfig configures the IoU tracker.
type IOUConfig struct {
	// IoUThreshold is the minimum overlap for a detection to be matched to an
	// existing track.
	IoUThreshold float32
	// CenterDistance is the fallback matching radius in pixels when boxes do
	// not overlap enough but the object barely moved (small items on a shelf
	// can shrink/grow between frames as lighting changes).
	CenterDistance float32
	// MaxMissed is the number of consecutive frames a track may go unmatched
	// before its identity is discarded. Keep this at or above the inventory
	// debounce threshold so an identity never expires before the removal is
	// confirmed.
	MaxMissed int
}

// DefaultIOUConfig returns the tracker configuration used in production.
func DefaultIOUConfig() IOUConfig {
	return IOUConfig{
		IoUThreshold:   0.3,
		CenterDistance: 40,
		MaxMissed:      30,
	}
}

type track struct {
	id     int
	class  string
	box    images.Rect
	missed int
}

// IOUTracker assigns persistent track IDs to raw detections by greedy
// IoU matching against the live track set, with a center-distance fallback.
// IDs are positive and monotonically increasing; an ID is never reused.
type IOUTracker struct {
	detector Detector
	config   IOUConfig
	tracks   []*track
	nextID   int
	log      zerolog.Logger
}

// NewIOUTracker wraps a frame detector with identity tracking.
func NewIOUTracker(detector Detector, config IOUConfig, logger zerolog.Logger) *IOUTracker {
	if config.MaxMissed < 1 {
		config.MaxMissed = 1
	}
	return &IOUTracker{
		detector: detector,
		config:   config,
		nextID:   1,
		log:      logger.With().Str("component", "iou-tracker").Logger(),
	}
}

// Track runs the detector and resolves each prediction to a track identity.
// The returned detections preserve the detector's output order. An error from
// the detector is returned unchanged with tracker state untouched, so a
// transient inference fault does not age out live tracks.
func (t *IOUTracker) Track(ctx context.Context, frame image.Image) ([]Detection, error) {
	predictions, err := t.detector.Detect(ctx, frame)
	if err != nil {
		return nil, err
	}

	// Match high-confidence predictions first so an ambiguous overlap goes to
	// the stronger detection.
	order := make([]int, len(predictions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return predictions[order[a]].Confidence > predictions[order[b]].Confidence
	})

	matched := make(map[*track]bool, len(t.tracks))
	assigned := make([]int, len(predictions))

	for _, idx := range order {
		p := predictions[idx]
		best := t.bestMatch(p, matched)
		if best == nil {
			best = &track{id: t.nextID, class: p.ClassName}
			t.nextID++
			t.tracks = append(t.tracks, best)
			t.log.Debug().Int("track_id", best.id).Str("class", p.ClassName).Msg("new track")
		}
		best.box = p.Box
		best.missed = 0
		matched[best] = true
		assigned[idx] = best.id
	}

	// Age out tracks that went unmatched too long.
	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if matched[tr] {
			kept = append(kept, tr)
			continue
		}
		tr.missed++
		if tr.missed > t.config.MaxMissed {
			t.log.Debug().Int("track_id", tr.id).Str("class", tr.class).Msg("track expired")
			continue
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	detections := make([]Detection, len(predictions))
	for i, p := range predictions {
		detections[i] = Detection{
			TrackID:    assigned[i],
			ClassName:  p.ClassName,
			Confidence: p.Confidence,
			Box:        p.Box,
		}
	}
	return detections, nil
}

// bestMatch finds the unmatched same-class track with the highest IoU above
// the threshold, falling back to center distance for near-stationary objects.
func (t *IOUTracker) bestMatch(p Prediction, matched map[*track]bool) *track {
	var best *track
	var bestIoU float32

	for _, tr := range t.tracks {
		if matched[tr] || tr.class != p.ClassName {
			continue
		}
		if iou := images.CalculateIoU(tr.box, p.Box); iou >= t.config.IoUThreshold && iou > bestIoU {
			best = tr
			bestIoU = iou
		}
	}
	if best != nil {
		return best
	}

	// Fallback: nearest center within the distance budget.
	px, py := p.Box.Center()
	bestDist := t.config.CenterDistance
	for _, tr := range t.tracks {
		if matched[tr] || tr.class != p.ClassName {
			continue
		}
		tx, ty := tr.box.Center()
		dx := float32(px - tx)
		dy := float32(py - ty)
		if d := math32.Sqrt(dx*dx + dy*dy); d <= bestDist {
			best = tr
			bestDist = d
		}
	}
	return best
}

// Reset discards all track identities. The next frame starts fresh IDs;
// already-issued IDs are not reused.
func (t *IOUTracker) Reset() {
	t.tracks = nil
}

// ActiveTracks returns the number of live identities, including ones in their
// missed-frame grace period.
func (t *IOUTracker) ActiveTracks() int {
	return len(t.tracks)
}
