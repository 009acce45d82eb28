package pipeline

import (
	"context"
	"image"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfsight/edge-vision/images"
	"github.com/shelfsight/edge-vision/inventory"
	"github.com/shelfsight/edge-vision/privacy"
	"github.com/shelfsight/edge-vision/tracking"
)

// fakeTracker replays a scripted detection slice per frame, or fails.
type fakeTracker struct {
	frames [][]tracking.Detection
	err    error
	calls  int
	resets int
}

func (f *fakeTracker) Track(context.Context, image.Image) ([]tracking.Detection, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []tracking.Detection
	if f.calls < len(f.frames) {
		out = f.frames[f.calls]
	}
	f.calls++
	return out, nil
}

func (f *fakeTracker) Reset() { f.resets++ }

func chipsAt(id, x1, y1 int) tracking.Detection {
	return tracking.Detection{
		TrackID:    id,
		ClassName:  "chips",
		Confidence: 0.9,
		Box:        images.Rect{X1: x1, Y1: y1, X2: x1 + 50, Y2: y1 + 50},
	}
}

// newTestPipeline wires a pipeline with no motion gate so every frame runs
// the tracker.
func newTestPipeline(tracker tracking.Tracker) (*Pipeline, *inventory.Batcher) {
	logger := zerolog.Nop()
	batcher := inventory.NewBatcher("machine-001")
	state := inventory.NewStateMachine(3, batcher, logger)
	projector := privacy.NewProjector(8, logger)
	return New(Config{FrameWidth: 640, FrameHeight: 480}, projector, nil, tracker, state, batcher, logger), batcher
}

var testFrame = image.NewRGBA(image.Rect(0, 0, 640, 480))

func TestFrameProducesAddEvent(t *testing.T) {
	tracker := &fakeTracker{frames: [][]tracking.Detection{{chipsAt(1, 100, 100)}}}
	pipe, _ := newTestPipeline(tracker)

	result, err := pipe.ProcessFrame(context.Background(), testFrame)
	require.NoError(t, err)
	assert.True(t, result.RanInference)
	require.Len(t, result.Events, 1)
	assert.Equal(t, inventory.EventAdded, result.Events[0].Type)
	assert.Equal(t, "chips", result.Events[0].Item)
}

func TestDebouncedRemovalEndToEnd(t *testing.T) {
	frames := [][]tracking.Detection{{chipsAt(1, 100, 100)}}
	// Three empty frames: removal fires on the third.
	frames = append(frames, nil, nil, nil)
	tracker := &fakeTracker{frames: frames}
	pipe, batcher := newTestPipeline(tracker)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := pipe.ProcessFrame(ctx, testFrame)
		require.NoError(t, err)
	}

	delta := batcher.Drain()
	require.Len(t, delta.Events, 2)
	assert.Equal(t, inventory.EventAdded, delta.Events[0].Type)
	assert.Equal(t, inventory.EventTaken, delta.Events[1].Type)
	assert.Equal(t, map[string]int{"chips": 0}, delta.Counts)
}

func TestTrackerFailureReusesPreviousDetections(t *testing.T) {
	tracker := &fakeTracker{frames: [][]tracking.Detection{{chipsAt(1, 100, 100)}}}
	pipe, _ := newTestPipeline(tracker)
	ctx := context.Background()

	first, err := pipe.ProcessFrame(ctx, testFrame)
	require.NoError(t, err)
	require.Len(t, first.Detections, 1)

	// The backend fails for many frames; the detection set is carried over
	// so the debounce window never starts and no removal fires.
	tracker.err = errors.New("backend down")
	for i := 0; i < 10; i++ {
		result, err := pipe.ProcessFrame(ctx, testFrame)
		require.NoError(t, err)
		assert.Equal(t, first.Detections, result.Detections)
		assert.Empty(t, result.Events)
	}
	assert.Equal(t, 1, pipe.Status().Counts["chips"])
}

func TestContextCancellationPropagates(t *testing.T) {
	tracker := &fakeTracker{err: context.Canceled}
	pipe, _ := newTestPipeline(tracker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pipe.ProcessFrame(ctx, testFrame)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegionProjectionAppliedToDetections(t *testing.T) {
	tracker := &fakeTracker{frames: [][]tracking.Detection{
		{chipsAt(1, 10, 20)}, // region-local coordinates
	}}
	pipe, _ := newTestPipeline(tracker)
	ctx := context.Background()

	// Establish frame bounds, then configure a region.
	_, err := pipe.ProcessFrame(ctx, testFrame)
	require.NoError(t, err)
	require.NoError(t, pipe.SetRegion(&privacy.Region{X1: 100, Y1: 50, X2: 400, Y2: 350}))

	tracker.frames = append(tracker.frames, []tracking.Detection{chipsAt(1, 10, 20)})
	result, err := pipe.ProcessFrame(ctx, testFrame)
	require.NoError(t, err)
	require.Len(t, result.Detections, 1)
	assert.Equal(t, images.Rect{X1: 110, Y1: 70, X2: 160, Y2: 120}, result.Detections[0].Box)
}

func TestSettersValidate(t *testing.T) {
	pipe, _ := newTestPipeline(&fakeTracker{})

	assert.Error(t, pipe.SetDebounceThreshold(0))
	assert.NoError(t, pipe.SetDebounceThreshold(5))

	assert.Error(t, pipe.SetRegion(&privacy.Region{X1: 50, Y1: 0, X2: 10, Y2: 10}))
	assert.NoError(t, pipe.SetRegion(&privacy.Region{X1: 0, Y1: 0, X2: 320, Y2: 240}))

	// Gate is nil, threshold updates are a no-op rather than an error.
	assert.NoError(t, pipe.SetMotionThreshold(0.5))

	assert.Error(t, pipe.SetBaseline(map[string]int{"chips": -1}))
	assert.NoError(t, pipe.SetBaseline(map[string]int{"chips": 5}))
}

func TestStatusSnapshot(t *testing.T) {
	tracker := &fakeTracker{frames: [][]tracking.Detection{{chipsAt(1, 100, 100)}}}
	pipe, _ := newTestPipeline(tracker)
	ctx := context.Background()

	_, err := pipe.ProcessFrame(ctx, testFrame)
	require.NoError(t, err)

	status := pipe.Status()
	assert.Equal(t, int64(1), status.FrameCount)
	assert.Equal(t, map[string]int{"chips": 1}, status.Counts)
	assert.Equal(t, 1, status.PendingEvents)
	assert.False(t, status.LastDetectionAt.IsZero())
	assert.Greater(t, status.FPS, 0.0)
}

func TestDrainDelegatesToBatcher(t *testing.T) {
	tracker := &fakeTracker{frames: [][]tracking.Detection{{chipsAt(1, 100, 100)}}}
	pipe, _ := newTestPipeline(tracker)

	_, err := pipe.ProcessFrame(context.Background(), testFrame)
	require.NoError(t, err)

	delta := pipe.Drain()
	assert.Equal(t, "machine-001", delta.MachineID)
	require.Len(t, delta.Events, 1)
	assert.Empty(t, pipe.Drain().Events)
}

func TestRenderForDisplayDrawsDetections(t *testing.T) {
	tracker := &fakeTracker{frames: [][]tracking.Detection{{chipsAt(1, 100, 100)}}}
	pipe, _ := newTestPipeline(tracker)

	_, err := pipe.ProcessFrame(context.Background(), testFrame)
	require.NoError(t, err)

	out := pipe.RenderForDisplay(testFrame)
	require.Equal(t, testFrame.Bounds(), out.Bounds())
	// The detection outline is drawn at the box edge.
	edge := out.RGBAAt(100, 120)
	assert.Equal(t, uint8(255), edge.G)
}
