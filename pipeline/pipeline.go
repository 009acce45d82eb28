// Package pipeline orchestrates one frame at a time through the inventory
// event pipeline: crop to the privacy region, gate on motion, run the
// tracking capability, project coordinates back to full-frame space, advance
// the inventory state machine, and batch the resulting events.
package pipeline

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shelfsight/edge-vision/inventory"
	"github.com/shelfsight/edge-vision/motion"
	"github.com/shelfsight/edge-vision/privacy"
	"github.com/shelfsight/edge-vision/tracking"
)

// fpsWindow is the number of recent frame durations averaged for the FPS
// figure in Status.
const fpsWindow = 30

// Config holds orchestration settings.
type Config struct {
	// ProcessEveryN skips frames on lower-powered platforms: only every Nth
	// frame goes through the full pipeline. 1 processes every frame.
	ProcessEveryN int
	// FrameWidth/FrameHeight are the expected capture dimensions, used to
	// validate region updates arriving before the first frame.
	FrameWidth  int
	FrameHeight int
}

// DefaultConfig returns the default orchestration settings.
func DefaultConfig() Config {
	return Config{ProcessEveryN: 1, FrameWidth: 1280, FrameHeight: 720}
}

// FrameResult reports what one ProcessFrame call did.
type FrameResult struct {
	// RanInference is false when the motion gate skipped the tracking call.
	RanInference bool
	// Detections are the most recent known detections in full-frame
	// coordinates (carried over when inference was skipped or failed).
	Detections []tracking.Detection
	// Events are the inventory events this frame produced.
	Events []inventory.Event
	// MotionScore is the gate's last normalized motion score.
	MotionScore float64
}

// Status is a read-only snapshot of pipeline state for admin surfaces.
type Status struct {
	FrameCount      int64          `json:"frame_count"`
	FPS             float64        `json:"fps"`
	MotionActive    bool           `json:"motion_active"`
	LastDetectionAt time.Time      `json:"last_detection_at"`
	Counts          map[string]int `json:"counts"`
	PendingEvents   int            `json:"pending_events"`
}

// Pipeline owns the per-frame processing state. Frames are processed
// strictly one at a time; the pipeline mutex also serializes the runtime
// configuration setters, so threshold and region updates apply atomically
// between frames. The only other concurrency boundary is the batcher, which
// the delta consumer drains on its own schedule.
type Pipeline struct {
	config    Config
	projector *privacy.Projector
	gate      *motion.Gate
	tracker   tracking.Tracker
	state     *inventory.StateMachine
	batcher   *inventory.Batcher
	log       zerolog.Logger

	mu              sync.Mutex
	bounds          image.Rectangle
	lastDetections  []tracking.Detection
	lastDetectionAt time.Time
	frameCount      int64
	skipCounter     int
	frameTimes      []time.Duration
}

// New assembles a pipeline. The gate may be nil to disable motion gating
// (every frame runs inference); the batcher must be the one the state
// machine appends to.
func New(
	config Config,
	projector *privacy.Projector,
	gate *motion.Gate,
	tracker tracking.Tracker,
	state *inventory.StateMachine,
	batcher *inventory.Batcher,
	logger zerolog.Logger,
) *Pipeline {
	if config.ProcessEveryN < 1 {
		config.ProcessEveryN = 1
	}
	if config.FrameWidth <= 0 || config.FrameHeight <= 0 {
		config.FrameWidth, config.FrameHeight = 1280, 720
	}
	return &Pipeline{
		config:    config,
		projector: projector,
		gate:      gate,
		tracker:   tracker,
		state:     state,
		batcher:   batcher,
		bounds:    image.Rect(0, 0, config.FrameWidth, config.FrameHeight),
		log:       logger.With().Str("component", "pipeline").Logger(),
	}
}

// ProcessFrame pushes one frame through the pipeline end to end. It never
// returns an error for a tracking-capability failure: the pipeline fails
// open by reusing the previous frame's detection set unchanged, so a
// transient inference fault cannot zero out inventory counts.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame image.Image) (FrameResult, error) {
	start := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameCount++
	p.bounds = frame.Bounds()

	cropped := p.projector.Crop(frame)

	runInference := true
	var score float64
	if p.gate != nil {
		run, err := p.gate.ShouldRunInference(cropped)
		if err != nil {
			// A broken gate must not stall the pipeline; treat the frame as
			// motion and keep going.
			p.log.Warn().Err(err).Msg("motion gate failed, running inference")
			run = true
		}
		runInference = run
		score = p.gate.Score()
	}

	if !runInference {
		p.recordFrameTime(start)
		return FrameResult{
			Detections:  p.lastDetections,
			MotionScore: score,
		}, nil
	}

	detections, err := p.tracker.Track(ctx, cropped)
	if err != nil {
		if ctx.Err() != nil {
			return FrameResult{}, ctx.Err()
		}
		// Fail open: reuse the previous detection set unchanged so the state
		// machine sees continuity rather than a mass disappearance.
		p.log.Error().Err(err).Msg("tracking failed, reusing previous detections")
		detections = p.lastDetections
	} else {
		detections = p.projector.ProjectDetections(detections)
		p.lastDetectionAt = time.Now().UTC()
	}

	events := p.state.Update(detections)
	p.lastDetections = detections
	p.recordFrameTime(start)

	return FrameResult{
		RanInference: true,
		Detections:   detections,
		Events:       events,
		MotionScore:  score,
	}, nil
}

// Drain atomically hands the pending delta to the caller. Safe to call
// concurrently with ProcessFrame; the batcher is the synchronization point.
func (p *Pipeline) Drain() inventory.Delta {
	return p.batcher.Drain()
}

// SetRegion validates and applies a region update between frames. A
// malformed region is rejected with an error and the previous region stays
// in effect.
func (p *Pipeline) SetRegion(region *privacy.Region) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.projector.SetRegion(region, p.bounds)
}

// SetMotionThreshold updates the motion gate threshold between frames.
func (p *Pipeline) SetMotionThreshold(threshold float64) error {
	if p.gate == nil {
		return nil
	}
	return p.gate.SetThreshold(threshold)
}

// SetDebounceThreshold updates the removal debounce between frames.
func (p *Pipeline) SetDebounceThreshold(frames int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.SetDebounce(frames)
}

// SetBaseline overlays externally-known inventory counts between frames.
func (p *Pipeline) SetBaseline(counts map[string]int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.SetBaseline(counts)
}

// Status returns a consistent snapshot for admin surfaces. It briefly takes
// the pipeline lock, so callers should not poll it at frame rate.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	motionActive := false
	if p.gate != nil {
		motionActive = p.gate.Active()
	}
	return Status{
		FrameCount:      p.frameCount,
		FPS:             p.fpsLocked(),
		MotionActive:    motionActive,
		LastDetectionAt: p.lastDetectionAt,
		Counts:          p.state.Counts(),
		PendingEvents:   p.batcher.Pending(),
	}
}

// RenderForDisplay produces the privacy-safe preview composite with the most
// recent detections drawn on top. Read-only: pipeline state is only
// snapshotted, and rendering happens outside the frame lock.
func (p *Pipeline) RenderForDisplay(frame image.Image) *image.RGBA {
	p.mu.Lock()
	detections := make([]tracking.Detection, len(p.lastDetections))
	copy(detections, p.lastDetections)
	p.mu.Unlock()

	out := p.projector.RenderForDisplay(frame)
	drawDetections(out, detections)
	return out
}

// Close releases component resources owned by the pipeline.
func (p *Pipeline) Close() {
	if p.gate != nil {
		p.gate.Close()
	}
}

func (p *Pipeline) recordFrameTime(start time.Time) {
	p.frameTimes = append(p.frameTimes, time.Since(start))
	if len(p.frameTimes) > fpsWindow {
		p.frameTimes = p.frameTimes[len(p.frameTimes)-fpsWindow:]
	}
}

func (p *Pipeline) fpsLocked() float64 {
	if len(p.frameTimes) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range p.frameTimes {
		total += d
	}
	avg := total / time.Duration(len(p.frameTimes))
	if avg <= 0 {
		return 0
	}
	return float64(time.Second) / float64(avg)
}
