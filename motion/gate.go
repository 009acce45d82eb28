// Package motion decides, per frame, whether the expensive detection and
// tracking capability is worth running. It compares consecutive grayscale,
// blurred frames and reports motion when the mean absolute pixel difference
// exceeds a configurable threshold.
package motion

import (
	"image"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/shelfsight/edge-vision/images"
)

// Config contains the motion gate parameters.
type Config struct {
	// Threshold is the minimum normalized motion score in [0,1] that triggers
	// inference. 0.02 means 2% mean pixel change; the default favors catching
	// small hand-shelf interactions.
	Threshold float64
	// BlurKernelSize is the Gaussian blur kernel used for noise reduction.
	// Must be odd.
	BlurKernelSize int
	// CooldownFrames keeps the gate open for this many frames after motion
	// stops, so tracking is not cut off mid-interaction. 0 disables cooldown.
	CooldownFrames int
}

// DefaultConfig returns the production gate configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:      0.02,
		BlurKernelSize: 21,
		CooldownFrames: 30,
	}
}

// Gate is the motion-gating state machine.
//
// It holds the previous grayscale, blurred frame. The first call after
// construction or Reset always reports motion because there is no baseline to
// compare against; every call stores the incoming frame as the new baseline
// regardless of the decision.
type Gate struct {
	mu          sync.Mutex
	config      Config
	prev        gocv.Mat
	hasBaseline bool
	cooldown    int
	lastScore   float64
	log         zerolog.Logger
}

// NewGate creates a motion gate. Call Close to release the native baseline
// buffer.
func NewGate(config Config, logger zerolog.Logger) *Gate {
	if config.BlurKernelSize < 1 {
		config.BlurKernelSize = 21
	}
	if config.BlurKernelSize%2 == 0 {
		config.BlurKernelSize++
	}
	return &Gate{
		config: config,
		prev:   gocv.NewMat(),
		log:    logger.With().Str("component", "motion-gate").Logger(),
	}
}

// ShouldRunInference reports whether the frame shows enough change from the
// stored baseline to justify running inference. No I/O is performed.
func (g *Gate) ShouldRunInference(frame image.Image) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	mat, err := images.ImageToMat(frame)
	if err != nil {
		return false, errors.Wrap(err, "failed to convert frame")
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	k := g.config.BlurKernelSize
	gocv.GaussianBlur(gray, &blurred, image.Pt(k, k), 0, 0, gocv.BorderDefault)

	// No baseline yet: cannot compare, always run.
	if !g.hasBaseline {
		blurred.CopyTo(&g.prev)
		g.hasBaseline = true
		g.lastScore = 0
		return true, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(g.prev, blurred, &diff)
	g.lastScore = diff.Mean().Val1 / 255.0

	blurred.CopyTo(&g.prev)

	if g.lastScore > g.config.Threshold {
		g.cooldown = g.config.CooldownFrames
		return true, nil
	}
	if g.cooldown > 0 {
		g.cooldown--
		return true, nil
	}
	return false, nil
}

// Score returns the last computed motion score in [0,1].
func (g *Gate) Score() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastScore
}

// Active reports whether the gate currently considers the scene in motion,
// including the cooldown window.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown > 0 || g.lastScore > g.config.Threshold
}

// SetThreshold updates the motion threshold. Values outside [0,1] are
// rejected and the previous threshold stays in effect.
func (g *Gate) SetThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return errors.Errorf("motion threshold %v outside [0,1]", threshold)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config.Threshold = threshold
	g.log.Info().Float64("threshold", threshold).Msg("motion threshold updated")
	return nil
}

// Threshold returns the current motion threshold.
func (g *Gate) Threshold() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.config.Threshold
}

// Reset clears the stored baseline and cooldown, forcing the next call to
// report motion.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hasBaseline = false
	g.cooldown = 0
	g.lastScore = 0
}

// Close releases the native baseline buffer. The gate must not be used after
// Close.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prev.Close()
	g.hasBaseline = false
}
