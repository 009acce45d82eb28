package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/shelfsight/edge-vision/capture"
)

// captureRetryDelay paces the loop when the source has no frame to give.
const captureRetryDelay = 100 * time.Millisecond

// DisplayFunc receives privacy-safe preview frames. It runs on the frame
// loop goroutine and should hand the image off quickly.
type DisplayFunc func(*image.RGBA)

// Run pulls frames from the source and processes them until the context is
// canceled. Frame skipping (ProcessEveryN) happens here; skipped frames
// still feed the display callback so the preview stays live.
//
// Capture errors are logged and retried; only context cancellation ends the
// loop.
func (p *Pipeline) Run(ctx context.Context, source capture.Source, onDisplay DisplayFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn().Err(err).Msg("frame capture failed")
			select {
			case <-time.After(captureRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		p.skipCounter++
		if p.skipCounter < p.config.ProcessEveryN {
			if onDisplay != nil {
				onDisplay(p.RenderForDisplay(frame))
			}
			continue
		}
		p.skipCounter = 0

		if _, err := p.ProcessFrame(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Error().Err(err).Msg("frame processing failed")
		}

		if onDisplay != nil {
			onDisplay(p.RenderForDisplay(frame))
		}
	}
}
