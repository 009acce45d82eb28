package push

import (
	"context"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"github.com/shelfsight/edge-vision/inventory"
)

// Drainer is the pipeline surface the pusher needs: an atomic hand-off of
// the pending delta.
type Drainer interface {
	Drain() inventory.Delta
}

// Pusher periodically drains the pipeline and delivers deltas to a sink.
//
// Because a drain clears the batcher, the pusher owns redelivery of what it
// drained: events from a failed push are carried over and merged into the
// next delta, so nothing is lost between a drain and a successful push.
// Counts always come from the freshest drain. Deltas with no events and
// unchanged counts are elided entirely.
type Pusher struct {
	drainer   Drainer
	sink      Sink
	interval  time.Duration
	carryover []inventory.Event
	lastSent  map[string]int
	log       zerolog.Logger
}

// NewPusher creates a pusher draining at the given interval (minimum 1s per
// the downstream batching contract; shorter values are raised to 1s).
func NewPusher(drainer Drainer, sink Sink, interval time.Duration, logger zerolog.Logger) *Pusher {
	if interval < time.Second {
		interval = time.Second
	}
	return &Pusher{
		drainer:  drainer,
		sink:     sink,
		interval: interval,
		log:      logger.With().Str("component", "pusher").Logger(),
	}
}

// Run drains and pushes until the context is canceled.
func (p *Pusher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle performs one drain-and-push. Exposed to tests via push_test.
func (p *Pusher) cycle(ctx context.Context) {
	delta := p.drainer.Drain()

	if len(p.carryover) > 0 {
		delta.Events = append(p.carryover, delta.Events...)
		p.carryover = nil
	}

	// Nothing happened and nothing is owed downstream: skip the network call.
	if len(delta.Events) == 0 && p.lastSent != nil && maps.Equal(delta.Counts, p.lastSent) {
		return
	}

	if err := p.sink.Push(ctx, delta); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Error().Err(err).Int("events", len(delta.Events)).Msg("push failed, carrying events over")
		p.carryover = delta.Events
		return
	}
	p.lastSent = delta.Counts
}
