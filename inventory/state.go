package inventory

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/shelfsight/edge-vision/tracking"
)

// trackState is the per-track automaton: a track is Active while its ID keeps
// being reported and Missing(k) after k consecutive absent frames. Reaching
// the debounce threshold destroys the state and confirms the removal.
type trackState struct {
	class   string
	missing int
}

// StateMachine maintains per-item counts and emits add/remove events from
// noisy per-frame tracking output using an asymmetric confirmation policy:
// additions fire immediately, removals only after the track has been absent
// for the configured number of consecutive updates.
//
// The machine is not safe for concurrent use. The pipeline serializes all
// calls on its single frame-processing thread; emitted events additionally
// flow into the attached Batcher, which is the concurrency boundary toward
// the delta consumer.
type StateMachine struct {
	debounce int
	tracks   map[int]*trackState
	counts   map[string]int
	batcher  *Batcher
	now      func() time.Time
	log      zerolog.Logger
}

// NewStateMachine creates a state machine with the given debounce threshold
// (minimum 1). The batcher may be nil when no delta feed is needed, e.g. in
// tests.
func NewStateMachine(debounce int, batcher *Batcher, logger zerolog.Logger) *StateMachine {
	if debounce < 1 {
		debounce = 1
	}
	return &StateMachine{
		debounce: debounce,
		tracks:   make(map[int]*trackState),
		counts:   make(map[string]int),
		batcher:  batcher,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.With().Str("component", "inventory").Logger(),
	}
}

// Update advances the machine with the detections of one frame and returns
// the events this frame produced, in processing order: additions in detection
// order first, then confirmed removals in ascending track ID order. Events
// are also appended to the batcher together with a fresh counts snapshot.
func (m *StateMachine) Update(detections []tracking.Detection) []Event {
	var events []Event
	present := make(map[int]bool, len(detections))

	for _, det := range detections {
		present[det.TrackID] = true

		state, known := m.tracks[det.TrackID]
		if !known {
			// A track never seen before is a new physical item, effective
			// immediately.
			m.tracks[det.TrackID] = &trackState{class: det.ClassName}
			before := m.counts[det.ClassName]
			m.counts[det.ClassName] = before + 1
			ev := Event{
				Type:        EventAdded,
				Item:        det.ClassName,
				Timestamp:   m.now(),
				TrackID:     det.TrackID,
				CountBefore: before,
				CountAfter:  before + 1,
			}
			events = append(events, ev)
			m.log.Info().
				Str("item", det.ClassName).
				Int("track_id", det.TrackID).
				Int("count_before", before).
				Int("count_after", before+1).
				Msg("item added")
			continue
		}

		// Reappearance cancels any pending removal.
		state.missing = 0
	}

	// Tracks absent this frame age toward removal. Iterate in ascending track
	// ID order so event ordering is deterministic within the call.
	absent := make([]int, 0, len(m.tracks))
	for id := range m.tracks {
		if !present[id] {
			absent = append(absent, id)
		}
	}
	sort.Ints(absent)

	for _, id := range absent {
		state := m.tracks[id]
		state.missing++
		if state.missing < m.debounce {
			continue
		}

		before := m.counts[state.class]
		after := max(0, before-1)
		m.counts[state.class] = after
		ev := Event{
			Type:        EventTaken,
			Item:        state.class,
			Timestamp:   m.now(),
			TrackID:     id,
			CountBefore: before,
			CountAfter:  after,
		}
		events = append(events, ev)
		delete(m.tracks, id)
		m.log.Info().
			Str("item", state.class).
			Int("track_id", id).
			Int("count_before", before).
			Int("count_after", after).
			Msg("item taken")
	}

	if m.batcher != nil {
		m.batcher.Append(events, m.counts)
	}
	return events
}

// Counts returns a copy of the current per-item counts. Items whose count
// has dropped to zero remain present with value 0.
func (m *StateMachine) Counts() map[string]int {
	out := make(map[string]int, len(m.counts))
	for item, count := range m.counts {
		out[item] = count
	}
	return out
}

// SetBaseline overlays externally-known counts, e.g. a stocked shelf whose
// items predate the camera. Each item's count becomes baseline plus the
// number of currently active tracks of that class. Negative baselines are
// rejected.
func (m *StateMachine) SetBaseline(baseline map[string]int) error {
	for item, count := range baseline {
		if count < 0 {
			return errors.Errorf("negative baseline %d for item %q", count, item)
		}
	}

	active := make(map[string]int)
	for _, state := range m.tracks {
		active[state.class]++
	}
	for item, count := range baseline {
		m.counts[item] = count + active[item]
	}
	if m.batcher != nil {
		m.batcher.Append(nil, m.counts)
	}
	return nil
}

// SetDebounce updates the debounce threshold for subsequent updates. Values
// below 1 are rejected and the previous threshold stays in effect. Tracks
// already past the new threshold are confirmed on the next Update.
func (m *StateMachine) SetDebounce(frames int) error {
	if frames < 1 {
		return errors.Errorf("debounce threshold %d must be >= 1", frames)
	}
	m.debounce = frames
	m.log.Info().Int("frames", frames).Msg("debounce threshold updated")
	return nil
}

// Debounce returns the current debounce threshold.
func (m *StateMachine) Debounce() int { return m.debounce }

// ActiveTracks returns the number of track states currently held, including
// ones partway through their missing window.
func (m *StateMachine) ActiveTracks() int { return len(m.tracks) }

// Reset clears all track state and counts.
func (m *StateMachine) Reset() {
	m.tracks = make(map[int]*trackState)
	m.counts = make(map[string]int)
}
