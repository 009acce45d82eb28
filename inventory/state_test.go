package inventory

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfsight/edge-vision/tracking"
)

func det(id int, class string) tracking.Detection {
	return tracking.Detection{TrackID: id, ClassName: class, Confidence: 0.9}
}

func newTestMachine(debounce int) *StateMachine {
	return NewStateMachine(debounce, nil, zerolog.Nop())
}

func TestNewTrackAddsImmediately(t *testing.T) {
	m := newTestMachine(30)

	events := m.Update([]tracking.Detection{det(1, "chips")})

	require.Len(t, events, 1)
	assert.Equal(t, EventAdded, events[0].Type)
	assert.Equal(t, "chips", events[0].Item)
	assert.Equal(t, 1, events[0].TrackID)
	assert.Equal(t, 0, events[0].CountBefore)
	assert.Equal(t, 1, events[0].CountAfter)
	assert.Equal(t, map[string]int{"chips": 1}, m.Counts())
}

func TestRepeatedPresenceEmitsNothing(t *testing.T) {
	m := newTestMachine(30)
	m.Update([]tracking.Detection{det(1, "chips")})

	for i := 0; i < 100; i++ {
		events := m.Update([]tracking.Detection{det(1, "chips")})
		assert.Empty(t, events)
	}
	assert.Equal(t, map[string]int{"chips": 1}, m.Counts())
}

func TestRemovalWaitsForDebounceWindow(t *testing.T) {
	m := newTestMachine(30)
	m.Update([]tracking.Detection{det(1, "chips")})

	// 29 absent frames: still within the window, nothing fires.
	for i := 0; i < 29; i++ {
		events := m.Update(nil)
		require.Empty(t, events, "frame %d", i)
	}
	assert.Equal(t, map[string]int{"chips": 1}, m.Counts())

	events := m.Update(nil)
	require.Len(t, events, 1)
	assert.Equal(t, EventTaken, events[0].Type)
	assert.Equal(t, "chips", events[0].Item)
	assert.Equal(t, 1, events[0].CountBefore)
	assert.Equal(t, 0, events[0].CountAfter)
	assert.Equal(t, map[string]int{"chips": 0}, m.Counts())
	assert.Zero(t, m.ActiveTracks())
}

func TestReappearanceCancelsPendingRemoval(t *testing.T) {
	m := newTestMachine(30)
	m.Update([]tracking.Detection{det(1, "chips")})

	for i := 0; i < 29; i++ {
		m.Update(nil)
	}
	// Track comes back one frame before confirmation.
	events := m.Update([]tracking.Detection{det(1, "chips")})
	assert.Empty(t, events)

	// The missing counter restarted, so another full window is needed.
	for i := 0; i < 29; i++ {
		events = m.Update(nil)
		require.Empty(t, events)
	}
	events = m.Update(nil)
	require.Len(t, events, 1)
	assert.Equal(t, EventTaken, events[0].Type)
}

func TestMultipleItemsTrackedIndependently(t *testing.T) {
	m := newTestMachine(2)

	events := m.Update([]tracking.Detection{det(1, "chips"), det(2, "soda"), det(3, "chips")})
	require.Len(t, events, 3)
	assert.Equal(t, map[string]int{"chips": 2, "soda": 1}, m.Counts())

	// Track 2 disappears; the chips tracks stay.
	m.Update([]tracking.Detection{det(1, "chips"), det(3, "chips")})
	events = m.Update([]tracking.Detection{det(1, "chips"), det(3, "chips")})
	require.Len(t, events, 1)
	assert.Equal(t, EventTaken, events[0].Type)
	assert.Equal(t, "soda", events[0].Item)
	assert.Equal(t, map[string]int{"chips": 2, "soda": 0}, m.Counts())
}

func TestRemovalOrderIsAscendingTrackID(t *testing.T) {
	m := newTestMachine(1)
	m.Update([]tracking.Detection{det(5, "chips"), det(2, "soda"), det(9, "cake")})

	events := m.Update(nil)
	require.Len(t, events, 3)
	assert.Equal(t, 2, events[0].TrackID)
	assert.Equal(t, 5, events[1].TrackID)
	assert.Equal(t, 9, events[2].TrackID)
}

func TestCountsNeverGoNegative(t *testing.T) {
	m := newTestMachine(1)
	m.Update([]tracking.Detection{det(1, "chips")})

	// Simulate a count that drifted to zero while the track is still live.
	m.counts["chips"] = 0
	events := m.Update(nil)

	require.Len(t, events, 1)
	assert.Equal(t, EventTaken, events[0].Type)
	assert.Equal(t, 0, events[0].CountBefore)
	assert.Equal(t, 0, events[0].CountAfter)
	assert.Equal(t, 0, m.Counts()["chips"])
}

func TestSetBaselineAddsActiveTracks(t *testing.T) {
	m := newTestMachine(30)
	m.Update([]tracking.Detection{det(1, "chips")})

	require.NoError(t, m.SetBaseline(map[string]int{"chips": 4, "soda": 6}))
	assert.Equal(t, map[string]int{"chips": 5, "soda": 6}, m.Counts())

	err := m.SetBaseline(map[string]int{"chips": -1})
	assert.Error(t, err)
	assert.Equal(t, 5, m.Counts()["chips"])
}

func TestStockedShelfScenario(t *testing.T) {
	// A shelf stocked with five bags; one track covers the visible front bag.
	m := newTestMachine(30)
	m.Update([]tracking.Detection{det(1, "chips")})
	require.NoError(t, m.SetBaseline(map[string]int{"chips": 4}))
	require.Equal(t, 5, m.Counts()["chips"])

	// The bag is taken at frame 30 and stays gone.
	var taken []Event
	for i := 0; i < 60; i++ {
		taken = append(taken, m.Update(nil)...)
	}
	require.Len(t, taken, 1)
	assert.Equal(t, EventTaken, taken[0].Type)
	assert.Equal(t, 5, taken[0].CountBefore)
	assert.Equal(t, 4, taken[0].CountAfter)
	assert.Equal(t, 4, m.Counts()["chips"])
}

func TestSetDebounce(t *testing.T) {
	m := newTestMachine(30)
	assert.Equal(t, 30, m.Debounce())

	assert.Error(t, m.SetDebounce(0))
	assert.Equal(t, 30, m.Debounce())

	require.NoError(t, m.SetDebounce(2))
	m.Update([]tracking.Detection{det(1, "chips")})
	m.Update(nil)
	events := m.Update(nil)
	require.Len(t, events, 1)
	assert.Equal(t, EventTaken, events[0].Type)
}

func TestEventsFlowIntoBatcher(t *testing.T) {
	batcher := NewBatcher("machine-001")
	m := NewStateMachine(1, batcher, zerolog.Nop())

	m.Update([]tracking.Detection{det(1, "chips")})
	m.Update(nil)

	delta := batcher.Drain()
	require.Len(t, delta.Events, 2)
	assert.Equal(t, EventAdded, delta.Events[0].Type)
	assert.Equal(t, EventTaken, delta.Events[1].Type)
	assert.Equal(t, map[string]int{"chips": 0}, delta.Counts)
}

func TestEventTimestampsAreUTC(t *testing.T) {
	m := newTestMachine(1)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	events := m.Update([]tracking.Detection{det(1, "chips")})
	require.Len(t, events, 1)
	assert.Equal(t, fixed, events[0].Timestamp)
}

func TestReset(t *testing.T) {
	m := newTestMachine(30)
	m.Update([]tracking.Detection{det(1, "chips")})
	m.Reset()

	assert.Zero(t, m.ActiveTracks())
	assert.Empty(t, m.Counts())

	// The same track ID counts as a brand-new item after a reset.
	events := m.Update([]tracking.Detection{det(1, "chips")})
	require.Len(t, events, 1)
	assert.Equal(t, EventAdded, events[0].Type)
}
