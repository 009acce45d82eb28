// Package inventory turns tracked detections into discrete, debounced
// inventory change events and batches them for downstream delivery.
package inventory

import (
	"time"

	"github.com/google/uuid"
)

// EventType distinguishes inventory change events.
type EventType string

const (
	// EventAdded fires when a new track appears. Additions are not debounced:
	// a freshly-appearing track is unambiguous evidence of a new item,
	// whereas a disappearing track could be transient occlusion.
	EventAdded EventType = "SNACK_ADDED"
	// EventTaken fires once a track has been missing for the full debounce
	// window.
	EventTaken EventType = "SNACK_TAKEN"
)

// Event is a single inventory change. Immutable once created.
type Event struct {
	Type        EventType `json:"type"`
	Item        string    `json:"item"`
	Timestamp   time.Time `json:"timestamp"`
	TrackID     int       `json:"track_id"`
	CountBefore int       `json:"count_before"`
	CountAfter  int       `json:"count_after"`
}

// Delta is a batched inventory update: the current counts snapshot plus all
// events accumulated since the previous drain. An empty Events list is valid
// and means "no change since last drain".
type Delta struct {
	ID        uuid.UUID      `json:"id"`
	MachineID string         `json:"machine_id"`
	Timestamp time.Time      `json:"timestamp"`
	Counts    map[string]int `json:"counts"`
	Events    []Event        `json:"events"`
}
