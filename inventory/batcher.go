package inventory

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Batcher accumulates emitted events and the latest counts snapshot into
// atomically-drainable deltas.
//
// Append is called from the frame-processing path; Drain from the delta
// consumer's own goroutine. A single mutex makes the two atomic with respect
// to each other and is held only for the copy-and-clear, never across any
// network call: a drain observes either all or none of a frame's events, and
// the pending list is empty afterward. Events are never dropped here; a
// consumer that fails to deliver a drained delta owns its own retry.
type Batcher struct {
	mu        sync.Mutex
	machineID string
	pending   []Event
	counts    map[string]int
}

// NewBatcher creates a batcher stamping deltas with the machine identifier.
func NewBatcher(machineID string) *Batcher {
	return &Batcher{
		machineID: machineID,
		counts:    make(map[string]int),
	}
}

// Append adds a frame's events to the pending list and records the counts
// snapshot taken at the same state-machine step. The snapshot map is copied;
// the caller may keep mutating its own map. Events may be empty, which only
// refreshes the snapshot.
func (b *Batcher) Append(events []Event, counts map[string]int) {
	snapshot := make(map[string]int, len(counts))
	for item, count := range counts {
		snapshot[item] = count
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, events...)
	b.counts = snapshot
}

// Drain atomically copies the current counts snapshot and the full pending
// event list, clears the pending list, and returns the delta. Ownership of
// the returned slices transfers to the caller. When nothing is pending the
// delta still carries the current counts with an empty event list.
func (b *Batcher) Drain() Delta {
	b.mu.Lock()
	events := b.pending
	b.pending = nil
	counts := make(map[string]int, len(b.counts))
	for item, count := range b.counts {
		counts[item] = count
	}
	b.mu.Unlock()

	if events == nil {
		events = []Event{}
	}
	return Delta{
		ID:        uuid.New(),
		MachineID: b.machineID,
		Timestamp: time.Now().UTC(),
		Counts:    counts,
		Events:    events,
	}
}

// Pending returns the number of events awaiting the next drain.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
