// Package sync implements the synchronization engine: the phased sync
// pipeline, message persistence, batch fetching, reconciliation and duplicate
// conversation merging.
package sync

import "sync"

// Tracker is the single accumulator of conversations touched during a sync
// pass. Every writer (message persistence, label replay, reconciliation)
// reports through the same instance, so the rollup phase sees one complete
// set instead of several private partial ones.
type Tracker struct {
	mu      sync.Mutex
	touched map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{touched: make(map[string]struct{})}
}

// Track records one touched conversation id.
func (t *Tracker) Track(conversationID string) {
	if conversationID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touched[conversationID] = struct{}{}
}

// TrackAll records a batch of touched conversation ids.
func (t *Tracker) TrackAll(conversationIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range conversationIDs {
		if id != "" {
			t.touched[id] = struct{}{}
		}
	}
}

// Drain atomically returns and clears the accumulated set.
func (t *Tracker) Drain() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.touched))
	for id := range t.touched {
		ids = append(ids, id)
	}
	t.touched = make(map[string]struct{})
	return ids
}

// Len returns the number of currently tracked conversations.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.touched)
}
