package sync

import (
	"fmt"
	"sort"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerTrackAndDrain(t *testing.T) {
	tracker := NewTracker()

	tracker.Track("a")
	tracker.Track("b")
	tracker.Track("a") // duplicate
	tracker.Track("")  // ignored
	tracker.TrackAll([]string{"c", "", "b"})

	ids := tracker.Drain()
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	// Drain clears the set.
	assert.Empty(t, tracker.Drain())
	assert.Equal(t, 0, tracker.Len())
}

func TestTrackerConcurrentWriters(t *testing.T) {
	tracker := NewTracker()

	const writers = 16
	const perWriter = 100

	var wg gosync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				tracker.Track(fmt.Sprintf("conv-%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()

	ids := tracker.Drain()
	assert.Len(t, ids, writers*perWriter, "no modification may be lost under concurrent reporting")
}
