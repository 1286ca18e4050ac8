package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/inboxd/inboxd/internal/remote"
	"github.com/inboxd/inboxd/internal/testutil"
)

func TestFetchAllFetchesEverything(t *testing.T) {
	fake := testutil.NewFakeRemote("user@example.com")
	for i := 0; i < 25; i++ {
		fake.AddMessage(&remote.Message{ID: fmt.Sprintf("m%d", i), Subject: "hi"})
	}

	fetcher := NewFetcher(fake, 4)

	var mu sync.Mutex
	seen := make(map[string]bool)

	result := fetcher.FetchAll(context.Background(), messageIDRange(25), func(_ context.Context, msg *remote.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen[msg.ID] = true
		return nil
	}, nil)

	assert.Equal(t, 25, result.Fetched)
	assert.Empty(t, result.Failures)
	assert.Len(t, seen, 25)
}

func TestFetchAllRetriesTransientErrors(t *testing.T) {
	fake := testutil.NewFakeRemote("user@example.com")
	fake.AddMessage(&remote.Message{ID: "m0"})
	// Two scripted failures, then success on the third attempt.
	fake.GetMessageErrs["m0"] = 2

	fetcher := NewFetcher(fake, 1)

	result := fetcher.FetchAll(context.Background(), []string{"m0"}, func(context.Context, *remote.Message) error {
		return nil
	}, nil)

	assert.Equal(t, 1, result.Fetched)
	assert.Empty(t, result.Failures)
}

func TestFetchAllSurfacesExhaustedRetries(t *testing.T) {
	fake := testutil.NewFakeRemote("user@example.com")
	fake.AddMessage(&remote.Message{ID: "m0"})
	fake.AddMessage(&remote.Message{ID: "m1"})
	fake.GetMessageErrs["m0"] = 10

	fetcher := NewFetcher(fake, 2)

	result := fetcher.FetchAll(context.Background(), []string{"m0", "m1"}, func(context.Context, *remote.Message) error {
		return nil
	}, nil)

	assert.Equal(t, 1, result.Fetched)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "m0", result.Failures[0].MessageID)
}

func TestFetchAllDoesNotRetryPermanentErrors(t *testing.T) {
	fake := testutil.NewFakeRemote("user@example.com")
	fake.AddMessage(&remote.Message{ID: "m0"})
	fake.GetMessageErrs["m0"] = 10
	fake.GetMessageErr = &googleapi.Error{Code: 400, Message: "invalid message id"}

	fetcher := NewFetcher(fake, 1)

	start := time.Now()
	result := fetcher.FetchAll(context.Background(), []string{"m0"}, func(context.Context, *remote.Message) error {
		return nil
	}, nil)

	require.Len(t, result.Failures, 1)
	var apiErr *googleapi.Error
	require.ErrorAs(t, result.Failures[0].Err, &apiErr)
	assert.Equal(t, 400, apiErr.Code)

	// A single attempt: no retry pauses burned, no extra remote calls.
	assert.Equal(t, 9, fake.GetMessageErrs["m0"])
	assert.Less(t, time.Since(start), retryPause)
}

func TestFetchAllDoesNotRetryMissingMessages(t *testing.T) {
	fake := testutil.NewFakeRemote("user@example.com")

	fetcher := NewFetcher(fake, 1)

	start := time.Now()
	result := fetcher.FetchAll(context.Background(), []string{"gone"}, func(context.Context, *remote.Message) error {
		return nil
	}, nil)

	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0].Err, remote.ErrNotFound)
	// A missing message must fail fast, not burn the retry pauses.
	assert.Less(t, time.Since(start), retryPause)
}

func TestFetchAllReportsProgress(t *testing.T) {
	fake := testutil.NewFakeRemote("user@example.com")
	for i := 0; i < 5; i++ {
		fake.AddMessage(&remote.Message{ID: fmt.Sprintf("m%d", i)})
	}

	fetcher := NewFetcher(fake, 2)

	var mu sync.Mutex
	var lastDone int
	result := fetcher.FetchAll(context.Background(), messageIDRange(5), func(context.Context, *remote.Message) error {
		return nil
	}, func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if done > lastDone {
			lastDone = done
		}
		assert.Equal(t, 5, total)
	})

	assert.Equal(t, 5, result.Fetched)
	assert.Equal(t, 5, lastDone)
}

func TestFetchAllStopsSchedulingOnCancel(t *testing.T) {
	fake := testutil.NewFakeRemote("user@example.com")
	for i := 0; i < 100; i++ {
		fake.AddMessage(&remote.Message{ID: fmt.Sprintf("m%d", i)})
	}

	fetcher := NewFetcher(fake, 1)
	ctx, cancel := context.WithCancel(context.Background())

	handled := 0
	result := fetcher.FetchAll(ctx, messageIDRange(100), func(context.Context, *remote.Message) error {
		handled++
		if handled == 3 {
			cancel()
		}
		return nil
	}, nil)

	assert.Less(t, result.Fetched+len(result.Failures), 100)
}

func TestFetchAllHandlerErrorIsFinal(t *testing.T) {
	fake := testutil.NewFakeRemote("user@example.com")
	fake.AddMessage(&remote.Message{ID: "m0"})

	fetcher := NewFetcher(fake, 1)
	handlerErr := errors.New("persist failed")

	calls := 0
	result := fetcher.FetchAll(context.Background(), []string{"m0"}, func(context.Context, *remote.Message) error {
		calls++
		return handlerErr
	}, nil)

	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0].Err, handlerErr)
	assert.Equal(t, 1, calls, "a persistence failure must not re-fetch the message")
}

func TestTune(t *testing.T) {
	fetcher := NewFetcher(testutil.NewFakeRemote("user@example.com"), 8)

	// High error rate halves the workers.
	fetcher.Tune(100*time.Millisecond, 0.5)
	assert.Equal(t, 4, fetcher.Concurrency())

	// Clean and fast grows by one.
	fetcher.Tune(50*time.Millisecond, 0.0)
	assert.Equal(t, 5, fetcher.Concurrency())

	// Middling behavior leaves it alone.
	fetcher.Tune(2*time.Second, 0.05)
	assert.Equal(t, 5, fetcher.Concurrency())

	// Never drops below one worker.
	low := NewFetcher(testutil.NewFakeRemote("user@example.com"), 1)
	low.Tune(time.Second, 1.0)
	assert.Equal(t, 1, low.Concurrency())

	// Never grows past the ceiling.
	high := NewFetcher(testutil.NewFakeRemote("user@example.com"), maxFetchConcurrency)
	high.Tune(10*time.Millisecond, 0.0)
	assert.Equal(t, maxFetchConcurrency, high.Concurrency())
}

func messageIDRange(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%d", i)
	}
	return ids
}
