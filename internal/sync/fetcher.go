package sync

import (
	"context"
	"sync"
	"time"

	"github.com/inboxd/inboxd/internal/remote"
)

const (
	defaultFetchConcurrency = 4
	maxFetchConcurrency     = 16
	fetchAttempts           = 3
	fetchAttemptTimeout     = 30 * time.Second
	retryPause              = 500 * time.Millisecond
)

// FetchFailure records a message that could not be fetched or persisted after
// all attempts. It is surfaced, not dropped: reconciliation picks it up later.
type FetchFailure struct {
	MessageID string
	Err       error
}

// FetchResult summarizes one batch fetch.
type FetchResult struct {
	Fetched  int
	Failures []FetchFailure
	Elapsed  time.Duration
}

// Fetcher fetches message bodies with bounded concurrency. Each fetch is
// independently retried a small fixed number of times with a per-attempt
// timeout. Concurrency can be tuned between passes, never within one.
type Fetcher struct {
	client remote.Client

	mu          sync.Mutex
	concurrency int
}

// NewFetcher creates a fetcher with the given concurrency (0 for the default).
func NewFetcher(client remote.Client, concurrency int) *Fetcher {
	if concurrency <= 0 {
		concurrency = defaultFetchConcurrency
	}
	if concurrency > maxFetchConcurrency {
		concurrency = maxFetchConcurrency
	}
	return &Fetcher{client: client, concurrency: concurrency}
}

// Concurrency returns the current worker count.
func (f *Fetcher) Concurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.concurrency
}

// Tune adjusts concurrency from observed behavior of the previous pass: a high
// error rate halves the worker count, consistently fast and clean fetches grow
// it by one. The change applies to the next FetchAll, not a pass in flight.
func (f *Fetcher) Tune(avgLatency time.Duration, errorRate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case errorRate > 0.2:
		f.concurrency /= 2
		if f.concurrency < 1 {
			f.concurrency = 1
		}
	case errorRate < 0.01 && avgLatency < 500*time.Millisecond && f.concurrency < maxFetchConcurrency:
		f.concurrency++
	}
}

// FetchAll fetches every id and hands each fetched message to handle. Handlers
// run concurrently from the worker pool, so they must be independently
// idempotent; ordering across messages is not guaranteed. progress (optional)
// is invoked as each message completes, success or not.
func (f *Fetcher) FetchAll(ctx context.Context, ids []string, handle func(context.Context, *remote.Message) error, progress func(done, total int)) *FetchResult {
	result := &FetchResult{}
	if len(ids) == 0 {
		return result
	}

	start := time.Now()
	jobs := make(chan string)

	var mu sync.Mutex
	done := 0

	finish := func(failure *FetchFailure) {
		mu.Lock()
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
		} else {
			result.Fetched++
		}
		done++
		current := done
		mu.Unlock()
		if progress != nil {
			progress(current, len(ids))
		}
	}

	var wg sync.WaitGroup
	workers := f.Concurrency()
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := f.fetchOne(ctx, id, handle); err != nil {
					finish(&FetchFailure{MessageID: id, Err: err})
				} else {
					finish(nil)
				}
			}
		}()
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			// Stop scheduling new work; in-flight fetches run to completion.
			close(jobs)
			wg.Wait()
			result.Elapsed = time.Since(start)
			return result
		case jobs <- id:
		}
	}
	close(jobs)
	wg.Wait()

	result.Elapsed = time.Since(start)
	return result
}

// fetchOne fetches a single message with bounded attempts. Only transient
// errors are retried; a permanent error, a missing remote object, or a
// persistence failure is final for this pass.
func (f *Fetcher) fetchOne(ctx context.Context, id string, handle func(context.Context, *remote.Message) error) error {
	var lastErr error

	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryPause):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, fetchAttemptTimeout)
		msg, err := f.client.GetMessage(attemptCtx, id)
		cancel()

		if err != nil {
			lastErr = err
			if ctx.Err() != nil || !remote.IsTransient(err) {
				return lastErr
			}
			continue
		}

		return handle(ctx, msg)
	}

	return lastErr
}
