// Package actions implements the durable offline action queue: user intents
// (read/unread/archive/star) persisted immediately and replayed against the
// remote store whenever connectivity allows, with bounded retries and capped
// exponential backoff.
package actions

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/models"
	"github.com/inboxd/inboxd/internal/remote"
)

const (
	defaultMaxRetries  = 5
	defaultBackoffBase = 2 * time.Second
	backoffCap         = 2 * time.Minute

	// staleProcessingAge is how long an action may sit in processing before a
	// drain assumes its owner died mid-flight and reclaims it.
	staleProcessingAge = 5 * time.Minute
)

// Queue is the durable offline action queue. Actions are processed one at a
// time in creation order among eligible ones: no parallel remote mutation, so
// conflicting label operations on the same message cannot race.
type Queue struct {
	pool        *pgxpool.Pool
	client      remote.Client
	maxRetries  int
	backoffBase time.Duration

	online  atomic.Bool
	drainMu sync.Mutex
}

// NewQueue creates an action queue. maxRetries and backoffBase fall back to
// defaults when zero. The queue starts in the online state.
func NewQueue(pool *pgxpool.Pool, client remote.Client, maxRetries int, backoffBase time.Duration) *Queue {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if backoffBase <= 0 {
		backoffBase = defaultBackoffBase
	}
	q := &Queue{
		pool:        pool,
		client:      client,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
	}
	q.online.Store(true)
	return q
}

// Enqueue durably persists a user intent, stamps the affected messages as
// locally modified, and opportunistically triggers a drain when online.
func (q *Queue) Enqueue(ctx context.Context, kind models.ActionKind, messageIDs []string, conversationID *string, payload []byte) (*models.PendingAction, error) {
	if _, _, err := labelDelta(kind); err != nil {
		return nil, err
	}
	if len(messageIDs) == 0 {
		return nil, fmt.Errorf("action requires at least one message id")
	}

	action := &models.PendingAction{
		ID:             uuid.NewString(),
		Kind:           kind,
		MessageIDs:     messageIDs,
		ConversationID: conversationID,
		Payload:        payload,
	}
	if err := db.InsertPendingAction(ctx, q.pool, action); err != nil {
		return nil, err
	}

	if err := db.MarkLocallyModified(ctx, q.pool, messageIDs); err != nil {
		return nil, err
	}

	// Archiving a conversation takes effect locally right away; the queue
	// only has to make the remote store agree.
	if kind == models.ActionArchive && conversationID != nil {
		archived := true
		if err := db.SetConversationFlags(ctx, q.pool, *conversationID, db.ConversationFlags{Archived: &archived}); err != nil {
			return nil, err
		}
	}

	if q.online.Load() {
		go func() {
			if err := q.Drain(context.Background()); err != nil {
				log.Printf("Warning: opportunistic queue drain failed: %v", err)
			}
		}()
	}

	return action, nil
}

// SetOnline records connectivity. The offline-to-online transition triggers an
// automatic drain.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	wasOnline := q.online.Swap(online)
	if online && !wasOnline {
		go func() {
			if err := q.Drain(ctx); err != nil {
				log.Printf("Warning: queue drain after reconnect failed: %v", err)
			}
		}()
	}
}

// Drain reclaims stale in-flight actions from a previous crashed run, then
// processes eligible actions oldest-first until the queue is empty. A
// drain never runs concurrently with itself: callers arriving while one is in
// flight return immediately. After each failure the drain sleeps with capped
// exponential backoff before considering the next action, throttling a failing
// queue instead of hot-looping. Completed actions are purged at the end.
func (q *Queue) Drain(ctx context.Context) error {
	if !q.drainMu.TryLock() {
		return nil
	}
	defer q.drainMu.Unlock()

	// An action claimed by a drain that crashed before resolving it stays in
	// processing forever; hand it back to the queue once it has gone stale.
	reclaimed, err := db.ReclaimStaleActions(ctx, q.pool, staleProcessingAge)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		log.Printf("Warning: reclaimed %d stale in-flight actions", reclaimed)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !q.online.Load() {
			return nil
		}

		action, err := db.ClaimNextAction(ctx, q.pool, q.maxRetries)
		if err == db.ErrNoEligibleAction {
			break
		}
		if err != nil {
			return err
		}

		if execErr := q.execute(ctx, action); execErr != nil {
			log.Printf("Warning: action %s (%s) failed on attempt %d: %v", action.ID, action.Kind, action.RetryCount+1, execErr)
			if err := db.FailAction(ctx, q.pool, action.ID, execErr.Error()); err != nil {
				return err
			}
			if err := q.sleepBackoff(ctx, action.RetryCount); err != nil {
				return err
			}
			continue
		}

		if err := db.CompleteAction(ctx, q.pool, action.ID); err != nil {
			return err
		}
		if err := db.ClearLocallyModified(ctx, q.pool, action.MessageIDs); err != nil {
			return err
		}
	}

	purged, err := db.PurgeCompletedActions(ctx, q.pool)
	if err != nil {
		return err
	}
	if purged > 0 {
		log.Printf("Purged %d completed actions", purged)
	}

	return nil
}

// execute applies one action against the remote store.
func (q *Queue) execute(ctx context.Context, action *models.PendingAction) error {
	add, remove, err := labelDelta(action.Kind)
	if err != nil {
		return err
	}
	return q.client.ModifyLabels(ctx, action.MessageIDs, add, remove)
}

// sleepBackoff waits base * 2^retryCount, capped. retryCount is the count
// before this failure, so the first failure waits one base interval.
func (q *Queue) sleepBackoff(ctx context.Context, retryCount int) error {
	delay := BackoffDelay(q.backoffBase, retryCount)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// BackoffDelay computes the capped exponential delay for a given retry count.
// Successive delays are non-decreasing and never exceed the cap.
func BackoffDelay(base time.Duration, retryCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = backoffCap
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < retryCount; i++ {
		delay = b.NextBackOff()
	}
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}

// labelDelta maps an action kind to the label mutation that realizes it.
func labelDelta(kind models.ActionKind) (add, remove []string, err error) {
	switch kind {
	case models.ActionMarkRead:
		return nil, []string{remote.LabelUnread}, nil
	case models.ActionMarkUnread:
		return []string{remote.LabelUnread}, nil, nil
	case models.ActionArchive:
		return nil, []string{remote.LabelInbox}, nil
	case models.ActionStar:
		return []string{remote.LabelStarred}, nil, nil
	case models.ActionUnstar:
		return nil, []string{remote.LabelStarred}, nil
	default:
		return nil, nil, fmt.Errorf("unknown action kind %q", kind)
	}
}
