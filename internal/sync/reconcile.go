package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/remote"
)

// defaultLabelWindow bounds how far back label reconciliation re-derives
// message state from authoritative remote labels.
const defaultLabelWindow = 7 * 24 * time.Hour

// Reconciler is the exhaustive catch-up pass: it finds messages the change log
// never surfaced and corrects label drift over a bounded recent window. Both
// checks are idempotent and safe to run repeatedly.
type Reconciler struct {
	pool        *pgxpool.Pool
	client      remote.Client
	fetcher     *Fetcher
	persister   *Persister
	tracker     *Tracker
	labelWindow time.Duration
}

// NewReconciler creates a reconciler sharing the engine's fetcher, persister
// and tracker.
func NewReconciler(pool *pgxpool.Pool, client remote.Client, fetcher *Fetcher, persister *Persister, tracker *Tracker) *Reconciler {
	return &Reconciler{
		pool:        pool,
		client:      client,
		fetcher:     fetcher,
		persister:   persister,
		tracker:     tracker,
		labelWindow: defaultLabelWindow,
	}
}

// Run executes both reconciliation checks. boundary is the install/first-sync
// time: messages older than it are out of scope for missed-message detection.
func (r *Reconciler) Run(ctx context.Context, boundary time.Time, progress func(done, total int)) error {
	if err := r.fetchMissedMessages(ctx, boundary, progress); err != nil {
		return fmt.Errorf("missed-message detection: %w", err)
	}

	if err := r.reconcileLabels(ctx); err != nil {
		return fmt.Errorf("label reconciliation: %w", err)
	}

	return nil
}

// fetchMissedMessages diffs the remote listing against the local store and
// fetches the gap.
func (r *Reconciler) fetchMissedMessages(ctx context.Context, boundary time.Time, progress func(done, total int)) error {
	remoteIDs, err := r.listRemoteIDsSince(ctx, boundary)
	if err != nil {
		return err
	}

	localIDs, err := db.ListRemoteIDsSince(ctx, r.pool, boundary)
	if err != nil {
		return err
	}

	var missing []string
	for _, id := range remoteIDs {
		if !localIDs[id] {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return nil
	}

	log.Printf("Reconciliation: fetching %d messages missed by incremental sync", len(missing))

	result := r.fetcher.FetchAll(ctx, missing, r.persister.PersistMessage, progress)
	for _, failure := range result.Failures {
		log.Printf("Warning: Reconciliation failed to fetch message %s: %v", failure.MessageID, failure.Err)
	}

	return nil
}

// listRemoteIDsSince pages through the remote listing of message ids newer
// than the boundary. Order is made deterministic for the diff.
func (r *Reconciler) listRemoteIDsSince(ctx context.Context, boundary time.Time) ([]string, error) {
	query := ""
	if !boundary.IsZero() {
		query = fmt.Sprintf("after:%d", boundary.Unix())
	}

	var ids []string
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := r.client.ListMessageIDs(ctx, query, pageToken)
		if err != nil {
			return nil, err
		}
		ids = append(ids, page.IDs...)

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	sort.Strings(ids)
	return ids, nil
}

// reconcileLabels re-derives label state for messages in the recent window
// from the authoritative remote label set, correcting any drift the change-log
// replay missed. Messages gone from the remote store are deleted locally.
func (r *Reconciler) reconcileLabels(ctx context.Context) error {
	since := time.Now().Add(-r.labelWindow)
	messages, err := db.ListMessagesSince(ctx, r.pool, since)
	if err != nil {
		return err
	}

	for _, local := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}

		remoteMsg, err := r.client.GetMessage(ctx, local.RemoteID)
		if errors.Is(err, remote.ErrNotFound) {
			conversationID, err := db.DeleteMessageByRemoteID(ctx, r.pool, local.RemoteID)
			if err != nil {
				return err
			}
			r.tracker.Track(conversationID)
			continue
		}
		if err != nil {
			// Transient failure on one message must not abort the pass; the
			// next reconciliation converges.
			log.Printf("Warning: Label reconciliation skipping message %s: %v", local.RemoteID, err)
			continue
		}

		if sameLabelSet(local.LabelIDs, remoteMsg.LabelIDs) {
			continue
		}

		isUnread, isStarred, inInbox := labelState(remoteMsg.LabelIDs)
		conversationID, err := db.ApplyLabelState(ctx, r.pool, local.RemoteID, remoteMsg.LabelIDs, isUnread, isStarred, inInbox)
		if errors.Is(err, db.ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		r.tracker.Track(conversationID)
	}

	return nil
}

func sameLabelSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, l := range a {
		set[l] = true
	}
	for _, l := range b {
		if !set[l] {
			return false
		}
	}
	return true
}
