package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/models"
	"github.com/inboxd/inboxd/internal/remote"
)

// defaultMaxChangeLogPages caps how many change-log pages one pass collects.
// A very stale cursor would otherwise buffer an unbounded record list; the
// remainder is caught by reconciliation and the next pass.
const defaultMaxChangeLogPages = 20

// reconcileEvery forces a full reconciliation periodically even when the
// change log looks healthy, to catch anything the incremental path missed.
const reconcileEvery = 12

// PassStats summarizes one completed sync pass.
type PassStats struct {
	NewMessages        int
	FetchFailures      int
	ChangeRecords      int
	TouchedRollups     int
	FullReconciliation bool
	Duration           time.Duration
}

// Pipeline runs one sync pass as a fixed ordered sequence of phases:
// change-log collection, message fetch, label replay, reconciliation, and
// conversation rollup update. Phases execute strictly in sequence and the
// pipeline checks for cancellation between them. It keeps no state of its own
// between passes beyond the remote cursor, and a pass is idempotent:
// re-running with the same cursor converges to the same local state.
type Pipeline struct {
	pool         *pgxpool.Pool
	client       remote.Client
	fetcher      *Fetcher
	persister    *Persister
	reconciler   *Reconciler
	tracker      *Tracker
	rollup       db.RollupUpdater
	accountEmail string
	maxPages     int
	progress     ProgressFunc

	mu        sync.Mutex
	passCount int
}

// NewPipeline wires a sync pipeline. progress may be nil.
func NewPipeline(
	pool *pgxpool.Pool,
	client remote.Client,
	fetcher *Fetcher,
	persister *Persister,
	reconciler *Reconciler,
	tracker *Tracker,
	rollup db.RollupUpdater,
	accountEmail string,
	maxPages int,
	progress ProgressFunc,
) *Pipeline {
	if maxPages <= 0 {
		maxPages = defaultMaxChangeLogPages
	}
	return &Pipeline{
		pool:         pool,
		client:       client,
		fetcher:      fetcher,
		persister:    persister,
		reconciler:   reconciler,
		tracker:      tracker,
		rollup:       rollup,
		accountEmail: accountEmail,
		maxPages:     maxPages,
		progress:     progress,
	}
}

// changeLog is the terminal output of the collection phase.
type changeLog struct {
	records       []remote.ChangeRecord
	newCursor     string
	truncated     bool
	cursorExpired bool
}

// Run executes one sync pass. Two passes never overlap; a second caller blocks
// until the first finishes. Partial progress committed by earlier phases is
// never rolled back on failure: every write is idempotent and a later pass
// converges.
func (p *Pipeline) Run(ctx context.Context) (*PassStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	p.passCount++
	stats := &PassStats{}

	state, err := p.ensureSyncState(ctx)
	if err != nil {
		return nil, err
	}

	// Phase 1: change-log collection.
	reporter := newPhaseReporter(p.progress, progressChangeLogStart, progressChangeLogEnd, "collecting changes")
	reporter.begin()
	chlog, err := p.collectChangeLog(ctx, state.Cursor, reporter)
	if err != nil {
		return nil, fmt.Errorf("change-log collection: %w", err)
	}
	reporter.done()
	stats.ChangeRecords = len(chlog.records)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 2: message fetch.
	newIDs := newMessageIDs(chlog.records)
	reporter = newPhaseReporter(p.progress, progressFetchStart, progressFetchEnd, "fetching messages")
	reporter.begin()
	fetchResult := p.fetcher.FetchAll(ctx, newIDs, p.persister.PersistMessage, reporter.sub)
	reporter.done()
	stats.NewMessages = fetchResult.Fetched
	stats.FetchFailures = len(fetchResult.Failures)
	for _, failure := range fetchResult.Failures {
		log.Printf("Warning: Failed to fetch message %s: %v", failure.MessageID, failure.Err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 3: label replay from the change log. Skipped entirely when the
	// cursor expired: there is no usable change log, reconciliation takes over.
	if !chlog.cursorExpired {
		reporter = newPhaseReporter(p.progress, progressLabelsStart, progressLabelsEnd, "applying labels")
		reporter.begin()
		if err := replayLabelChanges(ctx, p.pool, p.tracker, chlog.records); err != nil {
			return nil, fmt.Errorf("label processing: %w", err)
		}
		reporter.done()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 4: reconciliation. Runs when the incremental path was unusable or
	// cut short, and periodically as a safety net; skipped otherwise as an
	// optimization.
	if chlog.cursorExpired || chlog.truncated || p.passCount%reconcileEvery == 0 {
		stats.FullReconciliation = true
		reporter = newPhaseReporter(p.progress, progressReconcileStart, progressReconcileEnd, "reconciling")
		reporter.begin()
		if err := p.reconciler.Run(ctx, state.FirstSyncedAt, reporter.sub); err != nil {
			return nil, fmt.Errorf("reconciliation: %w", err)
		}
		reporter.done()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Phase 5: rollup update for touched conversations only.
	touched := p.tracker.Drain()
	stats.TouchedRollups = len(touched)
	reporter = newPhaseReporter(p.progress, progressRollupStart, progressRollupEnd, "updating conversations")
	reporter.begin()
	for i, conversationID := range touched {
		if err := p.rollup.RecomputeRollup(ctx, conversationID); err != nil {
			return nil, fmt.Errorf("rollup update: %w", err)
		}
		reporter.sub(i+1, len(touched))
	}
	reporter.done()

	// Persist the new cursor only after all phases committed. When the cursor
	// expired, reconciliation has caught us up and the current remote head is
	// the correct new position.
	newCursor := chlog.newCursor
	if chlog.cursorExpired || newCursor == "" {
		profile, err := p.client.GetProfile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh cursor: %w", err)
		}
		newCursor = profile.Cursor
	}
	if err := db.SaveCursor(ctx, p.pool, p.accountEmail, newCursor); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	p.tunePostPass(fetchResult, stats)

	if p.progress != nil {
		p.progress(1.0, "completed")
	}

	return stats, nil
}

// ensureSyncState loads the account's sync state, bootstrapping it on first
// sync: label catalog, initial cursor at the current remote head, and the
// first-sync boundary that scopes reconciliation.
func (p *Pipeline) ensureSyncState(ctx context.Context) (*syncState, error) {
	state, err := db.GetSyncState(ctx, p.pool, p.accountEmail)
	if err != nil {
		return nil, err
	}
	if state != nil && state.Cursor != "" {
		return &syncState{Cursor: state.Cursor, FirstSyncedAt: state.FirstSyncedAt}, nil
	}

	profile, err := p.client.GetProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap sync state: %w", err)
	}

	labels, err := p.client.ListLabels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	if err := db.UpsertLabels(ctx, p.pool, convertLabels(labels)); err != nil {
		return nil, err
	}

	if err := db.SaveCursor(ctx, p.pool, p.accountEmail, profile.Cursor); err != nil {
		return nil, err
	}

	saved, err := db.GetSyncState(ctx, p.pool, p.accountEmail)
	if err != nil {
		return nil, err
	}

	log.Printf("Bootstrapped sync state for %s at cursor %s", p.accountEmail, profile.Cursor)
	return &syncState{Cursor: saved.Cursor, FirstSyncedAt: saved.FirstSyncedAt}, nil
}

type syncState struct {
	Cursor        string
	FirstSyncedAt time.Time
}

// collectChangeLog paginates the remote change log from the stored cursor,
// stopping after maxPages to bound memory on a very stale cursor; the
// remainder is flagged as truncated for the reconciliation phase. An expired
// cursor is not an error: the pass falls back to full reconciliation.
func (p *Pipeline) collectChangeLog(ctx context.Context, cursor string, reporter phaseReporter) (*changeLog, error) {
	chlog := &changeLog{}

	pageToken := ""
	for page := 0; page < p.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := p.client.ListChanges(ctx, cursor, pageToken)
		if errors.Is(err, remote.ErrCursorExpired) {
			log.Printf("Change-log cursor expired for %s, falling back to reconciliation", p.accountEmail)
			chlog.cursorExpired = true
			chlog.records = nil
			return chlog, nil
		}
		if err != nil {
			return nil, err
		}

		chlog.records = append(chlog.records, resp.Records...)
		if resp.NewCursor != "" {
			chlog.newCursor = resp.NewCursor
		}
		reporter.sub(page+1, p.maxPages)

		if resp.NextPageToken == "" {
			return chlog, nil
		}
		pageToken = resp.NextPageToken
	}

	chlog.truncated = true
	return chlog, nil
}

// tunePostPass feeds observed latency and error rate back into the fetcher.
// Tuning applies between passes, never within one.
func (p *Pipeline) tunePostPass(result *FetchResult, stats *PassStats) {
	total := result.Fetched + len(result.Failures)
	if total == 0 {
		return
	}
	avgLatency := result.Elapsed / time.Duration(total)
	errorRate := float64(len(result.Failures)) / float64(total)
	p.fetcher.Tune(avgLatency, errorRate)
	log.Printf("Sync pass done in %s: %d new, %d failed, %d rollups (avg fetch %s, err rate %.2f)",
		stats.Duration.Round(time.Millisecond), stats.NewMessages, stats.FetchFailures,
		stats.TouchedRollups, avgLatency.Round(time.Millisecond), errorRate)
}

// newMessageIDs extracts the unique ids of message-added records in order.
func newMessageIDs(records []remote.ChangeRecord) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, r := range records {
		if r.Kind != remote.ChangeMessageAdded || seen[r.MessageID] {
			continue
		}
		seen[r.MessageID] = true
		ids = append(ids, r.MessageID)
	}
	return ids
}

func convertLabels(labels []remote.Label) []models.Label {
	out := make([]models.Label, 0, len(labels))
	for _, l := range labels {
		out = append(out, models.Label{ID: l.ID, Name: l.Name, Kind: l.Kind})
	}
	return out
}
