package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/actions"
	"github.com/inboxd/inboxd/internal/api"
	"github.com/inboxd/inboxd/internal/auth"
	"github.com/inboxd/inboxd/internal/config"
	"github.com/inboxd/inboxd/internal/db"
	"github.com/inboxd/inboxd/internal/remote"
	enginesync "github.com/inboxd/inboxd/internal/sync"
	ws "github.com/inboxd/inboxd/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	authProvider, err := auth.NewProvider(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to load OAuth token: %v", err)
	}

	client, err := remote.NewGmailClient(ctx, authProvider.TokenSource())
	if err != nil {
		log.Fatalf("Failed to create remote client: %v", err)
	}

	engine := newEngine(cfg, pool, client)

	go engine.runSyncLoop(ctx)

	server := NewServer(cfg, pool, engine)

	address := ":" + cfg.Port
	log.Printf("inboxd starting on %s (account: %s, environment: %s)", address, cfg.AccountEmail, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// engine bundles the sync pipeline, duplicate merger, and action queue that
// the periodic loop and the HTTP surface share.
type engine struct {
	cfg      *config.Config
	pipeline *enginesync.Pipeline
	merger   *enginesync.Merger
	queue    *actions.Queue
	hub      *ws.Hub
}

func newEngine(cfg *config.Config, pool *pgxpool.Pool, client remote.Client) *engine {
	hub := ws.NewHub(16)
	tracker := enginesync.NewTracker()
	rollup := db.NewRollupUpdater(pool)
	fetcher := enginesync.NewFetcher(client, cfg.FetchConcurrency)
	persister := enginesync.NewPersister(pool, tracker, cfg.AllAliases(), nil)
	reconciler := enginesync.NewReconciler(pool, client, fetcher, persister, tracker)

	pipeline := enginesync.NewPipeline(
		pool,
		client,
		fetcher,
		persister,
		reconciler,
		tracker,
		rollup,
		cfg.AccountEmail,
		cfg.MaxChangeLogPages,
		hub.Progress,
	)

	return &engine{
		cfg:      cfg,
		pipeline: pipeline,
		merger:   enginesync.NewMerger(pool, tracker, rollup, cfg.AllAliases()),
		queue:    actions.NewQueue(pool, client, cfg.ActionMaxRetries, cfg.ActionBackoffInterval),
		hub:      hub,
	}
}

// runSyncLoop runs one pass immediately, then one per interval. A failed pass
// flips the action queue offline; the next success flips it back, which
// triggers a drain of whatever accumulated while unreachable.
func (e *engine) runSyncLoop(ctx context.Context) {
	e.runPass(ctx)

	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runPass(ctx)
		}
	}
}

func (e *engine) runPass(ctx context.Context) {
	stats, err := e.pipeline.Run(ctx)
	if err != nil {
		log.Printf("Warning: sync pass failed: %v", err)
		e.hub.Broadcast(ws.Event{Type: ws.EventSyncFailed, Detail: err.Error()})
		e.queue.SetOnline(ctx, false)
		return
	}

	log.Printf("Sync pass: %d new messages, %d change records, %d rollups updated, full=%t (%s)",
		stats.NewMessages, stats.ChangeRecords, stats.TouchedRollups, stats.FullReconciliation, stats.Duration)
	e.hub.Broadcast(ws.Event{Type: ws.EventSyncDone})

	e.queue.SetOnline(ctx, true)
	if err := e.queue.Drain(ctx); err != nil {
		log.Printf("Warning: action queue drain failed: %v", err)
	}

	merged, err := e.merger.Run(ctx)
	if err != nil {
		log.Printf("Warning: duplicate merge failed: %v", err)
	} else if merged > 0 {
		log.Printf("Merged %d duplicate conversations", merged)
	}
}

// NewServer creates and returns the HTTP handler for the inboxd API.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool, e *engine) http.Handler {
	syncHandler := api.NewSyncHandler(dbPool, e.pipeline, e.hub, cfg.AccountEmail)
	actionsHandler := api.NewActionsHandler(dbPool, e.queue, e.hub)
	conversationsHandler := api.NewConversationsHandler(dbPool)
	wsHandler := api.NewWebSocketHandler(e.hub)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.Handle("/api/v1/sync", http.HandlerFunc(syncHandler.TriggerSync))
	mux.Handle("/api/v1/status", http.HandlerFunc(syncHandler.GetStatus))
	mux.Handle("/api/v1/actions", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			actionsHandler.GetQueue(w, r)
		case http.MethodPost:
			actionsHandler.CreateAction(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))
	mux.Handle("/api/v1/conversations", http.HandlerFunc(conversationsHandler.ListConversations))
	mux.Handle("/api/v1/conversations/", http.HandlerFunc(conversationsHandler.GetConversation))
	mux.Handle("/api/v1/ws", http.HandlerFunc(wsHandler.Handle))

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "inboxd is running")
}
