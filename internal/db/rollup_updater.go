package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RollupUpdater defines an interface for recomputing a conversation's
// denormalized rollup fields. This allows the sync engine to be tested with
// mock implementations.
type RollupUpdater interface {
	RecomputeRollup(ctx context.Context, conversationID string) error
}

// rollupUpdaterImpl implements RollupUpdater using a database pool.
type rollupUpdaterImpl struct {
	pool *pgxpool.Pool
}

// NewRollupUpdater creates a RollupUpdater that uses the given database pool.
func NewRollupUpdater(pool *pgxpool.Pool) RollupUpdater {
	return &rollupUpdaterImpl{pool: pool}
}

// RecomputeRollup recomputes unread count, latest message timestamp and
// display snippet for one conversation from its messages. It scans only that
// conversation's rows, which keeps a full rollup pass O(touched).
func (r *rollupUpdaterImpl) RecomputeRollup(ctx context.Context, conversationID string) error {
	return RecomputeRollup(ctx, r.pool, conversationID)
}

// RecomputeRollup is the package-level form of RollupUpdater.RecomputeRollup.
func RecomputeRollup(ctx context.Context, pool *pgxpool.Pool, conversationID string) error {
	_, err := pool.Exec(ctx, `
		UPDATE conversations c
		SET unread_count = agg.unread_count,
			last_message_at = agg.last_message_at,
			snippet = COALESCE(agg.snippet, c.snippet)
		FROM (
			SELECT
				COUNT(*) FILTER (WHERE m.is_unread)        AS unread_count,
				MAX(m.sent_at) FILTER (WHERE m.in_inbox)   AS last_message_at,
				(SELECT m2.snippet
				 FROM messages m2
				 WHERE m2.conversation_id = $1
				 ORDER BY m2.sent_at DESC NULLS LAST
				 LIMIT 1)                                  AS snippet
			FROM messages m
			WHERE m.conversation_id = $1
		) agg
		WHERE c.id = $1
	`, conversationID)

	if err != nil {
		return fmt.Errorf("failed to recompute rollup: %w", err)
	}

	return nil
}
