package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/models"
)

// ErrNoEligibleAction is returned when the queue holds nothing to process.
var ErrNoEligibleAction = errors.New("no eligible pending action")

// InsertPendingAction persists a new pending action.
func InsertPendingAction(ctx context.Context, pool *pgxpool.Pool, action *models.PendingAction) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO pending_actions (id, kind, message_ids, conversation_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING status, retry_count, created_at
	`,
		action.ID,
		action.Kind,
		action.MessageIDs,
		action.ConversationID,
		action.Payload,
	).Scan(&action.Status, &action.RetryCount, &action.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert pending action: %w", err)
	}

	return nil
}

// ClaimNextAction atomically picks the oldest eligible action (pending, or
// failed with retries left) and marks it processing. Returns
// ErrNoEligibleAction when the queue is drained. The row lock on the
// subselect keeps concurrent drains from claiming the same action.
func ClaimNextAction(ctx context.Context, pool *pgxpool.Pool, maxRetries int) (*models.PendingAction, error) {
	var action models.PendingAction

	err := pool.QueryRow(ctx, `
		UPDATE pending_actions
		SET status = 'processing', last_attempt_at = now()
		WHERE id = (
			SELECT id FROM pending_actions
			WHERE status = 'pending' OR (status = 'failed' AND retry_count < $1)
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, message_ids, conversation_id, payload, status,
			retry_count, last_attempt_at, last_error, created_at
	`, maxRetries).Scan(
		&action.ID,
		&action.Kind,
		&action.MessageIDs,
		&action.ConversationID,
		&action.Payload,
		&action.Status,
		&action.RetryCount,
		&action.LastAttemptAt,
		&action.LastError,
		&action.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoEligibleAction
	}

	if err != nil {
		return nil, fmt.Errorf("failed to claim pending action: %w", err)
	}

	return &action, nil
}

// ReclaimStaleActions flips processing rows whose last attempt is older than
// staleAfter back to pending. A row stuck in processing means a previous drain
// died between claiming and resolving it; without reclaiming, that durable
// intent would never be retried.
func ReclaimStaleActions(ctx context.Context, pool *pgxpool.Pool, staleAfter time.Duration) (int64, error) {
	tag, err := pool.Exec(ctx, `
		UPDATE pending_actions
		SET status = 'pending'
		WHERE status = 'processing'
			AND (last_attempt_at IS NULL OR last_attempt_at < now() - ($1 * interval '1 second'))
	`, staleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale actions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CompleteAction marks an action successfully applied remotely.
func CompleteAction(ctx context.Context, pool *pgxpool.Pool, actionID string) error {
	if _, err := pool.Exec(ctx, `
		UPDATE pending_actions SET status = 'completed', last_error = '' WHERE id = $1
	`, actionID); err != nil {
		return fmt.Errorf("failed to complete action: %w", err)
	}
	return nil
}

// FailAction marks an action failed and bumps its retry count. Actions that
// exhaust their retries stay visible as failed rather than silently vanishing.
func FailAction(ctx context.Context, pool *pgxpool.Pool, actionID, reason string) error {
	if _, err := pool.Exec(ctx, `
		UPDATE pending_actions
		SET status = 'failed', retry_count = retry_count + 1, last_error = $2
		WHERE id = $1
	`, actionID, reason); err != nil {
		return fmt.Errorf("failed to mark action failed: %w", err)
	}
	return nil
}

// PurgeCompletedActions removes completed actions after a drain pass.
func PurgeCompletedActions(ctx context.Context, pool *pgxpool.Pool) (int64, error) {
	tag, err := pool.Exec(ctx, `DELETE FROM pending_actions WHERE status = 'completed'`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed actions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountActionsByStatus returns how many actions sit in each status.
func CountActionsByStatus(ctx context.Context, pool *pgxpool.Pool) (map[models.ActionStatus]int, error) {
	rows, err := pool.Query(ctx, `
		SELECT status, COUNT(*) FROM pending_actions GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ActionStatus]int)
	for rows.Next() {
		var status models.ActionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action counts: %w", err)
	}

	return counts, nil
}

// GetActionByID returns one pending action.
func GetActionByID(ctx context.Context, pool *pgxpool.Pool, actionID string) (*models.PendingAction, error) {
	var action models.PendingAction

	err := pool.QueryRow(ctx, `
		SELECT id, kind, message_ids, conversation_id, payload, status,
			retry_count, last_attempt_at, last_error, created_at
		FROM pending_actions
		WHERE id = $1
	`, actionID).Scan(
		&action.ID,
		&action.Kind,
		&action.MessageIDs,
		&action.ConversationID,
		&action.Payload,
		&action.Status,
		&action.RetryCount,
		&action.LastAttemptAt,
		&action.LastError,
		&action.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pending action %s not found", actionID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get pending action: %w", err)
	}

	return &action, nil
}
