package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/models"
)

// GetSyncState returns the durable sync position for an account, or nil if the
// account has never been synced.
func GetSyncState(ctx context.Context, pool *pgxpool.Pool, accountEmail string) (*models.SyncState, error) {
	var state models.SyncState
	var cursor *string

	err := pool.QueryRow(ctx, `
		SELECT account_email, cursor, first_synced_at, last_synced_at
		FROM sync_state
		WHERE account_email = $1
	`, accountEmail).Scan(&state.AccountEmail, &cursor, &state.FirstSyncedAt, &state.LastSyncedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}

	if cursor != nil {
		state.Cursor = *cursor
	}

	return &state, nil
}

// SaveCursor records the new change-log cursor for an account, creating the
// sync-state row on first sync.
func SaveCursor(ctx context.Context, pool *pgxpool.Pool, accountEmail, cursor string) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO sync_state (account_email, cursor, last_synced_at)
		VALUES ($1, $2, now())
		ON CONFLICT (account_email) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			last_synced_at = now()
	`, accountEmail, cursor)

	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}

	return nil
}
