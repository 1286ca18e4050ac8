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

// ErrConversationNotFound is returned when a requested conversation cannot be found.
var ErrConversationNotFound = errors.New("conversation not found")

// GetOrCreateConversation finds the conversation for an identity hash, creating
// it if absent. Exactly one conversation exists per identity hash; concurrent
// callers race safely on the unique constraint.
func GetOrCreateConversation(ctx context.Context, pool *pgxpool.Pool, conversation *models.Conversation) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO conversations (identity_hash, identity_kind, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_hash) DO UPDATE SET
			identity_kind = EXCLUDED.identity_kind
		RETURNING id, display_name, snippet, last_message_at, unread_count,
			pinned, muted, hidden, archived, archived_at, created_at
	`, conversation.IdentityHash, conversation.IdentityKind, conversation.DisplayName).Scan(
		&conversation.ID,
		&conversation.DisplayName,
		&conversation.Snippet,
		&conversation.LastMessageAt,
		&conversation.UnreadCount,
		&conversation.Pinned,
		&conversation.Muted,
		&conversation.Hidden,
		&conversation.Archived,
		&conversation.ArchivedAt,
		&conversation.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to get or create conversation: %w", err)
	}

	return nil
}

// GetConversationByID returns a conversation by its database ID.
func GetConversationByID(ctx context.Context, pool *pgxpool.Pool, id string) (*models.Conversation, error) {
	var c models.Conversation

	err := pool.QueryRow(ctx, `
		SELECT id, identity_hash, identity_kind, display_name, snippet, last_message_at,
			unread_count, pinned, muted, hidden, archived, archived_at, created_at
		FROM conversations
		WHERE id = $1
	`, id).Scan(
		&c.ID,
		&c.IdentityHash,
		&c.IdentityKind,
		&c.DisplayName,
		&c.Snippet,
		&c.LastMessageAt,
		&c.UnreadCount,
		&c.Pinned,
		&c.Muted,
		&c.Hidden,
		&c.Archived,
		&c.ArchivedAt,
		&c.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &c, nil
}

// ListConversations returns all conversations ordered by last message time.
func ListConversations(ctx context.Context, pool *pgxpool.Pool) ([]*models.Conversation, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, identity_hash, identity_kind, display_name, snippet, last_message_at,
			unread_count, pinned, muted, hidden, archived, archived_at, created_at
		FROM conversations
		ORDER BY last_message_at DESC NULLS LAST
	`)

	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(
			&c.ID,
			&c.IdentityHash,
			&c.IdentityKind,
			&c.DisplayName,
			&c.Snippet,
			&c.LastMessageAt,
			&c.UnreadCount,
			&c.Pinned,
			&c.Muted,
			&c.Hidden,
			&c.Archived,
			&c.ArchivedAt,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return conversations, nil
}

// ListVisibleConversations returns a page of the inbox view: hidden and
// archived conversations are excluded, pinned ones sort first.
func ListVisibleConversations(ctx context.Context, pool *pgxpool.Pool, limit, offset int) ([]*models.Conversation, int, error) {
	var total int
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversations WHERE NOT hidden AND NOT archived
	`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT id, identity_hash, identity_kind, display_name, snippet, last_message_at,
			unread_count, pinned, muted, hidden, archived, archived_at, created_at
		FROM conversations
		WHERE NOT hidden AND NOT archived
		ORDER BY pinned DESC, last_message_at DESC NULLS LAST
		LIMIT $1 OFFSET $2
	`, limit, offset)

	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(
			&c.ID,
			&c.IdentityHash,
			&c.IdentityKind,
			&c.DisplayName,
			&c.Snippet,
			&c.LastMessageAt,
			&c.UnreadCount,
			&c.Pinned,
			&c.Muted,
			&c.Hidden,
			&c.Archived,
			&c.ArchivedAt,
			&c.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating conversations: %w", err)
	}

	return conversations, total, nil
}

// TouchConversationPreview bumps the rollup timestamp and snippet if the given
// message time is newer than what the conversation currently shows.
func TouchConversationPreview(ctx context.Context, pool *pgxpool.Pool, conversationID, snippet string, sentAt time.Time) error {
	_, err := pool.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = $2, snippet = $3
		WHERE id = $1 AND (last_message_at IS NULL OR last_message_at < $2)
	`, conversationID, sentAt, snippet)

	if err != nil {
		return fmt.Errorf("failed to touch conversation preview: %w", err)
	}

	return nil
}

// ConversationFlags is the set of user-settable conversation flags.
type ConversationFlags struct {
	Pinned   *bool
	Muted    *bool
	Hidden   *bool
	Archived *bool
}

// SetConversationFlags updates the provided flags, leaving nil ones untouched.
// Archiving stamps archived_at; unarchiving clears it.
func SetConversationFlags(ctx context.Context, pool *pgxpool.Pool, conversationID string, flags ConversationFlags) error {
	tag, err := pool.Exec(ctx, `
		UPDATE conversations
		SET pinned   = COALESCE($2, pinned),
			muted    = COALESCE($3, muted),
			hidden   = COALESCE($4, hidden),
			archived = COALESCE($5, archived),
			archived_at = CASE
				WHEN $5 IS TRUE AND NOT archived THEN now()
				WHEN $5 IS FALSE THEN NULL
				ELSE archived_at
			END
		WHERE id = $1
	`, conversationID, flags.Pinned, flags.Muted, flags.Hidden, flags.Archived)

	if err != nil {
		return fmt.Errorf("failed to set conversation flags: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}

	return nil
}

// UpdateConversationIdentity rewrites a conversation's identity key after the
// key derivation corrected it. The caller must have already absorbed any other
// conversation holding the new hash, or the unique constraint fires.
func UpdateConversationIdentity(ctx context.Context, pool *pgxpool.Pool, conversationID, identityHash string, kind models.IdentityKind, displayName string) error {
	tag, err := pool.Exec(ctx, `
		UPDATE conversations
		SET identity_hash = $2, identity_kind = $3, display_name = $4
		WHERE id = $1
	`, conversationID, identityHash, kind, displayName)

	if err != nil {
		return fmt.Errorf("failed to update conversation identity: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}

	return nil
}

// DeleteConversation removes a conversation. Messages still pointing at it are
// removed by the foreign key cascade, so callers must reassign them first.
func DeleteConversation(ctx context.Context, pool *pgxpool.Pool, id string) error {
	if _, err := pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}
