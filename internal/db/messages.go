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

// ErrMessageNotFound is returned when a requested message cannot be found.
var ErrMessageNotFound = errors.New("message not found")

// UpsertMessage inserts a message or refreshes its mutable fields (unread and
// starred flags, inbox membership, label set, snippet). Immutable fields are
// only written on first insert, so re-syncing the same remote message is a
// no-op for them. Returns true when a new row was inserted.
func UpsertMessage(ctx context.Context, pool *pgxpool.Pool, message *models.Message) (bool, error) {
	var inserted bool

	err := pool.QueryRow(ctx, `
		INSERT INTO messages (
			remote_id,
			conversation_id,
			remote_thread_id,
			sent_at,
			subject,
			from_address,
			snippet,
			is_unread,
			is_starred,
			in_inbox,
			label_ids,
			body_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (remote_id) DO UPDATE SET
			is_unread  = EXCLUDED.is_unread,
			is_starred = EXCLUDED.is_starred,
			in_inbox   = EXCLUDED.in_inbox,
			label_ids  = EXCLUDED.label_ids,
			snippet    = EXCLUDED.snippet
		RETURNING id, conversation_id, created_at, (xmax = 0)
	`,
		message.RemoteID,
		message.ConversationID,
		message.RemoteThreadID,
		message.SentAt,
		message.Subject,
		message.FromAddress,
		message.Snippet,
		message.IsUnread,
		message.IsStarred,
		message.InInbox,
		message.LabelIDs,
		message.BodyRef,
	).Scan(&message.ID, &message.ConversationID, &message.CreatedAt, &inserted)

	if err != nil {
		return false, fmt.Errorf("failed to upsert message: %w", err)
	}

	return inserted, nil
}

// GetMessageByRemoteID returns a message by the remote store's id.
func GetMessageByRemoteID(ctx context.Context, pool *pgxpool.Pool, remoteID string) (*models.Message, error) {
	var msg models.Message

	err := pool.QueryRow(ctx, `
		SELECT id, remote_id, conversation_id, remote_thread_id, sent_at, subject,
			from_address, snippet, is_unread, is_starred, in_inbox, label_ids,
			body_ref, locally_modified_at, created_at
		FROM messages
		WHERE remote_id = $1
	`, remoteID).Scan(
		&msg.ID,
		&msg.RemoteID,
		&msg.ConversationID,
		&msg.RemoteThreadID,
		&msg.SentAt,
		&msg.Subject,
		&msg.FromAddress,
		&msg.Snippet,
		&msg.IsUnread,
		&msg.IsStarred,
		&msg.InInbox,
		&msg.LabelIDs,
		&msg.BodyRef,
		&msg.LocallyModifiedAt,
		&msg.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &msg, nil
}

// GetMessagesForConversation returns all messages of a conversation ordered by time.
func GetMessagesForConversation(ctx context.Context, pool *pgxpool.Pool, conversationID string) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, remote_id, conversation_id, remote_thread_id, sent_at, subject,
			from_address, snippet, is_unread, is_starred, in_inbox, label_ids,
			body_ref, locally_modified_at, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at NULLS LAST
	`, conversationID)

	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ApplyLabelState overwrites a message's label set and the state derived from
// it. The conversation id of the affected message is returned so the caller
// can report it to the modification tracker.
func ApplyLabelState(ctx context.Context, pool *pgxpool.Pool, remoteID string, labelIDs []string, isUnread, isStarred, inInbox bool) (string, error) {
	var conversationID string

	err := pool.QueryRow(ctx, `
		UPDATE messages
		SET label_ids = $2, is_unread = $3, is_starred = $4, in_inbox = $5
		WHERE remote_id = $1
		RETURNING conversation_id
	`, remoteID, labelIDs, isUnread, isStarred, inInbox).Scan(&conversationID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrMessageNotFound
	}

	if err != nil {
		return "", fmt.Errorf("failed to apply label state: %w", err)
	}

	return conversationID, nil
}

// DeleteMessageByRemoteID deletes a message, returning the conversation it
// belonged to (empty when the message was never synced).
func DeleteMessageByRemoteID(ctx context.Context, pool *pgxpool.Pool, remoteID string) (string, error) {
	var conversationID string

	err := pool.QueryRow(ctx, `
		DELETE FROM messages WHERE remote_id = $1 RETURNING conversation_id
	`, remoteID).Scan(&conversationID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to delete message: %w", err)
	}

	return conversationID, nil
}

// ListRemoteIDsSince returns the remote ids of all local messages with a sent
// time at or after the boundary. Used by missed-message reconciliation.
func ListRemoteIDsSince(ctx context.Context, pool *pgxpool.Pool, since time.Time) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `
		SELECT remote_id FROM messages WHERE sent_at >= $1
	`, since)

	if err != nil {
		return nil, fmt.Errorf("failed to list remote ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan remote id: %w", err)
		}
		ids[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating remote ids: %w", err)
	}

	return ids, nil
}

// ListMessagesSince returns messages with a sent time at or after the boundary,
// for label reconciliation over a bounded recent window.
func ListMessagesSince(ctx context.Context, pool *pgxpool.Pool, since time.Time) ([]*models.Message, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, remote_id, conversation_id, remote_thread_id, sent_at, subject,
			from_address, snippet, is_unread, is_starred, in_inbox, label_ids,
			body_ref, locally_modified_at, created_at
		FROM messages
		WHERE sent_at >= $1
		ORDER BY sent_at
	`, since)

	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MarkLocallyModified stamps messages as carrying a not-yet-synced local
// intent; ClearLocallyModified removes the stamp once the intent is confirmed.
func MarkLocallyModified(ctx context.Context, pool *pgxpool.Pool, remoteIDs []string) error {
	if len(remoteIDs) == 0 {
		return nil
	}
	if _, err := pool.Exec(ctx, `
		UPDATE messages SET locally_modified_at = now() WHERE remote_id = ANY($1)
	`, remoteIDs); err != nil {
		return fmt.Errorf("failed to mark messages locally modified: %w", err)
	}
	return nil
}

func ClearLocallyModified(ctx context.Context, pool *pgxpool.Pool, remoteIDs []string) error {
	if len(remoteIDs) == 0 {
		return nil
	}
	if _, err := pool.Exec(ctx, `
		UPDATE messages SET locally_modified_at = NULL WHERE remote_id = ANY($1)
	`, remoteIDs); err != nil {
		return fmt.Errorf("failed to clear locally modified marker: %w", err)
	}
	return nil
}

// ReassignMessages moves all messages of one conversation to another. Used by
// the duplicate resolver when absorbing a loser into the winner.
func ReassignMessages(ctx context.Context, pool *pgxpool.Pool, fromConversationID, toConversationID string) error {
	if _, err := pool.Exec(ctx, `
		UPDATE messages SET conversation_id = $2 WHERE conversation_id = $1
	`, fromConversationID, toConversationID); err != nil {
		return fmt.Errorf("failed to reassign messages: %w", err)
	}
	return nil
}

func scanMessages(rows pgx.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.RemoteID,
			&msg.ConversationID,
			&msg.RemoteThreadID,
			&msg.SentAt,
			&msg.Subject,
			&msg.FromAddress,
			&msg.Snippet,
			&msg.IsUnread,
			&msg.IsStarred,
			&msg.InInbox,
			&msg.LabelIDs,
			&msg.BodyRef,
			&msg.LocallyModifiedAt,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}
