package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/models"
)

// UpsertAttachment saves attachment metadata, refreshing it on re-sync.
func UpsertAttachment(ctx context.Context, pool *pgxpool.Pool, attachment *models.Attachment) error {
	err := pool.QueryRow(ctx, `
		INSERT INTO attachments (message_id, remote_attachment_id, filename, mime_type, size_bytes, is_inline)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id, remote_attachment_id) DO UPDATE SET
			filename   = EXCLUDED.filename,
			mime_type  = EXCLUDED.mime_type,
			size_bytes = EXCLUDED.size_bytes,
			is_inline  = EXCLUDED.is_inline
		RETURNING id
	`,
		attachment.MessageID,
		attachment.RemoteAttachmentID,
		attachment.Filename,
		attachment.MimeType,
		attachment.SizeBytes,
		attachment.IsInline,
	).Scan(&attachment.ID)

	if err != nil {
		return fmt.Errorf("failed to upsert attachment: %w", err)
	}

	return nil
}

// GetAttachmentsForMessage returns all attachments for a message.
func GetAttachmentsForMessage(ctx context.Context, pool *pgxpool.Pool, messageID string) ([]*models.Attachment, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, message_id, remote_attachment_id, filename, mime_type, size_bytes, is_inline
		FROM attachments
		WHERE message_id = $1
	`, messageID)

	if err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*models.Attachment
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(
			&att.ID,
			&att.MessageID,
			&att.RemoteAttachmentID,
			&att.Filename,
			&att.MimeType,
			&att.SizeBytes,
			&att.IsInline,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, &att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attachments: %w", err)
	}

	return attachments, nil
}
