package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/models"
)

// UpsertParticipants inserts participant records for a message, skipping ones
// already present. The addresses of newly inserted rows are returned so the
// caller can dispatch contact prefetch only for participants it has not seen.
func UpsertParticipants(ctx context.Context, pool *pgxpool.Pool, participants []models.Participant) ([]string, error) {
	if len(participants) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, p := range participants {
		batch.Queue(`
			INSERT INTO participants (message_id, address, display_name, role)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, address, role) DO NOTHING
			RETURNING address
		`, p.MessageID, p.Address, p.DisplayName, p.Role)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted []string
	for range participants {
		var address string
		err := results.QueryRow().Scan(&address)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to upsert participant: %w", err)
		}
		inserted = append(inserted, address)
	}

	return inserted, nil
}

// GetParticipantsForMessage returns all participants of a message.
func GetParticipantsForMessage(ctx context.Context, pool *pgxpool.Pool, messageID string) ([]*models.Participant, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, message_id, address, display_name, role
		FROM participants
		WHERE message_id = $1
		ORDER BY role, address
	`, messageID)

	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.MessageID, &p.Address, &p.DisplayName, &p.Role); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}

	return participants, nil
}
