package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/models"
)

// UpsertLabels refreshes the local label catalog from remote metadata.
func UpsertLabels(ctx context.Context, pool *pgxpool.Pool, labels []models.Label) error {
	if len(labels) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, l := range labels {
		batch.Queue(`
			INSERT INTO labels (id, name, kind)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, kind = EXCLUDED.kind
		`, l.ID, l.Name, l.Kind)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range labels {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert label: %w", err)
		}
	}

	return nil
}

// GetLabels returns the local label catalog keyed by label id.
func GetLabels(ctx context.Context, pool *pgxpool.Pool) (map[string]models.Label, error) {
	rows, err := pool.Query(ctx, `SELECT id, name, kind FROM labels`)
	if err != nil {
		return nil, fmt.Errorf("failed to get labels: %w", err)
	}
	defer rows.Close()

	labels := make(map[string]models.Label)
	for rows.Next() {
		var l models.Label
		if err := rows.Scan(&l.ID, &l.Name, &l.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels[l.ID] = l
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating labels: %w", err)
	}

	return labels, nil
}
