package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/trader-mirror/internal/models"
)

// AnchorRepository handles trade count anchor persistence
type AnchorRepository struct {
	db *PostgresDB
}

// NewAnchorRepository creates a new anchor repository
func NewAnchorRepository(db *PostgresDB) *AnchorRepository {
	return &AnchorRepository{db: db}
}

// Get retrieves the anchor for an account. Returns (nil, nil) when no
// anchor exists yet, which tells the syncer to run a full walk.
func (r *AnchorRepository) Get(ctx context.Context, accountID string) (*models.TradeCountAnchor, error) {
	query := `
		SELECT account_id, total_filled, last_order_id, last_submitted_at
		FROM trade_count_anchors
		WHERE account_id = $1
	`

	var anchor models.TradeCountAnchor
	err := r.db.Pool().QueryRow(ctx, query, accountID).Scan(
		&anchor.AccountID,
		&anchor.TotalFilled,
		&anchor.LastOrderID,
		&anchor.LastSubmittedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get trade count anchor: %w", err)
	}

	return &anchor, nil
}

// Upsert stores or replaces the anchor for an account
func (r *AnchorRepository) Upsert(ctx context.Context, anchor *models.TradeCountAnchor) error {
	query := `
		INSERT INTO trade_count_anchors (account_id, total_filled, last_order_id, last_submitted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id)
		DO UPDATE SET
			total_filled = EXCLUDED.total_filled,
			last_order_id = EXCLUDED.last_order_id,
			last_submitted_at = EXCLUDED.last_submitted_at
	`

	_, err := r.db.Pool().Exec(ctx, query,
		anchor.AccountID,
		anchor.TotalFilled,
		anchor.LastOrderID,
		anchor.LastSubmittedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert trade count anchor: %w", err)
	}

	return nil
}
