package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/trader-mirror/internal/models"
)

// HistoryRepository reads the bounded per-account equity and trade series.
// Writes go through SyncStore so they stay atomic with the rest of a sync.
type HistoryRepository struct {
	db *PostgresDB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *PostgresDB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// GetEquityHistory retrieves equity points for an account over the trailing
// window, oldest first.
func (r *HistoryRepository) GetEquityHistory(ctx context.Context, accountID string, days int) ([]models.EquityHistoryPoint, error) {
	query := `
		SELECT account_id, ts, equity, pl, pl_pct
		FROM equity_history
		WHERE account_id = $1 AND ts >= $2
		ORDER BY ts ASC
	`

	since := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := r.db.Pool().Query(ctx, query, accountID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get equity history: %w", err)
	}
	defer rows.Close()

	var points []models.EquityHistoryPoint
	for rows.Next() {
		var p models.EquityHistoryPoint
		if err := rows.Scan(&p.AccountID, &p.Timestamp, &p.Equity, &p.PL, &p.PLPct); err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equity history: %w", err)
	}

	return points, nil
}

// GetTrades retrieves recent trades for an account, newest first
func (r *HistoryRepository) GetTrades(ctx context.Context, accountID string, limit, offset int) ([]models.Trade, error) {
	query := `
		SELECT account_id, order_id, symbol, side, qty, price, filled_at
		FROM trades
		WHERE account_id = $1
		ORDER BY filled_at DESC, order_id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.AccountID, &t.OrderID, &t.Symbol, &t.Side, &t.Qty, &t.Price, &t.FilledAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}
