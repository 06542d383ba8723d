package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trader-mirror/internal/models"
)

// SyncResult carries everything one successful sync pass wants to persist.
// ApplySyncResult writes it in a single transaction so readers never see an
// account with a fresh snapshot but a stale trade window, or vice versa.
type SyncResult struct {
	AccountID     string
	AssetClass    models.AssetClass
	SyncedAt      time.Time
	LastTradeAt   *time.Time
	Snapshot      *models.PerformanceSnapshot
	EquityHistory []models.EquityHistoryPoint
	Trades        []models.Trade
	// Anchor is nil when the incremental count failed safe and the stored
	// anchor must stay untouched.
	Anchor *models.TradeCountAnchor
}

// SyncStore applies sync results atomically
type SyncStore struct {
	db *PostgresDB
}

// NewSyncStore creates a new sync store
func NewSyncStore(db *PostgresDB) *SyncStore {
	return &SyncStore{db: db}
}

// ApplySyncResult persists one sync pass. All writes commit together or not
// at all; the equity and trade series are fully replaced rather than merged.
func (s *SyncStore) ApplySyncResult(ctx context.Context, result *SyncResult) error {
	tx, err := s.db.Pool().BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin sync transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	if err := s.insertSnapshot(ctx, tx, result.Snapshot); err != nil {
		return err
	}
	if err := s.replaceEquityHistory(ctx, tx, result.AccountID, result.EquityHistory); err != nil {
		return err
	}
	if err := s.replaceTrades(ctx, tx, result.AccountID, result.Trades); err != nil {
		return err
	}
	if result.Anchor != nil {
		if err := s.upsertAnchor(ctx, tx, result.Anchor); err != nil {
			return err
		}
	}
	if err := s.updateAccount(ctx, tx, result); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit sync transaction: %w", err)
	}

	return nil
}

func (s *SyncStore) insertSnapshot(ctx context.Context, tx pgx.Tx, snapshot *models.PerformanceSnapshot) error {
	query := `
		INSERT INTO performance_snapshots (
			account_id, equity, cash, total_deposits, total_pl, total_pl_pct,
			unrealized_pl, realized_pl, day_pl, trade_count, winning_days,
			win_rate, max_drawdown_pct, sharpe_ratio, open_positions,
			composite_score, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id
	`

	err := tx.QueryRow(ctx, query,
		snapshot.AccountID,
		snapshot.Equity,
		snapshot.Cash,
		snapshot.TotalDeposits,
		snapshot.TotalPL,
		snapshot.TotalPLPct,
		snapshot.UnrealizedPL,
		snapshot.RealizedPL,
		snapshot.DayPL,
		snapshot.TradeCount,
		snapshot.WinningDays,
		snapshot.WinRate,
		snapshot.MaxDrawdownPct,
		snapshot.SharpeRatio,
		snapshot.OpenPositions,
		snapshot.CompositeScore,
		snapshot.CreatedAt,
	).Scan(&snapshot.ID)

	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

func (s *SyncStore) replaceEquityHistory(ctx context.Context, tx pgx.Tx, accountID string, points []models.EquityHistoryPoint) error {
	if _, err := tx.Exec(ctx, `DELETE FROM equity_history WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to clear equity history: %w", err)
	}

	if len(points) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(points))
	for _, p := range points {
		rows = append(rows, []interface{}{accountID, p.Timestamp, p.Equity, p.PL, p.PLPct})
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"equity_history"},
		[]string{"account_id", "ts", "equity", "pl", "pl_pct"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert equity history: %w", err)
	}

	return nil
}

func (s *SyncStore) replaceTrades(ctx context.Context, tx pgx.Tx, accountID string, trades []models.Trade) error {
	if _, err := tx.Exec(ctx, `DELETE FROM trades WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to clear trades: %w", err)
	}

	if len(trades) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, []interface{}{accountID, t.OrderID, t.Symbol, t.Side, t.Qty, t.Price, t.FilledAt})
	}

	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"trades"},
		[]string{"account_id", "order_id", "symbol", "side", "qty", "price", "filled_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trades: %w", err)
	}

	return nil
}

func (s *SyncStore) upsertAnchor(ctx context.Context, tx pgx.Tx, anchor *models.TradeCountAnchor) error {
	query := `
		INSERT INTO trade_count_anchors (account_id, total_filled, last_order_id, last_submitted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id)
		DO UPDATE SET
			total_filled = EXCLUDED.total_filled,
			last_order_id = EXCLUDED.last_order_id,
			last_submitted_at = EXCLUDED.last_submitted_at
	`

	_, err := tx.Exec(ctx, query,
		anchor.AccountID,
		anchor.TotalFilled,
		anchor.LastOrderID,
		anchor.LastSubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert anchor: %w", err)
	}

	return nil
}

func (s *SyncStore) updateAccount(ctx context.Context, tx pgx.Tx, result *SyncResult) error {
	query := `
		UPDATE accounts
		SET asset_class = $2,
			last_synced_at = $3,
			last_trade_at = COALESCE($4, last_trade_at),
			first_failure_at = NULL,
			last_failure_reason = NULL
		WHERE id = $1
	`

	res, err := tx.Exec(ctx, query,
		result.AccountID,
		result.AssetClass,
		result.SyncedAt,
		result.LastTradeAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update account after sync: %w", err)
	}

	if res.RowsAffected() == 0 {
		return fmt.Errorf("account %s vanished during sync", result.AccountID)
	}

	return nil
}
