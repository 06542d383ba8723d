package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/trader-mirror/internal/errors"
	"github.com/trader-mirror/internal/models"
)

// Sort keys accepted by ListRanked.
const (
	SortScore    = "score"
	SortPL       = "pl"
	SortPLPct    = "pl_pct"
	SortSharpe   = "sharpe"
	SortWinRate  = "win_rate"
	SortDrawdown = "drawdown"
	SortTrades   = "trades"
)

// RankingQuery describes one leaderboard page request
type RankingQuery struct {
	Sort        string
	Direction   string // "asc" or "desc"
	MinActivity int64  // minimum cumulative trade count
	Limit       int
	Offset      int
}

// RankingStats summarizes the scored population
type RankingStats struct {
	AccountCount int64    `json:"accountCount"`
	ScoredCount  int64    `json:"scoredCount"`
	TotalEquity  float64  `json:"totalEquity"`
	AvgScore     *float64 `json:"avgScore,omitempty"`
	TopScore     *float64 `json:"topScore,omitempty"`
	AvgPLPct     *float64 `json:"avgPlPct,omitempty"`
}

const snapshotColumns = `id, account_id, equity, cash, total_deposits, total_pl,
	   total_pl_pct, unrealized_pl, realized_pl, day_pl, trade_count,
	   winning_days, win_rate, max_drawdown_pct, sharpe_ratio,
	   open_positions, composite_score, created_at`

// sortColumns maps sort keys to order expressions. NULL metrics are ranked
// through sentinels so unscored accounts always sink to the bottom of a
// descending sort.
var sortColumns = map[string]string{
	SortScore:    "COALESCE(s.composite_score, -1)",
	SortPL:       "s.total_pl",
	SortPLPct:    "s.total_pl_pct",
	SortSharpe:   "COALESCE(s.sharpe_ratio, -1e9)",
	SortWinRate:  "COALESCE(s.win_rate, -1)",
	SortDrawdown: "s.max_drawdown_pct",
	SortTrades:   "s.trade_count",
}

// SnapshotRepository handles performance snapshot persistence
type SnapshotRepository struct {
	db *PostgresDB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *PostgresDB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func scanSnapshot(row pgx.Row) (*models.PerformanceSnapshot, error) {
	var s models.PerformanceSnapshot
	err := row.Scan(
		&s.ID,
		&s.AccountID,
		&s.Equity,
		&s.Cash,
		&s.TotalDeposits,
		&s.TotalPL,
		&s.TotalPLPct,
		&s.UnrealizedPL,
		&s.RealizedPL,
		&s.DayPL,
		&s.TradeCount,
		&s.WinningDays,
		&s.WinRate,
		&s.MaxDrawdownPct,
		&s.SharpeRatio,
		&s.OpenPositions,
		&s.CompositeScore,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetLatest retrieves the most recent snapshot for an account
func (r *SnapshotRepository) GetLatest(ctx context.Context, accountID string) (*models.PerformanceSnapshot, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM performance_snapshots
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, snapshotColumns)

	snapshot, err := scanSnapshot(r.db.Pool().QueryRow(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("snapshot", accountID)
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return snapshot, nil
}

// ListLatest retrieves the latest snapshot of every active account. This is
// the scoring input set for a reconciliation cycle.
func (r *SnapshotRepository) ListLatest(ctx context.Context) ([]*models.PerformanceSnapshot, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (s.account_id) %s
		FROM performance_snapshots s
		JOIN accounts a ON a.id = s.account_id
		WHERE a.active = true
		ORDER BY s.account_id, s.created_at DESC, s.id DESC
	`, "s.id, s.account_id, s.equity, s.cash, s.total_deposits, s.total_pl, s.total_pl_pct, s.unrealized_pl, s.realized_pl, s.day_pl, s.trade_count, s.winning_days, s.win_rate, s.max_drawdown_pct, s.sharpe_ratio, s.open_positions, s.composite_score, s.created_at")

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.PerformanceSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// UpdateScore writes a computed composite score back to a snapshot row.
// A nil score clears any stale value from a previous cycle.
func (r *SnapshotRepository) UpdateScore(ctx context.Context, snapshotID int64, score *float64) error {
	query := `UPDATE performance_snapshots SET composite_score = $2 WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, snapshotID, score)
	if err != nil {
		return fmt.Errorf("failed to update composite score: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("snapshot", fmt.Sprintf("%d", snapshotID))
	}

	return nil
}

// PruneOld deletes every snapshot except the newest one per account.
// Runs after scoring so the ranked row is never the one removed.
func (r *SnapshotRepository) PruneOld(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM performance_snapshots s
		WHERE s.id NOT IN (
			SELECT DISTINCT ON (account_id) id
			FROM performance_snapshots
			ORDER BY account_id, created_at DESC, id DESC
		)
	`

	result, err := r.db.Pool().Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	return result.RowsAffected(), nil
}

// ListRanked retrieves one leaderboard page. The primary sort column is
// caller-chosen; ties always fall through the same cascade so pagination
// is stable across requests.
func (r *SnapshotRepository) ListRanked(ctx context.Context, q RankingQuery) ([]*models.PerformanceSnapshot, error) {
	column, ok := sortColumns[q.Sort]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown sort key %q", q.Sort))
	}

	direction := "DESC"
	switch q.Direction {
	case "", "desc":
	case "asc":
		direction = "ASC"
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown sort direction %q", q.Direction))
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT ON (s.account_id) %s
		FROM performance_snapshots s
		JOIN accounts a ON a.id = s.account_id
		WHERE a.active = true AND s.trade_count >= $1
		ORDER BY s.account_id, s.created_at DESC, s.id DESC
	`, "s.id, s.account_id, s.equity, s.cash, s.total_deposits, s.total_pl, s.total_pl_pct, s.unrealized_pl, s.realized_pl, s.day_pl, s.trade_count, s.winning_days, s.win_rate, s.max_drawdown_pct, s.sharpe_ratio, s.open_positions, s.composite_score, s.created_at")

	query = fmt.Sprintf(`
		SELECT * FROM (%s) s
		ORDER BY %s %s,
			COALESCE(s.composite_score, -1) DESC,
			s.total_pl DESC,
			s.total_pl_pct DESC,
			COALESCE(s.sharpe_ratio, -1e9) DESC,
			COALESCE(s.win_rate, -1) DESC,
			s.max_drawdown_pct ASC,
			s.trade_count DESC,
			s.account_id ASC
		LIMIT $2 OFFSET $3
	`, query, column, direction)

	rows, err := r.db.Pool().Query(ctx, query, q.MinActivity, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranked snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.PerformanceSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ranked snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ranked snapshots: %w", err)
	}

	return snapshots, nil
}

// Stats aggregates the latest snapshots of all active accounts
func (r *SnapshotRepository) Stats(ctx context.Context) (*RankingStats, error) {
	query := `
		SELECT COUNT(*),
			   COUNT(s.composite_score),
			   COALESCE(SUM(s.equity), 0),
			   AVG(s.composite_score),
			   MAX(s.composite_score),
			   AVG(s.total_pl_pct)
		FROM (
			SELECT DISTINCT ON (account_id) *
			FROM performance_snapshots
			ORDER BY account_id, created_at DESC, id DESC
		) s
		JOIN accounts a ON a.id = s.account_id
		WHERE a.active = true
	`

	var stats RankingStats
	err := r.db.Pool().QueryRow(ctx, query).Scan(
		&stats.AccountCount,
		&stats.ScoredCount,
		&stats.TotalEquity,
		&stats.AvgScore,
		&stats.TopScore,
		&stats.AvgPLPct,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ranking stats: %w", err)
	}

	return &stats, nil
}
