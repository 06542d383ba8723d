package leaderboard

import (
	"context"

	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/storage"
)

// RepoSource adapts the storage repositories to the Source interface
type RepoSource struct {
	accounts  *storage.AccountRepository
	snapshots *storage.SnapshotRepository
	history   *storage.HistoryRepository
}

// NewRepoSource creates a source over the repositories
func NewRepoSource(db *storage.PostgresDB) *RepoSource {
	return &RepoSource{
		accounts:  storage.NewAccountRepository(db),
		snapshots: storage.NewSnapshotRepository(db),
		history:   storage.NewHistoryRepository(db),
	}
}

// ListRanked returns one ranked page
func (r *RepoSource) ListRanked(ctx context.Context, q storage.RankingQuery) ([]*models.PerformanceSnapshot, error) {
	return r.snapshots.ListRanked(ctx, q)
}

// Stats returns the cohort aggregates
func (r *RepoSource) Stats(ctx context.Context) (*storage.RankingStats, error) {
	return r.snapshots.Stats(ctx)
}

// GetAccount retrieves an account
func (r *RepoSource) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return r.accounts.Get(ctx, id)
}

// GetLatestSnapshot retrieves an account's latest snapshot
func (r *RepoSource) GetLatestSnapshot(ctx context.Context, accountID string) (*models.PerformanceSnapshot, error) {
	return r.snapshots.GetLatest(ctx, accountID)
}

// GetTrades retrieves one page of recent trades
func (r *RepoSource) GetTrades(ctx context.Context, accountID string, limit, offset int) ([]models.Trade, error) {
	return r.history.GetTrades(ctx, accountID, limit, offset)
}

// GetEquityHistory retrieves the equity series window
func (r *RepoSource) GetEquityHistory(ctx context.Context, accountID string, days int) ([]models.EquityHistoryPoint, error) {
	return r.history.GetEquityHistory(ctx, accountID, days)
}
