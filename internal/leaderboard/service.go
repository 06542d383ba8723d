// Package leaderboard serves the read side: ranked pages, cohort stats and
// per-account views, all read-through cached.
package leaderboard

import (
	"context"
	"fmt"

	"github.com/trader-mirror/internal/logging"
	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/storage"
)

// Source is the persistence surface behind the read paths
type Source interface {
	ListRanked(ctx context.Context, q storage.RankingQuery) ([]*models.PerformanceSnapshot, error)
	Stats(ctx context.Context) (*storage.RankingStats, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetLatestSnapshot(ctx context.Context, accountID string) (*models.PerformanceSnapshot, error)
	GetTrades(ctx context.Context, accountID string, limit, offset int) ([]models.Trade, error)
	GetEquityHistory(ctx context.Context, accountID string, days int) ([]models.EquityHistoryPoint, error)
}

// Profile is the combined per-account read view
type Profile struct {
	Account  *models.Account             `json:"account"`
	Snapshot *models.PerformanceSnapshot `json:"snapshot,omitempty"`
}

// DefaultPageSize bounds one ranking page
const DefaultPageSize = 100

// Service answers read requests from cache first and falls back to the
// source on a miss. Rankings and stats live under one TTL; account-scoped
// views under another, and both are invalidated by the sync loop and the
// reconciliation cycle.
type Service struct {
	source Source
	cache  *storage.CacheService
	logger *logging.Logger
}

// NewService creates a leaderboard service
func NewService(source Source, cache *storage.CacheService, logger *logging.Logger) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Service{source: source, cache: cache, logger: logger}, nil
}

// GetRanking returns one ranking page. Only the first page of each variant
// is cached; deep pagination goes straight to the source.
func (s *Service) GetRanking(ctx context.Context, q storage.RankingQuery) ([]*models.PerformanceSnapshot, error) {
	if q.Limit <= 0 || q.Limit > DefaultPageSize {
		q.Limit = DefaultPageSize
	}

	cacheable := q.Offset == 0 && q.Limit == DefaultPageSize
	key := s.cache.RankingKey(q.Sort, q.Direction, q.MinActivity)

	if cacheable {
		var cached []*models.PerformanceSnapshot
		found, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.WithError(err).Warn("Ranking cache read failed, falling back to storage")
		} else if found {
			return cached, nil
		}
	}

	snapshots, err := s.source.ListRanked(ctx, q)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.SetRanking(ctx, key, snapshots); err != nil {
			s.logger.WithError(err).Warn("Failed to cache ranking page")
		}
	}

	return snapshots, nil
}

// GetStats returns the aggregate cohort stats
func (s *Service) GetStats(ctx context.Context) (*storage.RankingStats, error) {
	key := s.cache.StatsKey()

	var cached storage.RankingStats
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.WithError(err).Warn("Stats cache read failed, falling back to storage")
	} else if found {
		return &cached, nil
	}

	stats, err := s.source.Stats(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetRanking(ctx, key, stats); err != nil {
		s.logger.WithError(err).Warn("Failed to cache ranking stats")
	}

	return stats, nil
}

// GetProfile returns an account with its latest snapshot. An account that
// has never completed a sync still resolves, with a nil snapshot.
func (s *Service) GetProfile(ctx context.Context, accountID string) (*Profile, error) {
	key := s.cache.ProfileKey(accountID)

	var cached Profile
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.WithError(err).Warn("Profile cache read failed, falling back to storage")
	} else if found {
		return &cached, nil
	}

	account, err := s.source.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	profile := &Profile{Account: account}
	snapshot, err := s.source.GetLatestSnapshot(ctx, accountID)
	if err == nil {
		profile.Snapshot = snapshot
	}

	if err := s.cache.SetAccount(ctx, key, profile); err != nil {
		s.logger.WithError(err).Warn("Failed to cache profile")
	}

	return profile, nil
}

// GetTrades returns one page of an account's recent trades
func (s *Service) GetTrades(ctx context.Context, accountID string, limit, offset int) ([]models.Trade, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	key := s.cache.TradesKey(accountID, limit, offset)

	var cached []models.Trade
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.WithError(err).Warn("Trades cache read failed, falling back to storage")
	} else if found {
		return cached, nil
	}

	trades, err := s.source.GetTrades(ctx, accountID, limit, offset)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetAccount(ctx, key, trades); err != nil {
		s.logger.WithError(err).Warn("Failed to cache trades page")
	}

	return trades, nil
}

// GetEquity returns an account's equity series over the trailing window
func (s *Service) GetEquity(ctx context.Context, accountID string, days int) ([]models.EquityHistoryPoint, error) {
	if days <= 0 || days > 365 {
		days = 365
	}
	key := s.cache.EquityKey(accountID, days)

	var cached []models.EquityHistoryPoint
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.WithError(err).Warn("Equity cache read failed, falling back to storage")
	} else if found {
		return cached, nil
	}

	points, err := s.source.GetEquityHistory(ctx, accountID, days)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetAccount(ctx, key, points); err != nil {
		s.logger.WithError(err).Warn("Failed to cache equity series")
	}

	return points, nil
}

// WarmDefaults pre-builds the views most reads hit: the default ranking
// page and the stats aggregate. Called by the reconciliation cycle right
// after it flushes the ranking keyspace.
func (s *Service) WarmDefaults(ctx context.Context) error {
	if _, err := s.GetRanking(ctx, storage.RankingQuery{
		Sort:  storage.SortScore,
		Limit: DefaultPageSize,
	}); err != nil {
		return fmt.Errorf("failed to warm default ranking: %w", err)
	}
	if _, err := s.GetStats(ctx); err != nil {
		return fmt.Errorf("failed to warm ranking stats: %w", err)
	}
	return nil
}
