package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/trader-mirror/internal/errors"
	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/storage"
)

type fakeSource struct {
	ranked   []*models.PerformanceSnapshot
	stats    storage.RankingStats
	account  *models.Account
	snapshot *models.PerformanceSnapshot
	trades   []models.Trade
	equity   []models.EquityHistoryPoint

	rankedCalls int
	statsCalls  int
	tradeCalls  int
}

func (f *fakeSource) ListRanked(ctx context.Context, q storage.RankingQuery) ([]*models.PerformanceSnapshot, error) {
	f.rankedCalls++
	return f.ranked, nil
}

func (f *fakeSource) Stats(ctx context.Context) (*storage.RankingStats, error) {
	f.statsCalls++
	stats := f.stats
	return &stats, nil
}

func (f *fakeSource) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	if f.account == nil {
		return nil, apperrors.NewNotFoundError("account", id)
	}
	return f.account, nil
}

func (f *fakeSource) GetLatestSnapshot(ctx context.Context, accountID string) (*models.PerformanceSnapshot, error) {
	if f.snapshot == nil {
		return nil, apperrors.NewNotFoundError("snapshot", accountID)
	}
	return f.snapshot, nil
}

func (f *fakeSource) GetTrades(ctx context.Context, accountID string, limit, offset int) ([]models.Trade, error) {
	f.tradeCalls++
	return f.trades, nil
}

func (f *fakeSource) GetEquityHistory(ctx context.Context, accountID string, days int) ([]models.EquityHistoryPoint, error) {
	return f.equity, nil
}

func newTestService(t *testing.T, source Source) (*Service, *storage.CacheService) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisCache := storage.NewRedisCacheFromClient(client)
	t.Cleanup(func() { _ = redisCache.Close() })

	cache := storage.NewCacheService(redisCache, 15*time.Minute, 5*time.Minute)
	svc, err := NewService(source, cache, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, cache
}

func TestGetRankingReadsThroughCache(t *testing.T) {
	score := 91.5
	source := &fakeSource{
		ranked: []*models.PerformanceSnapshot{
			{AccountID: "acct-1", CompositeScore: &score},
		},
	}
	svc, _ := newTestService(t, source)
	ctx := context.Background()

	q := storage.RankingQuery{Sort: storage.SortScore, Limit: DefaultPageSize}

	first, err := svc.GetRanking(ctx, q)
	if err != nil {
		t.Fatalf("GetRanking() error = %v", err)
	}
	second, err := svc.GetRanking(ctx, q)
	if err != nil {
		t.Fatalf("GetRanking() error = %v", err)
	}

	if source.rankedCalls != 1 {
		t.Errorf("source hits = %d, want 1 (second read from cache)", source.rankedCalls)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("page sizes = %d/%d, want 1/1", len(first), len(second))
	}
	if second[0].AccountID != "acct-1" || *second[0].CompositeScore != 91.5 {
		t.Errorf("cached row = %+v, want acct-1 @ 91.5", second[0])
	}
}

func TestGetRankingDeepPagesBypassCache(t *testing.T) {
	source := &fakeSource{}
	svc, _ := newTestService(t, source)
	ctx := context.Background()

	q := storage.RankingQuery{Sort: storage.SortScore, Limit: DefaultPageSize, Offset: 200}
	for i := 0; i < 2; i++ {
		if _, err := svc.GetRanking(ctx, q); err != nil {
			t.Fatalf("GetRanking() error = %v", err)
		}
	}

	if source.rankedCalls != 2 {
		t.Errorf("source hits = %d, want 2 for offset pages", source.rankedCalls)
	}
}

func TestGetStatsCaches(t *testing.T) {
	source := &fakeSource{stats: storage.RankingStats{AccountCount: 42}}
	svc, _ := newTestService(t, source)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		stats, err := svc.GetStats(ctx)
		if err != nil {
			t.Fatalf("GetStats() error = %v", err)
		}
		if stats.AccountCount != 42 {
			t.Errorf("AccountCount = %d, want 42", stats.AccountCount)
		}
	}

	if source.statsCalls != 1 {
		t.Errorf("source hits = %d, want 1", source.statsCalls)
	}
}

func TestGetProfileWithoutSnapshot(t *testing.T) {
	source := &fakeSource{
		account: &models.Account{ID: "acct-1", Active: true, SyncTier: 5},
	}
	svc, _ := newTestService(t, source)

	profile, err := svc.GetProfile(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if profile.Account.ID != "acct-1" {
		t.Errorf("account id = %q, want acct-1", profile.Account.ID)
	}
	if profile.Snapshot != nil {
		t.Errorf("snapshot = %+v, want nil before first sync", profile.Snapshot)
	}
}

func TestGetProfileUnknownAccount(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{})

	_, err := svc.GetProfile(context.Background(), "acct-missing")
	if err == nil {
		t.Fatal("GetProfile() error = nil, want not found")
	}
	if apperrors.HTTPStatus(err) != 404 {
		t.Errorf("HTTPStatus() = %d, want 404", apperrors.HTTPStatus(err))
	}
}

func TestGetTradesCachesPerPage(t *testing.T) {
	source := &fakeSource{
		trades: []models.Trade{{AccountID: "acct-1", OrderID: "ord-1", Symbol: "AAPL"}},
	}
	svc, _ := newTestService(t, source)
	ctx := context.Background()

	if _, err := svc.GetTrades(ctx, "acct-1", 50, 0); err != nil {
		t.Fatalf("GetTrades() error = %v", err)
	}
	if _, err := svc.GetTrades(ctx, "acct-1", 50, 0); err != nil {
		t.Fatalf("GetTrades() error = %v", err)
	}
	if source.tradeCalls != 1 {
		t.Errorf("source hits = %d, want 1 for the same page", source.tradeCalls)
	}

	if _, err := svc.GetTrades(ctx, "acct-1", 50, 50); err != nil {
		t.Fatalf("GetTrades() error = %v", err)
	}
	if source.tradeCalls != 2 {
		t.Errorf("source hits = %d, want 2 after a different page", source.tradeCalls)
	}
}

func TestWarmDefaultsPopulatesCache(t *testing.T) {
	source := &fakeSource{
		ranked: []*models.PerformanceSnapshot{{AccountID: "acct-1"}},
		stats:  storage.RankingStats{AccountCount: 7},
	}
	svc, cache := newTestService(t, source)
	ctx := context.Background()

	if err := svc.WarmDefaults(ctx); err != nil {
		t.Fatalf("WarmDefaults() error = %v", err)
	}

	var page []*models.PerformanceSnapshot
	found, err := cache.Get(ctx, cache.RankingKey(storage.SortScore, "", 0), &page)
	if err != nil {
		t.Fatalf("cache Get() error = %v", err)
	}
	if !found {
		t.Error("default ranking page was not warmed")
	}

	var stats storage.RankingStats
	found, err = cache.Get(ctx, cache.StatsKey(), &stats)
	if err != nil {
		t.Fatalf("cache Get() error = %v", err)
	}
	if !found {
		t.Error("stats view was not warmed")
	}
}
