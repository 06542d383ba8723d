package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheService provides the read-through cache for leaderboard and account
// reads. Ranking pages expire on their own TTL; account-scoped entries are
// also invalidated explicitly after every successful sync.
type CacheService struct {
	redis      *RedisCache
	rankingTTL time.Duration
	accountTTL time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, rankingTTL, accountTTL time.Duration) *CacheService {
	return &CacheService{
		redis:      redis,
		rankingTTL: rankingTTL,
		accountTTL: accountTTL,
	}
}

// RankingKey builds a key for one ranking page variant
// Format: ranking:<sort>:<direction>:<minActivity>
func (c *CacheService) RankingKey(sort, direction string, minActivity int64) string {
	if direction == "" {
		direction = "desc"
	}
	return fmt.Sprintf("ranking:%s:%s:%d", strings.ToLower(sort), strings.ToLower(direction), minActivity)
}

// StatsKey builds the key for aggregate ranking stats
func (c *CacheService) StatsKey() string {
	return "ranking:stats"
}

// ProfileKey builds the key for an account profile
// Format: account:<id>:profile
func (c *CacheService) ProfileKey(accountID string) string {
	return fmt.Sprintf("account:%s:profile", accountID)
}

// TradesKey builds the key for one page of an account's recent trades
// Format: account:<id>:trades:<limit>:<offset>
func (c *CacheService) TradesKey(accountID string, limit, offset int) string {
	return fmt.Sprintf("account:%s:trades:%d:%d", accountID, limit, offset)
}

// EquityKey builds the key for an account's equity series window
// Format: account:<id>:equity:<days>
func (c *CacheService) EquityKey(accountID string, days int) string {
	return fmt.Sprintf("account:%s:equity:%d", accountID, days)
}

// SetRanking stores a ranking-scoped value with the ranking TTL
func (c *CacheService) SetRanking(ctx context.Context, key string, value interface{}) error {
	return c.set(ctx, key, value, c.rankingTTL)
}

// SetAccount stores an account-scoped value with the account TTL
func (c *CacheService) SetAccount(ctx context.Context, key string, value interface{}) error {
	return c.set(ctx, key, value, c.accountTTL)
}

func (c *CacheService) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cached value: %w", err)
	}
	return c.redis.Set(ctx, key, data, ttl)
}

// Get retrieves a value from cache and deserializes it. A miss is not an
// error; the first return reports whether the key was found.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return true, nil
}

// Invalidate removes one or more keys from cache
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	return c.redis.Delete(ctx, keys...)
}

// InvalidateAccount removes every cached entry scoped to one account
func (c *CacheService) InvalidateAccount(ctx context.Context, accountID string) error {
	pattern := fmt.Sprintf("account:%s:*", accountID)
	if err := c.redis.DeletePattern(ctx, pattern); err != nil {
		return fmt.Errorf("failed to invalidate account cache: %w", err)
	}
	return nil
}

// InvalidateRankings removes all ranking pages and the stats entry. Called
// after a scoring pass so readers never mix old and new ranks.
func (c *CacheService) InvalidateRankings(ctx context.Context) error {
	if err := c.redis.DeletePattern(ctx, "ranking:*"); err != nil {
		return fmt.Errorf("failed to invalidate ranking cache: %w", err)
	}
	return nil
}
