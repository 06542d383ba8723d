// Package ratelimit coordinates the shared brokerage request quota across
// worker processes through Redis. The local rate.Limiter in the broker
// client shapes per-process bursts; this budget keeps the fleet as a whole
// under the provider's ceiling.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults applied by NewBudget.
const (
	DefaultRequestsPerWindow = 200
	DefaultWindow            = time.Second
)

const keyPrefix = "broker:budget:"

// acquireScript is an atomic check-and-increment over the window counter.
// Incrementing only inside the budget keeps a rejected caller from eating
// into the window it was rejected from.
var acquireScript = redis.NewScript(`
	local key = KEYS[1]
	local n = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + n > limit then
		return 0
	end

	redis.call('INCRBY', key, n)
	redis.call('EXPIRE', key, ttl)
	return 1
`)

// Budget is a fixed-window request budget shared by every process that
// talks to the brokerage API.
type Budget struct {
	redis  redis.Cmdable
	limit  int
	window time.Duration
	keyTTL time.Duration
}

// BudgetConfig holds configuration for the shared budget.
type BudgetConfig struct {
	// Redis coordinates consumption across processes. Required.
	Redis redis.Cmdable

	// RequestsPerWindow is the fleet-wide request ceiling per window.
	RequestsPerWindow int

	// Window is the budget window. Default one second.
	Window time.Duration
}

// Usage is a point-in-time view of the current window.
type Usage struct {
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	WindowStart time.Time `json:"windowStart"`
}

// NewBudget creates a shared budget.
func NewBudget(cfg *BudgetConfig) (*Budget, error) {
	if cfg == nil || cfg.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.RequestsPerWindow < 0 {
		return nil, fmt.Errorf("requests per window cannot be negative, got %d", cfg.RequestsPerWindow)
	}

	limit := cfg.RequestsPerWindow
	if limit == 0 {
		limit = DefaultRequestsPerWindow
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}

	return &Budget{
		redis:  cfg.Redis,
		limit:  limit,
		window: window,
		// Window plus buffer, so a straggling counter expires on its own.
		keyTTL: window + window,
	}, nil
}

func (b *Budget) windowStart() int64 {
	return time.Now().Truncate(b.window).UnixMilli()
}

func (b *Budget) key(windowTS int64) string {
	return keyPrefix + strconv.FormatInt(windowTS, 10)
}

// TryAcquire attempts to take n requests from the current window. When the
// budget is exhausted it returns false and the time until the next window
// opens. A Redis failure denies the request; an uncoordinated fleet
// overrunning the provider is the worse failure mode.
func (b *Budget) TryAcquire(ctx context.Context, n int) (bool, time.Duration) {
	if n <= 0 {
		return true, 0
	}

	windowTS := b.windowStart()
	ttlSeconds := int(b.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := acquireScript.Run(ctx, b.redis, []string{b.key(windowTS)}, n, b.limit, ttlSeconds).Int64()
	if err != nil || result != 1 {
		return false, b.nextWindow(windowTS)
	}

	return true, 0
}

// Wait blocks until one request fits in the budget or the context ends.
func (b *Budget) Wait(ctx context.Context) error {
	for {
		ok, retryIn := b.TryAcquire(ctx, 1)
		if ok {
			return nil
		}

		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// nextWindow returns the time until the following window starts.
func (b *Budget) nextWindow(windowTS int64) time.Duration {
	end := time.UnixMilli(windowTS).Add(b.window)
	wait := time.Until(end)
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// GetUsage reports consumption in the current window.
func (b *Budget) GetUsage(ctx context.Context) (*Usage, error) {
	windowTS := b.windowStart()

	used, err := b.redis.Get(ctx, b.key(windowTS)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read budget usage: %w", err)
	}

	return &Usage{
		Used:        used,
		Limit:       b.limit,
		WindowStart: time.UnixMilli(windowTS),
	}, nil
}

// Limit returns the configured per-window ceiling.
func (b *Budget) Limit() int {
	return b.limit
}
