// Package queue implements the delay-capable sync queue on Redis: a sorted
// set of due times drives delivery, a hash tracks retry attempts, and a
// list collects dead-lettered accounts.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trader-mirror/internal/storage"
)

const (
	scheduleKey   = "sync:schedule"
	attemptsKey   = "sync:attempts"
	deadLetterKey = "sync:deadletter"
)

// popDueScript atomically claims every member of the schedule whose due
// time has passed. Claiming and removal happen in one script so two
// dispatcher instances never deliver the same message.
var popDueScript = redis.NewScript(`
	local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
	for _, member in ipairs(due) do
		redis.call('ZREM', KEYS[1], member)
	end
	return due
`)

// DeadLetter is one dead-lettered sync message
type DeadLetter struct {
	AccountID string    `json:"accountId"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
}

// Scheduler is the Redis-backed schedule. Messages carry only the account
// id; one account holds at most one scheduled slot because ZADD overwrites
// the member's score, so duplicate seeding collapses naturally.
type Scheduler struct {
	redis *storage.RedisCache
}

// NewScheduler creates a scheduler over a Redis connection
func NewScheduler(redis *storage.RedisCache) *Scheduler {
	return &Scheduler{redis: redis}
}

// Schedule enqueues an account to sync after the given delay. Scheduling an
// already-queued account moves its slot rather than duplicating it.
func (s *Scheduler) Schedule(ctx context.Context, accountID string, delay time.Duration) error {
	due := time.Now().Add(delay).UnixMilli()
	err := s.redis.Client().ZAdd(ctx, scheduleKey, redis.Z{
		Score:  float64(due),
		Member: accountID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule account %s: %w", accountID, err)
	}
	return nil
}

// Cancel removes an account's scheduled slot and attempt counter
func (s *Scheduler) Cancel(ctx context.Context, accountID string) error {
	pipe := s.redis.Client().TxPipeline()
	pipe.ZRem(ctx, scheduleKey, accountID)
	pipe.HDel(ctx, attemptsKey, accountID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cancel schedule for account %s: %w", accountID, err)
	}
	return nil
}

// PopDue atomically claims up to limit due messages
func (s *Scheduler) PopDue(ctx context.Context, limit int) ([]string, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	result, err := popDueScript.Run(ctx, s.redis.Client(), []string{scheduleKey}, now, limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to pop due messages: %w", err)
	}
	return result, nil
}

// Pending returns the number of scheduled messages
func (s *Scheduler) Pending(ctx context.Context) (int64, error) {
	count, err := s.redis.Client().ZCard(ctx, scheduleKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count pending messages: %w", err)
	}
	return count, nil
}

// IsScheduled reports whether an account currently holds a slot
func (s *Scheduler) IsScheduled(ctx context.Context, accountID string) (bool, error) {
	_, err := s.redis.Client().ZScore(ctx, scheduleKey, accountID).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to check schedule for account %s: %w", accountID, err)
	}
	return true, nil
}

// IncrAttempts bumps and returns the attempt counter for an account
func (s *Scheduler) IncrAttempts(ctx context.Context, accountID string) (int, error) {
	attempts, err := s.redis.Client().HIncrBy(ctx, attemptsKey, accountID, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts for account %s: %w", accountID, err)
	}
	return int(attempts), nil
}

// ClearAttempts resets the attempt counter after a success
func (s *Scheduler) ClearAttempts(ctx context.Context, accountID string) error {
	if err := s.redis.Client().HDel(ctx, attemptsKey, accountID).Err(); err != nil {
		return fmt.Errorf("failed to clear attempts for account %s: %w", accountID, err)
	}
	return nil
}

// MoveToDeadLetter records an exhausted message and clears its queue state
func (s *Scheduler) MoveToDeadLetter(ctx context.Context, accountID, reason string, attempts int) error {
	entry := DeadLetter{
		AccountID: accountID,
		Reason:    reason,
		Attempts:  attempts,
		At:        time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := s.redis.Client().TxPipeline()
	pipe.LPush(ctx, deadLetterKey, data)
	pipe.ZRem(ctx, scheduleKey, accountID)
	pipe.HDel(ctx, attemptsKey, accountID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dead-letter account %s: %w", accountID, err)
	}
	return nil
}

// DeadLetters returns up to limit of the most recent dead letters
func (s *Scheduler) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	entries, err := s.redis.Client().LRange(ctx, deadLetterKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	letters := make([]DeadLetter, 0, len(entries))
	for _, raw := range entries {
		var letter DeadLetter
		if err := json.Unmarshal([]byte(raw), &letter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		letters = append(letters, letter)
	}
	return letters, nil
}
