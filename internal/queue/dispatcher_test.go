package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/trader-mirror/internal/errors"
	"github.com/trader-mirror/internal/models"
	"github.com/trader-mirror/internal/syncer"
)

type fakeRunner struct {
	err  error
	runs int
}

func (f *fakeRunner) Run(ctx context.Context, accountID string) error {
	f.runs++
	return f.err
}

type fakeDirectory struct {
	tier        int
	cadence     time.Duration
	deletedCred []string
	deactivated []string
}

func (f *fakeDirectory) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return &models.Account{ID: id, Active: true, SyncTier: f.tier}, nil
}

func (f *fakeDirectory) CadenceForTier(ctx context.Context, tier int) (time.Duration, error) {
	return f.cadence, nil
}

func (f *fakeDirectory) DeleteCredential(ctx context.Context, id string) error {
	f.deletedCred = append(f.deletedCred, id)
	return nil
}

func (f *fakeDirectory) DeactivateAccount(ctx context.Context, id, reason string) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeCache struct {
	invalidated []string
}

func (f *fakeCache) InvalidateAccount(ctx context.Context, accountID string) error {
	f.invalidated = append(f.invalidated, accountID)
	return nil
}

func newTestDispatcher(t *testing.T, runner Runner, dir Directory, cache CacheInvalidator, cfg Config) (*Dispatcher, *Scheduler) {
	t.Helper()

	s := newTestScheduler(t)
	d, err := NewDispatcher(s, runner, dir, cache, cfg, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d, s
}

// scheduledDelay reads back how far in the future an account's slot sits
func scheduledDelay(t *testing.T, s *Scheduler, accountID string) time.Duration {
	t.Helper()

	score, err := s.redis.Client().ZScore(context.Background(), scheduleKey, accountID).Result()
	if err != nil {
		t.Fatalf("ZScore(%s) error = %v", accountID, err)
	}
	return time.UnixMilli(int64(score)).Sub(time.Now())
}

func withinASecond(d, want time.Duration) bool {
	diff := d - want
	return diff > -time.Second && diff < time.Second
}

func TestRetryDelay(t *testing.T) {
	maxDelay := 21600 * time.Second
	tier1 := 300 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 300 * time.Second},
		{2, 600 * time.Second},
		{3, 1200 * time.Second},
		{7, 19200 * time.Second},
		{8, maxDelay},
		{20, maxDelay},
	}

	for _, tt := range tests {
		if got := RetryDelay(tier1, tt.attempt, maxDelay); got != tt.want {
			t.Errorf("RetryDelay(300s, %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestHandleSuccessReArmsLoop(t *testing.T) {
	runner := &fakeRunner{}
	dir := &fakeDirectory{tier: 1, cadence: 5 * time.Minute}
	cache := &fakeCache{}
	d, s := newTestDispatcher(t, runner, dir, cache, Config{})
	ctx := context.Background()

	d.handle(ctx, "acct-1")

	if runner.runs != 1 {
		t.Errorf("runs = %d, want 1", runner.runs)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != "acct-1" {
		t.Errorf("invalidated = %v, want [acct-1]", cache.invalidated)
	}

	delay := scheduledDelay(t, s, "acct-1")
	if !withinASecond(delay, 5*time.Minute) {
		t.Errorf("rescheduled delay = %v, want ~5m tier cadence", delay)
	}
}

func TestHandleRevokedTerminatesLoop(t *testing.T) {
	runner := &fakeRunner{err: apperrors.NewUnauthorizedError("token rejected")}
	dir := &fakeDirectory{tier: 1, cadence: 5 * time.Minute}
	cache := &fakeCache{}
	d, s := newTestDispatcher(t, runner, dir, cache, Config{})
	ctx := context.Background()

	d.handle(ctx, "acct-1")

	if len(dir.deletedCred) != 1 || dir.deletedCred[0] != "acct-1" {
		t.Errorf("deleted credentials = %v, want [acct-1]", dir.deletedCred)
	}
	if len(dir.deactivated) != 1 {
		t.Errorf("deactivated = %v, want [acct-1]", dir.deactivated)
	}

	scheduled, err := s.IsScheduled(ctx, "acct-1")
	if err != nil {
		t.Fatalf("IsScheduled() error = %v", err)
	}
	if scheduled {
		t.Error("revoked account was rescheduled; the loop must die")
	}
}

func TestHandleInactiveDropsCleanly(t *testing.T) {
	runner := &fakeRunner{err: syncer.ErrAccountInactive}
	dir := &fakeDirectory{tier: 1, cadence: 5 * time.Minute}
	cache := &fakeCache{}
	d, s := newTestDispatcher(t, runner, dir, cache, Config{})
	ctx := context.Background()

	d.handle(ctx, "acct-1")

	scheduled, err := s.IsScheduled(ctx, "acct-1")
	if err != nil {
		t.Fatalf("IsScheduled() error = %v", err)
	}
	if scheduled {
		t.Error("inactive account was rescheduled")
	}
	if len(cache.invalidated) != 0 {
		t.Errorf("invalidated = %v, want none", cache.invalidated)
	}
}

func TestHandleFailureBacksOffExponentially(t *testing.T) {
	runner := &fakeRunner{err: errors.New("provider flaked")}
	dir := &fakeDirectory{tier: 1, cadence: 300 * time.Second}
	cache := &fakeCache{}
	d, s := newTestDispatcher(t, runner, dir, cache, Config{
		MaxAttempts: 10,
		BackoffCap:  21600 * time.Second,
	})
	ctx := context.Background()

	wantDelays := []time.Duration{300 * time.Second, 600 * time.Second, 1200 * time.Second}
	for i, want := range wantDelays {
		d.handle(ctx, "acct-1")
		delay := scheduledDelay(t, s, "acct-1")
		if !withinASecond(delay, want) {
			t.Errorf("attempt %d: delay = %v, want ~%v", i+1, delay, want)
		}
	}
	if len(cache.invalidated) != 0 {
		t.Errorf("invalidated = %v, want none on failures", cache.invalidated)
	}
}

func TestHandleDeadLettersAfterMaxAttempts(t *testing.T) {
	runner := &fakeRunner{err: errors.New("persistent failure")}
	dir := &fakeDirectory{tier: 1, cadence: 300 * time.Second}
	cache := &fakeCache{}
	d, s := newTestDispatcher(t, runner, dir, cache, Config{MaxAttempts: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d.handle(ctx, "acct-1")
	}

	scheduled, err := s.IsScheduled(ctx, "acct-1")
	if err != nil {
		t.Fatalf("IsScheduled() error = %v", err)
	}
	if scheduled {
		t.Error("exhausted account still holds a schedule slot")
	}

	letters, err := s.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("DeadLetters() returned %d entries, want 1", len(letters))
	}
	if letters[0].AccountID != "acct-1" || letters[0].Attempts != 3 {
		t.Errorf("dead letter = %+v, want acct-1 after 3 attempts", letters[0])
	}
}

func TestHandleDeadLetterReasonIsRedacted(t *testing.T) {
	runner := &fakeRunner{err: errors.New("request failed: token=super-secret-token")}
	dir := &fakeDirectory{tier: 1, cadence: 300 * time.Second}
	d, s := newTestDispatcher(t, runner, dir, &fakeCache{}, Config{MaxAttempts: 1})
	ctx := context.Background()

	d.handle(ctx, "acct-1")

	letters, err := s.DeadLetters(ctx, 1)
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("DeadLetters() returned %d entries, want 1", len(letters))
	}
	if got := letters[0].Reason; got == "" || strings.Contains(got, "super-secret-token") {
		t.Errorf("dead letter reason leaked the token: %q", got)
	}
}
