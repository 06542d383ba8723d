package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/trader-mirror/internal/storage"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := storage.NewRedisCacheFromClient(client)
	t.Cleanup(func() { _ = cache.Close() })

	return NewScheduler(cache)
}

func TestScheduleCollapsesDuplicates(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	if err := s.Schedule(ctx, "acct-1", time.Hour); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := s.Schedule(ctx, "acct-1", 2*time.Hour); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	pending, err := s.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if pending != 1 {
		t.Errorf("Pending() = %d, want 1 after duplicate schedule", pending)
	}
}

func TestPopDueReturnsOnlyDueMessages(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	if err := s.Schedule(ctx, "acct-due", -time.Second); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := s.Schedule(ctx, "acct-later", time.Hour); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	due, err := s.PopDue(ctx, 10)
	if err != nil {
		t.Fatalf("PopDue() error = %v", err)
	}
	if len(due) != 1 || due[0] != "acct-due" {
		t.Fatalf("PopDue() = %v, want [acct-due]", due)
	}

	// The claimed message is gone; the future one keeps its slot.
	scheduled, err := s.IsScheduled(ctx, "acct-due")
	if err != nil {
		t.Fatalf("IsScheduled() error = %v", err)
	}
	if scheduled {
		t.Error("popped message still holds a schedule slot")
	}
	scheduled, err = s.IsScheduled(ctx, "acct-later")
	if err != nil {
		t.Fatalf("IsScheduled() error = %v", err)
	}
	if !scheduled {
		t.Error("future message lost its schedule slot")
	}
}

func TestPopDueHonorsLimit(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	for _, id := range []string{"acct-1", "acct-2", "acct-3"} {
		if err := s.Schedule(ctx, id, -time.Second); err != nil {
			t.Fatalf("Schedule(%s) error = %v", id, err)
		}
	}

	due, err := s.PopDue(ctx, 2)
	if err != nil {
		t.Fatalf("PopDue() error = %v", err)
	}
	if len(due) != 2 {
		t.Errorf("PopDue() returned %d messages, want 2", len(due))
	}

	pending, err := s.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if pending != 1 {
		t.Errorf("Pending() = %d, want 1", pending)
	}
}

func TestAttemptCounter(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.IncrAttempts(ctx, "acct-1")
		if err != nil {
			t.Fatalf("IncrAttempts() error = %v", err)
		}
		if got != want {
			t.Errorf("IncrAttempts() = %d, want %d", got, want)
		}
	}

	if err := s.ClearAttempts(ctx, "acct-1"); err != nil {
		t.Fatalf("ClearAttempts() error = %v", err)
	}

	got, err := s.IncrAttempts(ctx, "acct-1")
	if err != nil {
		t.Fatalf("IncrAttempts() error = %v", err)
	}
	if got != 1 {
		t.Errorf("IncrAttempts() after clear = %d, want 1", got)
	}
}

func TestCancelRemovesSlotAndAttempts(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	if err := s.Schedule(ctx, "acct-1", time.Hour); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if _, err := s.IncrAttempts(ctx, "acct-1"); err != nil {
		t.Fatalf("IncrAttempts() error = %v", err)
	}

	if err := s.Cancel(ctx, "acct-1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	scheduled, err := s.IsScheduled(ctx, "acct-1")
	if err != nil {
		t.Fatalf("IsScheduled() error = %v", err)
	}
	if scheduled {
		t.Error("canceled account still holds a schedule slot")
	}

	got, err := s.IncrAttempts(ctx, "acct-1")
	if err != nil {
		t.Fatalf("IncrAttempts() error = %v", err)
	}
	if got != 1 {
		t.Errorf("attempts after cancel = %d, want reset to 1", got)
	}
}

func TestDeadLetter(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	if err := s.Schedule(ctx, "acct-1", time.Hour); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := s.MoveToDeadLetter(ctx, "acct-1", "provider error", 10); err != nil {
		t.Fatalf("MoveToDeadLetter() error = %v", err)
	}

	scheduled, err := s.IsScheduled(ctx, "acct-1")
	if err != nil {
		t.Fatalf("IsScheduled() error = %v", err)
	}
	if scheduled {
		t.Error("dead-lettered account still holds a schedule slot")
	}

	letters, err := s.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("DeadLetters() returned %d entries, want 1", len(letters))
	}
	if letters[0].AccountID != "acct-1" || letters[0].Attempts != 10 {
		t.Errorf("dead letter = %+v, want acct-1 with 10 attempts", letters[0])
	}
}
