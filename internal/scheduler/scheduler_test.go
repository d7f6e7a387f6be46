package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNextCronDuration_ValidExpression(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	d := nextCronDuration("0 9 * * *", now)
	if d <= 0 {
		t.Fatalf("expected positive duration, got %v", d)
	}
	if d > 24*time.Hour {
		t.Fatalf("expected duration < 24h, got %v", d)
	}
}

func TestNextCronDuration_InvalidExpression(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	if d := nextCronDuration("not a cron expr", now); d != 0 {
		t.Fatalf("expected 0 for invalid expression, got %v", d)
	}
}

func TestNextCronDuration_EveryMinute(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 30, 0, time.UTC)
	d := nextCronDuration("* * * * *", now)
	if d <= 0 {
		t.Fatalf("expected positive duration, got %v", d)
	}
	if d > 61*time.Second {
		t.Fatalf("expected duration < 61s, got %v", d)
	}
}

func TestScheduler_SkipsTasksWithEmptyCron(t *testing.T) {
	s := New([]Task{{Name: "noop", Cron: ""}}, nil)
	if len(s.tasks) != 0 {
		t.Fatalf("expected empty-cron task to be skipped, got %d active tasks", len(s.tasks))
	}
}

func TestScheduler_Run_FiresTaskAndStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	s := New([]Task{{
		Name: "every-minute",
		Cron: "* * * * *",
		Run: func(ctx context.Context) {
			mu.Lock()
			fired++
			mu.Unlock()
		},
	}}, nil)
	s.now = func() time.Time { return time.Now().Truncate(time.Minute).Add(59 * time.Second) } // fire almost immediately

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Scheduler.Run did not return after context cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	if fired == 0 {
		t.Error("expected task to fire at least once before cancellation")
	}
}
