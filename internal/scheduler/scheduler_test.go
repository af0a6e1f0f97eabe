package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerDispatch(t *testing.T) {
	s := New(Config{
		TickInterval: 50 * time.Millisecond,
		MaxConcLLM:   3,
		MaxConcOther: 5,
		LockPath:     t.TempDir() + "/test.lock",
	})

	cron, _ := ParseCron("* * * * *")
	var ran atomic.Int32
	s.Register(&Job{
		Name:     "test-job",
		Cron:     cron,
		Category: CategoryDefault,
		Run: func(ctx context.Context, now time.Time) error {
			ran.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.tick(ctx, time.Now())

	if ran.Load() != 1 {
		t.Errorf("expected job to run once, got %d", ran.Load())
	}
}

func TestSchedulerLockPreventsOverlap(t *testing.T) {
	lockPath := t.TempDir() + "/overlap.lock"

	s1 := New(Config{TickInterval: 50 * time.Millisecond, LockPath: lockPath})
	s2 := New(Config{TickInterval: 50 * time.Millisecond, LockPath: lockPath})

	acquired, err := s1.lock.TryLock()
	if err != nil || !acquired {
		t.Fatal("s1 should acquire lock")
	}

	acquired2, err := s2.lock.TryLock()
	if err != nil {
		t.Fatal("unexpected error on s2 lock:", err)
	}
	if acquired2 {
		t.Error("s2 should NOT acquire lock while s1 holds it")
		s2.lock.Unlock()
	}

	s1.lock.Unlock()

	acquired3, err := s2.lock.TryLock()
	if err != nil {
		t.Fatal("unexpected error on s2 retry:", err)
	}
	if !acquired3 {
		t.Error("s2 should acquire lock after s1 released")
	}
	s2.lock.Unlock()
}

func TestSemaphoreConcurrencyLimit(t *testing.T) {
	sem := NewSemaphore(2)

	if !sem.TryAcquire() {
		t.Error("first acquire should succeed")
	}
	if !sem.TryAcquire() {
		t.Error("second acquire should succeed")
	}
	if sem.TryAcquire() {
		t.Error("third acquire should fail (cap=2)")
	}
	if sem.Available() != 0 {
		t.Errorf("Available() = %d, want 0", sem.Available())
	}

	sem.Release()
	if sem.Available() != 1 {
		t.Errorf("Available() = %d, want 1", sem.Available())
	}
	if !sem.TryAcquire() {
		t.Error("acquire after release should succeed")
	}
}

func TestSchedulerNonMatchingJobNotDispatched(t *testing.T) {
	s := New(Config{TickInterval: 50 * time.Millisecond, LockPath: t.TempDir() + "/test.lock"})

	// Job that only runs at midnight.
	cron, _ := ParseCron("0 0 * * *")
	var ran atomic.Int32
	s.Register(&Job{Name: "midnight-only", Cron: cron, Category: CategoryDefault, Run: func(ctx context.Context, now time.Time) error {
		ran.Add(1)
		return nil
	}})

	noon := time.Date(2026, 2, 15, 12, 30, 0, 0, time.UTC)
	s.tick(context.Background(), noon)

	if ran.Load() != 0 {
		t.Errorf("expected 0 runs at noon, got %d", ran.Load())
	}
}

func TestSchedulerSkipsOnConcurrencyLimit(t *testing.T) {
	s := New(Config{TickInterval: 50 * time.Millisecond, MaxConcOther: 1, LockPath: t.TempDir() + "/test.lock"})
	cron, _ := ParseCron("* * * * *")

	// Exhaust the default-category semaphore before ticking.
	sem := s.semaphores[CategoryDefault]
	if !sem.TryAcquire() {
		t.Fatal("expected to acquire the only slot")
	}
	defer sem.Release()

	var ran atomic.Int32
	s.Register(&Job{Name: "blocked", Cron: cron, Category: CategoryDefault, Run: func(ctx context.Context, now time.Time) error {
		ran.Add(1)
		return nil
	}})

	s.tick(context.Background(), time.Now())
	if ran.Load() != 0 {
		t.Errorf("expected job to be skipped under concurrency limit, got %d runs", ran.Load())
	}
}
