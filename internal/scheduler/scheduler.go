package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JobCategory classifies jobs for semaphore-based concurrency limits.
type JobCategory string

const (
	CategoryLLM     JobCategory = "llm"
	CategoryDefault JobCategory = "default"
)

// Job is one periodic task: the dunning-ladder reminder pass, the weekly
// digest, the coverage scan, active-thread GC (spec §4.4), or the planner
// cycle. Run performs
// the task; `now` is the tick time that matched Cron.
type Job struct {
	Name     string
	Cron     *CronExpr
	Category JobCategory
	Run      func(ctx context.Context, now time.Time) error
}

// Config holds scheduler settings.
type Config struct {
	TickInterval time.Duration `json:"tickInterval"`
	MaxConcLLM   int           `json:"maxConcLLM"`
	MaxConcOther int           `json:"maxConcOther"`
	LockPath     string        `json:"lockPath"`
}

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		TickInterval: 60 * time.Second,
		MaxConcLLM:   2,
		MaxConcOther: 4,
		LockPath:     filepath.Join(home, ".shepherd", "scheduler.lock"),
	}
}

// Scheduler dispatches registered Jobs whose cron expression matches the
// current tick, one tick at a time, guarded by a cross-process file lock
// (spec §5's "single-threaded cooperative scheduling on a per-task cadence").
type Scheduler struct {
	cfg        Config
	jobs       map[string]*Job
	mu         sync.RWMutex
	semaphores map[JobCategory]*Semaphore
	lock       *FileLock
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.MaxConcLLM <= 0 {
		cfg.MaxConcLLM = 2
	}
	if cfg.MaxConcOther <= 0 {
		cfg.MaxConcOther = 4
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultConfig().LockPath
	}

	return &Scheduler{
		cfg:  cfg,
		jobs: make(map[string]*Job),
		semaphores: map[JobCategory]*Semaphore{
			CategoryLLM:     NewSemaphore(cfg.MaxConcLLM),
			CategoryDefault: NewSemaphore(cfg.MaxConcOther),
		},
		lock: NewFileLock(cfg.LockPath),
	}
}

// Register adds a job to the scheduler.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
	slog.Info("scheduler: job registered", "name", job.Name, "category", job.Category)
}

// Jobs returns the current registered jobs (snapshot).
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Run starts the scheduler tick loop. Blocks until context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler: started", "tick", s.cfg.TickInterval, "jobs", len(s.jobs))
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick acquires the cross-process lock, then dispatches any matching jobs.
// The lock prevents two scheduler processes (e.g. during a deploy overlap)
// from double-firing the same tick.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	acquired, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("scheduler: lock error", "error", err)
		return
	}
	if !acquired {
		slog.Debug("scheduler: tick skipped, lock held by another process")
		return
	}
	defer s.lock.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, job := range s.jobs {
		if !job.Cron.Matches(now) {
			continue
		}
		s.dispatch(ctx, job, now)
	}
}

// dispatch runs a job synchronously under its category's semaphore, per
// "single-threaded cooperative scheduling" — a job that is still running
// when its category has no free slot is skipped for this tick rather than
// queued, so a slow job never backs up behind itself.
func (s *Scheduler) dispatch(ctx context.Context, job *Job, now time.Time) {
	sem := s.semaphores[job.Category]
	if sem == nil {
		sem = s.semaphores[CategoryDefault]
	}

	if !sem.TryAcquire() {
		slog.Warn("scheduler: job skipped, concurrency limit", "job", job.Name, "category", job.Category)
		return
	}
	defer sem.Release()

	slog.Info("scheduler: dispatching job", "job", job.Name)
	if err := job.Run(ctx, now); err != nil {
		slog.Warn("scheduler: job failed", "job", job.Name, "error", err)
	}
}
