// Package scrape schedules and runs the recurring CloudWatch scrape tasks.
package scrape

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Alignment selects how a task's first fire is aligned to the clock.
type Alignment int

const (
	// AlignInterval delays the first fire to the next interval boundary,
	// so a 5m task fires at :00, :05, :10 regardless of start time.
	AlignInterval Alignment = iota
	// AlignMinute delays the first fire to the next wall-clock minute.
	AlignMinute
)

// Task is one recurring unit of scrape work. Run is invoked on the
// scheduler's worker pool; overlapping fires of the same task are skipped,
// not queued.
type Task interface {
	Run(ctx context.Context)
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context)

// Run implements Task.
func (f TaskFunc) Run(ctx context.Context) { f(ctx) }

type scheduledTask struct {
	task    Task
	running atomic.Bool
}

// Scheduler owns the timer per registered task key and a bounded worker
// pool the fires run on. Registration is additive; a key, once armed,
// stays armed until the scheduler's context ends.
type Scheduler struct {
	log     zerolog.Logger
	now     func() time.Time
	workers chan struct{}

	mu    sync.Mutex
	tasks map[string]*scheduledTask

	wg sync.WaitGroup
}

// NewScheduler builds a scheduler with a worker pool of the given size.
func NewScheduler(workers int, log zerolog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		log:     log,
		now:     time.Now,
		workers: make(chan struct{}, workers),
		tasks:   make(map[string]*scheduledTask),
	}
}

// EnsureScheduled arms task under key if the key is not already armed.
// A second registration for a live key is a no-op, so periodic config
// rebuilds can re-register everything without doubling timers.
func (s *Scheduler) EnsureScheduled(ctx context.Context, key string, interval time.Duration, align Alignment, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[key]; ok {
		return
	}

	st := &scheduledTask{task: task}
	s.tasks[key] = st

	delay := firstDelay(s.now(), interval, align)
	s.log.Info().Str("task", key).Dur("interval", interval).Dur("first_delay", delay).Msg("task armed")

	s.wg.Add(1)
	go s.runLoop(ctx, key, st, delay, cadence(interval, align))
}

// Scheduled reports whether key currently has a live task.
func (s *Scheduler) Scheduled(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Wait blocks until all task loops have exited after their context ended.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) runLoop(ctx context.Context, key string, st *scheduledTask, delay, interval time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	s.fire(ctx, key, st)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, key, st)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, key string, st *scheduledTask) {
	if !st.running.CompareAndSwap(false, true) {
		s.log.Warn().Str("task", key).Msg("previous run still in progress, skipping fire")
		return
	}

	select {
	case s.workers <- struct{}{}:
	case <-ctx.Done():
		st.running.Store(false)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.workers }()
		defer st.running.Store(false)
		st.task.Run(ctx)
	}()
}

// cadence returns the recurring fire period. Minute-aligned tasks recur
// every wall-clock minute regardless of the requested interval.
func cadence(interval time.Duration, align Alignment) time.Duration {
	if align == AlignMinute {
		return time.Minute
	}
	return interval
}

// firstDelay computes the delay until the aligned first fire.
func firstDelay(now time.Time, interval time.Duration, align Alignment) time.Duration {
	boundary := interval
	if align == AlignMinute {
		boundary = time.Minute
	}
	if boundary <= 0 {
		return 0
	}
	offset := time.Duration(now.UnixMilli()%boundary.Milliseconds()) * time.Millisecond
	return boundary - offset
}
