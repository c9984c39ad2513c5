// Package scheduler runs independent periodic pull tasks alongside push updates
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/interfaces"
)

// Scheduler runs each task on its own goroutine. The first firing of every
// task is offset by a random delay in [0, jitter); later firings follow the interval.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[interfaces.TaskID]*task
	nextID interfaces.TaskID
	wg     sync.WaitGroup
	jitter time.Duration
	randN  func(n int64) int64
	logger *common.Logger
}

type task struct {
	name     string
	interval time.Duration
	cancel   context.CancelFunc
}

// Option configures the scheduler
type Option func(*Scheduler)

// WithRand replaces the jitter source. fn must return a value in [0, n).
func WithRand(fn func(n int64) int64) Option {
	return func(s *Scheduler) {
		s.randN = fn
	}
}

// NewScheduler creates a scheduler with the given first-firing jitter bound.
func NewScheduler(jitter time.Duration, logger *common.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:  make(map[interfaces.TaskID]*task),
		jitter: jitter,
		randN:  rand.Int63n,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs fn every interval until stopped. A non-positive interval
// disables the task and returns 0.
func (s *Scheduler) Start(name string, fn func(ctx context.Context), interval time.Duration) interfaces.TaskID {
	if interval <= 0 {
		s.logger.Info().Str("task", name).Msg("Scheduler: task disabled (no interval)")
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.tasks[id] = &task{name: name, interval: interval, cancel: cancel}
	s.mu.Unlock()

	offset := s.firstOffset()
	s.safeGo(name, func() { s.loop(ctx, name, fn, interval, offset) })

	s.logger.Info().
		Str("task", name).
		Uint64("id", uint64(id)).
		Dur("interval", interval).
		Dur("first_offset", offset).
		Msg("Scheduler: task started")
	return id
}

// Stop cancels one task. Unknown or already stopped ids are ignored.
// A run already in progress sees its context cancelled.
func (s *Scheduler) Stop(id interfaces.TaskID) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	t.cancel()
	s.logger.Info().Str("task", t.name).Uint64("id", uint64(id)).Msg("Scheduler: task stopped")
}

// StopAll cancels every task and waits for their goroutines to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[interfaces.TaskID]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Int("tasks", len(tasks)).Msg("Scheduler: all tasks stopped")
}

// Active returns the number of running tasks.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) firstOffset() time.Duration {
	if s.jitter <= 0 {
		return 0
	}
	return time.Duration(s.randN(int64(s.jitter)))
}

func (s *Scheduler) loop(ctx context.Context, name string, fn func(ctx context.Context), interval, offset time.Duration) {
	if offset > 0 {
		timer := time.NewTimer(offset)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	s.run(ctx, name, fn)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug().Str("task", name).Msg("Scheduler: loop exited")
			return
		case <-ticker.C:
			s.run(ctx, name, fn)
		}
	}
}

// run executes one firing. A panic is logged and the task keeps its schedule.
func (s *Scheduler) run(ctx context.Context, name string, fn func(ctx context.Context)) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in scheduled task")
			return
		}
		s.logger.Debug().Str("task", name).Dur("elapsed", time.Since(start)).Msg("Scheduler: task ran")
	}()
	fn(ctx)
}

// safeGo launches a goroutine with panic recovery and logging.
func (s *Scheduler) safeGo(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in scheduler goroutine")
			}
		}()
		fn()
	}()
}
