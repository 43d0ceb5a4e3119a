// Package scheduler drives the orchestrator's periodic work: the lifecycle
// tick that ages entities through the store's Stale/Expired/Remove
// thresholds, and one interval task per enabled collector. Every task in
// this engine runs on a fixed interval (IntervalSchedule/Every) — there is
// no calendar-based or cron-based work to schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.meridian.dev/meridian/internal/clock"
	"go.meridian.dev/meridian/internal/logging"
)

// TaskFunc is a function that performs a scheduled task.
// It receives a context that will be cancelled if the scheduler stops.
type TaskFunc func(ctx context.Context) error

// Schedule defines when a task should run.
type Schedule interface {
	// Next returns the next time the task should run after the given time.
	Next(after time.Time) time.Time
}

// Task represents a scheduled task — one collector's recurring scan, or the
// orchestrator's own lifecycle tick.
type Task struct {
	ID          string
	Name        string
	Description string
	Schedule    Schedule
	Func        TaskFunc
	Enabled     bool
	RunOnStart  bool // Run immediately when scheduler starts
	Timeout     time.Duration
}

// Scheduler manages and runs scheduled tasks.
type Scheduler struct {
	tasks   map[string]*taskEntry
	mu      sync.RWMutex
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

type taskEntry struct {
	task    *Task
	nextRun time.Time
}

// New creates a new scheduler.
func New(logger *logging.Logger) *Scheduler {
	var l *slog.Logger
	if logger == nil {
		l = slog.Default()
	} else {
		// Use the embedded slog.Logger
		l = logger.Logger
	}

	return &Scheduler{
		tasks:  make(map[string]*taskEntry),
		logger: l.With("component", "scheduler"),
	}
}

// AddTask adds a task to the scheduler.
func (s *Scheduler) AddTask(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if task.Schedule == nil {
		return fmt.Errorf("task schedule is required")
	}
	if task.Func == nil {
		return fmt.Errorf("task function is required")
	}

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}

	entry := &taskEntry{task: task}
	if task.Enabled {
		entry.nextRun = task.Schedule.Next(clock.Now())
	}

	s.tasks[task.ID] = entry
	s.logger.Info("task added", "id", task.ID, "name", task.Name)

	return nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.mu.Unlock()

	s.logger.Info("scheduler started")

	// Run tasks that should run on start
	s.mu.RLock()
	for _, entry := range s.tasks {
		if entry.task.Enabled && entry.task.RunOnStart {
			go s.executeTask(entry)
		}
	}
	s.mu.RUnlock()

	// Start the main scheduler loop
	go s.run()
}

// Stop stops the scheduler and waits for running tasks to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	// Wait for running tasks
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// run is the main scheduler loop.
func (s *Scheduler) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.checkAndRunTasks(now)
		}
	}
}

// checkAndRunTasks checks all tasks and runs those that are due.
func (s *Scheduler) checkAndRunTasks(now time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.tasks {
		if !entry.task.Enabled {
			continue
		}
		if entry.nextRun.IsZero() {
			continue
		}
		if now.After(entry.nextRun) || now.Equal(entry.nextRun) {
			go s.executeTask(entry)
		}
	}
}

// executeTask runs a single task.
func (s *Scheduler) executeTask(entry *taskEntry) {
	s.wg.Add(1)
	defer s.wg.Done()

	task := entry.task
	s.logger.Debug("executing task", "id", task.ID, "name", task.Name)

	// Create task context with timeout
	ctx := s.ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(s.ctx)
	}
	defer cancel()

	start := clock.Now()
	err := task.Func(ctx)
	duration := time.Since(start)

	if err != nil {
		s.logger.Warn("task failed", "id", task.ID, "error", err, "duration", duration)
	} else {
		s.logger.Debug("task completed", "id", task.ID, "duration", duration)
	}

	// Schedule next run
	s.mu.Lock()
	if task.Enabled {
		entry.nextRun = task.Schedule.Next(clock.Now())
	}
	s.mu.Unlock()
}
