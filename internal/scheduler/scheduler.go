package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"medinotify/internal/types"
)

// Task is one unit of scheduled work.
type Task func(ctx context.Context) error

// Scheduler runs registered tasks on standard five-field cron specs. A task
// that is still running when its next tick fires is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	logger types.Logger

	mu    sync.Mutex
	ctx   context.Context
	tasks map[string]Task
}

// New creates an idle Scheduler.
func New(logger types.Logger) *Scheduler {
	if logger == nil {
		logger = types.NopLogger{}
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    context.Background(),
		tasks:  make(map[string]Task),
	}
}

// Register adds a named task on a cron schedule.
func (s *Scheduler) Register(name, spec string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tasks[name]; dup {
		return types.NewAppError(types.ErrCodeValidationFailed, fmt.Sprintf("task %q already registered", name), nil)
	}
	if _, err := s.cron.AddFunc(spec, func() { _ = s.execute(s.runContext(), name, task) }); err != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationFailed, "invalid cron schedule", err,
			map[string]any{"task": name, "schedule": spec})
	}
	s.tasks[name] = task
	s.logger.Info("scheduled task registered", "task", name, "schedule", spec)
	return nil
}

// Trigger runs a registered task immediately in the caller's goroutine.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return types.NewAppError(types.ErrCodeValidationFailed, fmt.Sprintf("unknown task %q", name), nil)
	}
	return s.execute(ctx, name, task)
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits for
// running tasks to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) execute(ctx context.Context, name string, task Task) error {
	start := time.Now()
	err := task(ctx)
	if err != nil {
		s.logger.Error("scheduled task failed",
			"task", name,
			"error", err.Error(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}
	s.logger.Info("scheduled task finished", "task", name, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// cronLogger adapts types.Logger to cron.Logger.
type cronLogger struct {
	logger types.Logger
}

// Info forwards only skipped runs; the remaining cron chatter (wake, run,
// schedule) is dropped.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.logger.Warn("cron: previous run still active, skipping tick", keysAndValues...)
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
