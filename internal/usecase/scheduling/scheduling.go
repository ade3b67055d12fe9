// Package scheduling runs daemon maintenance jobs on cron expressions or
// fixed intervals.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Action identifies a maintenance job handler.
type Action string

const (
	ActionReconcile    Action = "ledger_reconcile"
	ActionStatusReport Action = "status_report"
)

const defaultJobTimeout = time.Minute

// Job is a recurring maintenance job.
type Job struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "30s"
	Action   Action
	Timeout  time.Duration // 0 = defaultJobTimeout
}

// Scheduler runs registered actions on their schedules. A run that is still
// in progress when its next tick arrives is skipped.
type Scheduler struct {
	cron    *cron.Cron
	actions map[Action]func(ctx context.Context) error
	entries map[string]cron.EntryID
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		actions: make(map[Action]func(ctx context.Context) error),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// RegisterAction registers the handler for an action.
func (s *Scheduler) RegisterAction(action Action, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddJob schedules a job. Names must be unique.
func (s *Scheduler) AddJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[job.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for job %q", job.Action, job.Name)
	}
	if _, exists := s.entries[job.Name]; exists {
		return fmt.Errorf("scheduler: job %q already exists", job.Name)
	}
	schedule, err := parseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for job %q: %w", job.Schedule, job.Name, err)
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	name := job.Name
	logger := s.logger
	s.entries[name] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil {
			logger.Debug("scheduler stopped, skipping job", "job", name)
			return
		}

		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		if err := fn(jobCtx); err != nil {
			logger.Warn("scheduled job failed", "job", name, "error", err, "duration", time.Since(start))
			return
		}
		logger.Debug("scheduled job completed", "job", name, "duration", time.Since(start))
	}))

	logger.Info("job added to scheduler", "name", job.Name, "schedule", job.Schedule, "action", string(job.Action))
	return nil
}

// NextRun returns the next run time of a job, or nil if the job is unknown
// or the scheduler is not running.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	entry := s.cron.Entry(id)
	if entry.ID == 0 || entry.Next.IsZero() {
		return nil
	}
	t := entry.Next
	return &t
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	return nil
}

// parseSchedule tries a cron expression first, then a positive duration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// ValidateSchedule reports whether schedule can be parsed.
func ValidateSchedule(schedule string) error {
	_, err := parseSchedule(schedule)
	return err
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second precision.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
