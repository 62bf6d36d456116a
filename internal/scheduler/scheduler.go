package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Task is a unit of periodic work. Run must return once ctx is done.
type Task interface {
	Name() string
	Run(ctx context.Context)
}

// Schedule yields the next activation after the given time.
type Schedule interface {
	Next(time.Time) time.Time
}

// FixedDelay schedules the next run a fixed duration after the previous run
// finished, so runs of a task never overlap.
type FixedDelay time.Duration

func (d FixedDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule accepts a five-field cron expression or a descriptor such as
// "@daily" or "@every 24h".
func ParseSchedule(expr string) (Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse %q: %w", expr, err)
	}
	return s, nil
}

var ErrAlreadyStarted = errors.New("scheduler: already started")

type entry struct {
	task         Task
	schedule     Schedule
	initialDelay time.Duration
}

// Scheduler runs each registered task on its own goroutine.
type Scheduler struct {
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []entry
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
}

// Add registers a task. Tasks added after Start are ignored until the next
// Start.
func (s *Scheduler) Add(task Task, schedule Schedule, initialDelay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{task: task, schedule: schedule, initialDelay: initialDelay})
}

// Start launches the task loops. They stop when ctx is canceled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	for _, e := range s.entries {
		e := e
		group.Go(func() error {
			s.loop(gctx, e)
			return nil
		})
	}
	s.cancel = cancel
	s.group = group
	s.logger.Info().Int("tasks", len(s.entries)).Msg("scheduler: started")
	return nil
}

// Stop cancels every loop and waits for in-flight runs to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, group := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	err := group.Wait()
	s.logger.Info().Msg("scheduler: stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	log := s.logger.With().Str("task", e.task.Name()).Logger()
	if !sleep(ctx, e.initialDelay) {
		return
	}
	for {
		s.runOnce(ctx, log, e.task)
		next := e.schedule.Next(s.now())
		if !sleep(ctx, next.Sub(s.now())) {
			log.Debug().Msg("scheduler: task loop exiting")
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, log zerolog.Logger, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("scheduler: task panicked")
		}
	}()
	started := s.now()
	task.Run(ctx)
	log.Debug().Dur("took", s.now().Sub(started)).Msg("scheduler: task finished")
}

// sleep waits for d or until ctx is done and reports whether the caller
// should continue.
func sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
