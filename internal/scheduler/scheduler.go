// Package scheduler runs the periodic pricing sweeps. Each task runs at most
// once at a time; a tick that finds its task still running is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pricesync/backend/internal/domain"
	"pricesync/backend/internal/logging"
	"pricesync/backend/internal/service"
)

const (
	TaskCompetitorSweep = "competitor_sweep"
	TaskCorrectionSweep = "correction_sweep"
	TaskPVPMRefresh     = "pvpm_refresh"
	TaskActionReaper    = "action_reaper"
)

var ErrUnknownTask = errors.New("unknown task")

type Job func(ctx context.Context) error

type Task struct {
	Name     string
	Interval time.Duration
	Run      Job
	// Every, when set, overrides Interval. It is re-read after each run and
	// on Refresh so the period can follow stored settings.
	Every func() time.Duration
	// RunOnStart fires the job once right after Start.
	RunOnStart bool
}

type task struct {
	Task
	inFlight  atomic.Bool
	runCount  atomic.Int64
	skipCount atomic.Int64
	reset     chan struct{}

	mu        sync.Mutex
	lastRunAt *time.Time
	lastError string
}

type Scheduler struct {
	tasks []*task
	byKey map[string]*task
	now   func() time.Time
	log   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

func New(log *zap.Logger, tasks ...Task) *Scheduler {
	s := &Scheduler{
		byKey: make(map[string]*task, len(tasks)),
		now:   time.Now,
		log:   logging.OrNop(log),
	}
	for _, t := range tasks {
		entry := &task{Task: t, reset: make(chan struct{}, 1)}
		if t.Run == nil || entry.interval() <= 0 {
			continue
		}
		s.tasks = append(s.tasks, entry)
		s.byKey[t.Name] = entry
	}
	return s
}

// Start launches one ticker goroutine per task. Tasks run until Stop is
// called or ctx is cancelled. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}
	s.cancel = cancel
	s.group = g
	s.running = true
	s.log.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
}

// Stop cancels all task loops and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, g := s.cancel, s.group
	s.running = false
	s.cancel = nil
	s.group = nil
	s.mu.Unlock()

	cancel()
	_ = g.Wait()
	s.log.Info("scheduler stopped")
}

// Refresh makes running loops re-read their interval.
func (s *Scheduler) Refresh() {
	for _, t := range s.tasks {
		select {
		case t.reset <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow runs a task immediately in the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	t, ok := s.byKey[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, t)
}

func (s *Scheduler) Status() []domain.TaskStatus {
	running := s.Running()
	out := make([]domain.TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		st := domain.TaskStatus{
			Name:      t.Name,
			Interval:  t.interval().String(),
			Running:   running,
			InFlight:  t.inFlight.Load(),
			LastRunAt: t.lastRunAt,
			LastError: t.lastError,
			RunCount:  t.runCount.Load(),
			SkipCount: t.skipCount.Load(),
		}
		t.mu.Unlock()
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	current := t.interval()
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	reschedule := func() {
		next := t.interval()
		if next <= 0 || next == current {
			return
		}
		ticker.Reset(next)
		s.log.Info("task rescheduled", zap.String("task", t.Name), zap.Duration("interval", next))
		current = next
	}

	if t.RunOnStart {
		s.tick(ctx, t)
	}
	for {
		select {
		case <-ticker.C:
			s.tick(ctx, t)
			reschedule()
		case <-t.reset:
			reschedule()
		case <-ctx.Done():
			s.log.Debug("task stopped", zap.String("task", t.Name))
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t *task) {
	err := s.run(ctx, t)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrSweepInProgress):
		s.log.Info("task skipped, previous run still in flight", zap.String("task", t.Name))
	case errors.Is(err, context.Canceled):
	default:
		s.log.Error("task failed", zap.String("task", t.Name), zap.Error(err))
	}
}

// run enforces the single in-flight rule.
func (s *Scheduler) run(ctx context.Context, t *task) error {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.skipCount.Add(1)
		return service.ErrSweepInProgress
	}
	defer t.inFlight.Store(false)

	err := t.Run(ctx)
	at := s.now().UTC()
	t.runCount.Add(1)
	t.mu.Lock()
	t.lastRunAt = &at
	t.lastError = ""
	if err != nil {
		t.lastError = err.Error()
	}
	t.mu.Unlock()
	return err
}

func (t *task) interval() time.Duration {
	if t.Every != nil {
		if d := t.Every(); d > 0 {
			return d
		}
	}
	return t.Interval
}
