// Package scheduler runs one-off tasks after a delay once the device
// conditions they require hold.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/webapkd/internal/webapk/core"
	"github.com/autopeer-io/webapkd/pkg/log"
)

// ErrReschedule asks the scheduler to run the task again later with the same
// constraints.
var ErrReschedule = errors.New("task asked to be rescheduled")

// Handler executes a due task.
type Handler func(ctx context.Context, logger logr.Logger, task core.TaskInfo) error

// Conditions reports the device state task constraints are checked against.
type Conditions interface {
	IsUnmetered() bool
	IsCharging() bool
}

// StaticConditions is a Conditions with fixed answers.
type StaticConditions struct {
	Unmetered bool
	Charging  bool
}

func (c StaticConditions) IsUnmetered() bool { return c.Unmetered }
func (c StaticConditions) IsCharging() bool  { return c.Charging }

// Options configures a Scheduler.
type Options struct {
	PollInterval time.Duration
	Concurrency  int
	// OnPendingChanged is called with the number of waiting tasks after every
	// change. Optional.
	OnPendingChanged func(n int)
}

type entry struct {
	info     core.TaskInfo
	earliest time.Time
	deadline time.Time
}

// Scheduler is an in-process core.Scheduler. Durable recovery of tasks is the
// caller's job.
type Scheduler struct {
	clock   clock.WithTicker
	cond    Conditions
	handler Handler
	opts    Options
	log     log.Logger

	mu      sync.Mutex
	tasks   map[string]*entry
	running map[string]bool

	wake chan struct{}
}

var _ core.Scheduler = (*Scheduler)(nil)

// New creates a scheduler that hands due tasks to handler.
func New(clk clock.WithTicker, cond Conditions, handler Handler, opts Options, logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Scheduler{
		clock:   clk,
		cond:    cond,
		handler: handler,
		opts:    opts,
		log:     logger.WithName("scheduler"),
		tasks:   make(map[string]*entry),
		running: make(map[string]bool),
		wake:    make(chan struct{}, 1),
	}
}

// ScheduleOneOff queues task. An existing task with the same id is kept unless
// task.ReplaceExisting is set.
func (s *Scheduler) ScheduleOneOff(_ context.Context, task core.TaskInfo) error {
	if task.ID == "" {
		return errors.New("task id is required")
	}
	if task.MinDelay < 0 || task.MaxDelay < task.MinDelay {
		return fmt.Errorf("task %s: invalid delay window [%s, %s]", task.ID, task.MinDelay, task.MaxDelay)
	}

	s.mu.Lock()
	if _, ok := s.tasks[task.ID]; ok && !task.ReplaceExisting {
		s.mu.Unlock()
		s.log.Debug("Task already scheduled", "task", task.ID)
		return nil
	}
	s.tasks[task.ID] = s.newEntry(task)
	n := len(s.tasks)
	s.mu.Unlock()

	s.log.Info("Scheduled task", "task", task.ID, "minDelay", task.MinDelay, "maxDelay", task.MaxDelay,
		"unmetered", task.RequiresUnmeteredNetwork, "charging", task.RequiresCharging)
	s.pendingChanged(n)
	if task.MinDelay == 0 {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel drops a waiting task. It reports whether one was found.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	_, ok := s.tasks[id]
	delete(s.tasks, id)
	n := len(s.tasks)
	s.mu.Unlock()

	if ok {
		s.pendingChanged(n)
	}
	return ok
}

// Pending returns the waiting tasks ordered by id.
func (s *Scheduler) Pending() []core.TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.TaskInfo, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.info)
	}
	slices.SortFunc(out, func(a, b core.TaskInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Run polls for due tasks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("Starting scheduler", "pollInterval", s.opts.PollInterval, "concurrency", s.opts.Concurrency)

	ticker := s.clock.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return nil
		case <-ticker.C():
		case <-s.wake:
		}
		s.RunDue(ctx)
	}
}

// RunDue runs every task that is due now and waits for them. It returns the
// number of tasks run.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.clock.Now()

	s.mu.Lock()
	var due []core.TaskInfo
	for id, e := range s.tasks {
		if s.running[id] || !s.isDue(e, now) {
			continue
		}
		due = append(due, e.info)
		delete(s.tasks, id)
		s.running[id] = true
	}
	n := len(s.tasks)
	s.mu.Unlock()

	if len(due) == 0 {
		return 0
	}
	s.pendingChanged(n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, task := range due {
		g.Go(func() error {
			s.execute(gctx, task)
			return nil
		})
	}
	_ = g.Wait()
	return len(due)
}

func (s *Scheduler) execute(ctx context.Context, task core.TaskInfo) {
	logger := s.log.WithValues("task", task.ID)
	defer func() {
		s.mu.Lock()
		delete(s.running, task.ID)
		s.mu.Unlock()
	}()

	err := s.handler(ctx, logger.Logr(), task)
	switch {
	case err == nil:
		logger.Debug("Task finished")
	case errors.Is(err, ErrReschedule):
		s.mu.Lock()
		// A newer task with the same id wins over the reschedule.
		if _, ok := s.tasks[task.ID]; !ok {
			s.tasks[task.ID] = s.newEntry(task)
		}
		n := len(s.tasks)
		s.mu.Unlock()
		logger.Info("Task rescheduled")
		s.pendingChanged(n)
	default:
		logger.Error(err, "Task failed")
	}
}

// isDue holds once the min delay passed and either the constraints are met or
// the max delay passed.
func (s *Scheduler) isDue(e *entry, now time.Time) bool {
	if now.Before(e.earliest) {
		return false
	}
	if !now.Before(e.deadline) {
		return true
	}
	if e.info.RequiresUnmeteredNetwork && !s.cond.IsUnmetered() {
		return false
	}
	if e.info.RequiresCharging && !s.cond.IsCharging() {
		return false
	}
	return true
}

func (s *Scheduler) newEntry(task core.TaskInfo) *entry {
	now := s.clock.Now()
	return &entry{
		info:     task,
		earliest: now.Add(task.MinDelay),
		deadline: now.Add(task.MaxDelay),
	}
}

func (s *Scheduler) pendingChanged(n int) {
	if s.opts.OnPendingChanged != nil {
		s.opts.OnPendingChanged(n)
	}
}
