// Package scheduler runs an arbitrary set of named cron-scheduled
// background tasks, each on its own self-resetting timer loop.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/duskrail/switchboard/internal/logging"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the
// duration until its next fire time relative to now. Returns 0 on
// parse error.
func nextCronDuration(expr string, now time.Time) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Task is one periodic job: a cron expression and the function to run
// each time it fires.
type Task struct {
	Name string
	Cron string
	Run  func(ctx context.Context)
}

// Scheduler runs a fixed set of Tasks concurrently, each on its own
// self-resetting timer, until its context is canceled.
type Scheduler struct {
	tasks  []Task
	logger logging.Logger
	now    func() time.Time
}

// New builds a Scheduler for tasks, skipping any whose Cron expression
// is empty.
func New(tasks []Task, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Noop()
	}
	var active []Task
	for _, t := range tasks {
		if t.Cron != "" {
			active = append(active, t)
		}
	}
	return &Scheduler{tasks: active, logger: logger, now: time.Now}
}

// Run blocks, firing each task's Run function at its cron schedule,
// until ctx is canceled. Tasks run concurrently with each other; a
// panic in one task's Run is not recovered here.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.tasks) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			s.runOne(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, t Task) {
	d := nextCronDuration(t.Cron, s.now())
	if d <= 0 {
		s.logger.Warn("scheduler: could not parse cron expression, task disabled", "task", t.Name, "cron", t.Cron)
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.logger.Debug("scheduler: firing task", "task", t.Name)
			t.Run(ctx)
			if next := nextCronDuration(t.Cron, s.now()); next > 0 {
				timer.Reset(next)
			} else {
				return
			}
		}
	}
}
