// Package schedule launches job selections on cron expressions.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"github.com/robfig/cron/v3"
	"gopkg.in/tomb.v2"

	"github.com/joe/multisave/internal/backup"
	"github.com/joe/multisave/internal/config"
)

var logger = loggo.GetLogger("multisave.schedule")

// Runner starts jobs by index.
type Runner interface {
	ExecuteJobsAsync(ctx context.Context, indices []int) *backup.Batch
}

// Planned describes one registered schedule.
type Planned struct {
	Cron string
	Jobs string
	Next time.Time
}

// Scheduler is a worker firing ExecuteJobsAsync for every schedule tick.
type Scheduler struct {
	tomb   tomb.Tomb
	cron   *cron.Cron
	runner Runner
	plans  map[cron.EntryID]config.Schedule
}

var _ worker.Worker = (*Scheduler)(nil)

// New parses every schedule and starts the cron loop. Expressions use the
// standard five fields or descriptors such as "@daily".
func New(runner Runner, schedules []config.Schedule) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.NotValidf("nil Runner")
	}

	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger{}), cron.WithChain(cron.Recover(cronLogger{}))),
		runner: runner,
		plans:  make(map[cron.EntryID]config.Schedule),
	}

	for _, sched := range schedules {
		indices, err := config.ParseJobSelection(sched.Jobs)
		if err != nil {
			return nil, errors.Annotatef(err, "schedule %q", sched.Cron)
		}

		id, err := s.cron.AddFunc(sched.Cron, s.launcher(sched, indices))
		if err != nil {
			return nil, errors.NewNotValid(err, fmt.Sprintf("cron expression %q", sched.Cron))
		}

		s.plans[id] = sched
	}

	s.tomb.Go(s.loop)

	return s, nil
}

func (s *Scheduler) launcher(sched config.Schedule, indices []int) func() {
	return func() {
		batch := s.runner.ExecuteJobsAsync(context.Background(), indices)
		logger.Infof("schedule %q (jobs %s): %s", sched.Cron, sched.Jobs, batch.Launched().Message)
	}
}

func (s *Scheduler) loop() error {
	s.cron.Start()
	logger.Debugf("scheduler running with %d schedule(s)", len(s.plans))

	<-s.tomb.Dying()

	<-s.cron.Stop().Done()

	return nil
}

// Plans lists the schedules ordered by their next run.
func (s *Scheduler) Plans() []Planned {
	entries := s.cron.Entries()

	plans := make([]Planned, 0, len(entries))
	for _, entry := range entries {
		sched := s.plans[entry.ID]
		plans = append(plans, Planned{Cron: sched.Cron, Jobs: sched.Jobs, Next: entry.Next})
	}

	sort.SliceStable(plans, func(i, j int) bool { return plans[i].Next.Before(plans[j].Next) })

	return plans
}

// Kill is part of the worker.Worker interface.
func (s *Scheduler) Kill() {
	s.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *Scheduler) Wait() error {
	return s.tomb.Wait()
}

// cronLogger routes cron's own logging to loggo.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Tracef("cron: %s%s", msg, pairs(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Errorf("cron: %s%s: %v", msg, pairs(keysAndValues), err)
}

func pairs(keysAndValues []any) string {
	var b strings.Builder

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}

	return b.String()
}
