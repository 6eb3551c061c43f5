// Package tasks schedules the background maintenance jobs a running
// store needs: periodic checkpoint-bookkeeping snapshots and
// archiving of old snapshot files, both off the write/query hot path.
package tasks

import (
	"context"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
)

// Scheduler wraps a gocron scheduler with the jobs this store needs.
type Scheduler struct {
	sched gocron.Scheduler
}

// New builds a Scheduler. Call Start to begin running jobs and Stop to
// shut it down cleanly.
func New() (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scheduler{sched: sched}, nil
}

// ScheduleSnapshots registers a job that runs snapshot every interval.
func (s *Scheduler) ScheduleSnapshots(interval time.Duration, snapshot func(ctx context.Context) error) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := snapshot(context.Background()); err != nil {
				cclog.Errorf("[TASKS]> checkpoint snapshot failed: %s", err.Error())
			}
		}),
	)
	return err
}

// ScheduleArchiving registers a job that runs archive once a day, at the
// hour of day given by at (whole hours after midnight). The age cut-off
// is up to archive itself.
func (s *Scheduler) ScheduleArchiving(at time.Duration, archive func(ctx context.Context) error) error {
	_, err := s.sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(uint(at.Hours()), 0, 0))),
		gocron.NewTask(func() {
			if err := archive(context.Background()); err != nil {
				cclog.Errorf("[TASKS]> checkpoint archiving failed: %s", err.Error())
			}
		}),
	)
	return err
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() { s.sched.Start() }

// Stop shuts the scheduler down, waiting for in-flight jobs to finish.
func (s *Scheduler) Stop() error { return s.sched.Shutdown() }
