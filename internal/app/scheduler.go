/**
 * @description
 * Cron scheduler setup for the keeper jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions for the keeper jobs.
type Schedules struct {
	OverdueRounds    string
	AbandonedCircles string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler. It returns how many jobs
// were scheduled.
func (s *Scheduler) Start() int {
	scheduled := 0
	if _, err := s.cron.AddFunc(s.schedules.OverdueRounds, s.jobs.ProcessOverdueRounds); err != nil {
		s.logger.Error("failed to schedule overdue rounds job", "error", err)
	} else {
		scheduled++
		s.logger.Info("scheduled overdue rounds job", "schedule", s.schedules.OverdueRounds)
	}

	if _, err := s.cron.AddFunc(s.schedules.AbandonedCircles, s.jobs.ProcessAbandonedCircles); err != nil {
		s.logger.Error("failed to schedule abandoned circles job", "error", err)
	} else {
		scheduled++
		s.logger.Info("scheduled abandoned circles job", "schedule", s.schedules.AbandonedCircles)
	}

	s.cron.Start()
	return scheduled
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
