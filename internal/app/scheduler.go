/**
 * @description
 * Cron scheduler setup for the sweep jobs.
 */
package app

import (
	"context"

	"github.com/neonplay/ledger-service/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *logrus.Entry
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *logrus.Entry, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.register("referral sweep", s.config.ReferralSweepSchedule, s.jobs.SweepQualifiedReferrals)
	s.register("amoe code expiry", s.config.AmoeExpirySchedule, s.jobs.ExpireAmoeCodes)
	s.cron.Start()
}

func (s *Scheduler) register(name, schedule string, job func()) {
	if schedule == "" {
		s.logger.WithField("job", name).Info("job disabled")
		return
	}
	if _, err := s.cron.AddFunc(schedule, job); err != nil {
		s.logger.WithField("job", name).WithError(err).Error("failed to schedule job")
		return
	}
	s.logger.WithFields(logrus.Fields{"job": name, "schedule": schedule}).Info("scheduled job")
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
