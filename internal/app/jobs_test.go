package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neonplay/ledger-service/internal/config"
	"github.com/neonplay/ledger-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sweeperStub struct {
	sweepCalls  int
	sweepLimit  int
	sweepErr    error
	expireTTL   time.Duration
	expireCalls int
}

func (s *sweeperStub) SweepQualifiedReferrals(ctx context.Context, limit int) (int, error) {
	s.sweepCalls++
	s.sweepLimit = limit
	return 1, s.sweepErr
}

func (s *sweeperStub) ExpireStaleCodes(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.expireCalls++
	s.expireTTL = olderThan
	return 2, nil
}

func TestJobs_SweepQualifiedReferrals(t *testing.T) {
	sweeper := &sweeperStub{}
	jobs := NewJobs(sweeper, logger.Discard(), time.Hour)

	jobs.SweepQualifiedReferrals()
	assert.Equal(t, 1, sweeper.sweepCalls)
	assert.Equal(t, referralSweepBatchSize, sweeper.sweepLimit)

	sweeper.sweepErr = errors.New("partial failure")
	assert.NotPanics(t, jobs.SweepQualifiedReferrals)
	assert.Equal(t, 2, sweeper.sweepCalls)
}

func TestJobs_ExpireAmoeCodes(t *testing.T) {
	sweeper := &sweeperStub{}
	jobs := NewJobs(sweeper, logger.Discard(), 48*time.Hour)

	jobs.ExpireAmoeCodes()
	require.Equal(t, 1, sweeper.expireCalls)
	assert.Equal(t, 48*time.Hour, sweeper.expireTTL)
}

func TestScheduler_RegistersValidSchedules(t *testing.T) {
	jobs := NewJobs(&sweeperStub{}, logger.Discard(), time.Hour)

	tests := []struct {
		name string
		cfg  config.Config
		want int
	}{
		{name: "both", cfg: config.Config{ReferralSweepSchedule: "@every 5m", AmoeExpirySchedule: "@hourly"}, want: 2},
		{name: "disabled sweep", cfg: config.Config{AmoeExpirySchedule: "@hourly"}, want: 1},
		{name: "invalid schedule", cfg: config.Config{ReferralSweepSchedule: "not a cron", AmoeExpirySchedule: "0 * * * *"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(jobs, logger.Discard(), tt.cfg)
			s.Start()
			defer s.Stop()
			assert.Equal(t, tt.want, s.Entries())
		})
	}
}
