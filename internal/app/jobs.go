/**
 * @description
 * Scheduled job implementations for the ledger-service.
 */
package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const referralSweepBatchSize = 100

// RewardSweeper is the part of the Service the scheduled jobs drive.
type RewardSweeper interface {
	SweepQualifiedReferrals(ctx context.Context, limit int) (int, error)
	ExpireStaleCodes(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	sweeper RewardSweeper
	logger  *logrus.Entry
	codeTTL time.Duration
}

// NewJobs creates a new Jobs runner.
func NewJobs(sweeper RewardSweeper, logger *logrus.Entry, codeTTL time.Duration) *Jobs {
	return &Jobs{
		sweeper: sweeper,
		logger:  logger,
		codeTTL: codeTTL,
	}
}

// SweepQualifiedReferrals retries payouts for referrals whose qualifying purchase
// was recorded but never rewarded.
func (j *Jobs) SweepQualifiedReferrals() {
	j.logger.Info("starting referral sweep job")
	ctx := context.Background()

	rewarded, err := j.sweeper.SweepQualifiedReferrals(ctx, referralSweepBatchSize)
	if err != nil {
		j.logger.WithError(err).WithField("rewarded", rewarded).Error("referral sweep finished with errors")
		return
	}

	j.logger.WithField("rewarded", rewarded).Info("referral sweep job finished")
}

// ExpireAmoeCodes expires generated AMOE codes past their TTL.
func (j *Jobs) ExpireAmoeCodes() {
	j.logger.Info("starting amoe code expiry job")
	ctx := context.Background()

	expired, err := j.sweeper.ExpireStaleCodes(ctx, j.codeTTL)
	if err != nil {
		j.logger.WithError(err).Error("failed to expire amoe codes")
		return
	}

	j.logger.WithField("expired", expired).Info("amoe code expiry job finished")
}
