package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/neonplay/ledger-service/internal/ledger"
	"github.com/neonplay/ledger-service/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// errReferralNotPending aborts a qualification unit whose referral moved on
// since the pre-check. It never leaves this file.
var errReferralNotPending = errors.New("referral is no longer pending")

// ReferralRewardResult is the outcome of a committed referral payout.
type ReferralRewardResult struct {
	Referral            *domain.Referral    `json:"referral"`
	ReferrerTransaction *domain.Transaction `json:"referrer_transaction"`
	ReferredTransaction *domain.Transaction `json:"referred_transaction"`
}

// EnsureReferralCode returns the user's referral code, minting one on first use.
func (s *Service) EnsureReferralCode(ctx context.Context, userID uuid.UUID) (*domain.ReferralCode, error) {
	existing, err := s.repo.FindReferralCodeByUserID(ctx, userID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrReferralCodeNotFound) {
		return nil, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode(referralCodeLength)
		if err != nil {
			return nil, err
		}

		var minted *domain.ReferralCode
		err = s.repo.RunInTx(ctx, func(ctx context.Context, q store.Queries) error {
			current, err := q.FindReferralCodeByUserID(ctx, userID)
			if err == nil {
				minted = current
				return nil
			}
			if !errors.Is(err, domain.ErrReferralCodeNotFound) {
				return err
			}
			rc := &domain.ReferralCode{Code: code, UserID: userID, CreatedAt: s.now()}
			if err := q.CreateReferralCode(ctx, rc); err != nil {
				return err
			}
			minted = rc
			return nil
		})
		switch {
		case err == nil:
			return minted, nil
		case errors.Is(err, store.ErrReferralCodeTaken):
			s.log.WithField("attempt", attempt+1).Debug("referral code collision, retrying")
			continue
		case errors.Is(err, domain.ErrVersionConflict):
			// A concurrent request minted the user's code first.
			return s.repo.FindReferralCodeByUserID(ctx, userID)
		default:
			return nil, err
		}
	}
	return nil, domain.ErrCodeSpaceExhausted.WithMessage("could not mint a unique referral code after %d attempts", maxCodeAttempts)
}

// ApplyReferralCode links userID to the owner of code as a pending referral.
func (s *Service) ApplyReferralCode(ctx context.Context, userID uuid.UUID, code string) (*domain.Referral, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.ErrReferralCodeNotFound
	}

	var referral *domain.Referral
	_, err := s.settler.Settle(ctx, "referral.apply", func(ctx context.Context, u *ledger.Unit) error {
		q := u.Queries()
		_, err := q.FindReferralByReferredIDForUpdate(ctx, userID)
		if err == nil {
			return domain.ErrReferralAlreadyApplied
		}
		if !errors.Is(err, domain.ErrReferralNotFound) {
			return err
		}

		rc, err := q.FindReferralCodeByCode(ctx, code)
		if err != nil {
			return err
		}
		if rc.UserID == userID {
			return domain.ErrSelfReferral
		}

		referrer, err := q.FindUserByID(ctx, rc.UserID)
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrReferrerInactive
		}
		if err != nil {
			return err
		}
		if !referrer.IsActive() {
			return domain.ErrReferrerInactive
		}

		now := s.now()
		referral = &domain.Referral{
			ID:         uuid.New(),
			ReferrerID: rc.UserID,
			ReferredID: userID,
			Code:       rc.Code,
			Status:     domain.ReferralStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return q.CreateReferral(ctx, referral)
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"referrer_id": referral.ReferrerID, "referred_id": userID}).Info("referral code applied")
	return referral, nil
}

// CheckAndProcessReferralQualification pays out the user's pending referral when
// purchaseAmount reaches the qualification threshold. It returns nil, nil when
// there is nothing to do.
//
// The qualifying purchase is recorded in its own unit before the payout runs.
// When the payout fails the referral stays pending, neither side is paid, and
// SweepQualifiedReferrals retries it from the recorded purchase.
func (s *Service) CheckAndProcessReferralQualification(ctx context.Context, userID uuid.UUID, purchaseAmount decimal.Decimal) (*ReferralRewardResult, error) {
	if purchaseAmount.LessThan(s.rewards.QualificationThreshold) {
		return nil, nil
	}

	pending, err := s.repo.FindReferralByReferredIDForUpdate(ctx, userID)
	if errors.Is(err, domain.ErrReferralNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if pending.Status != domain.ReferralStatusPending {
		return nil, nil
	}

	var referralID uuid.UUID
	_, err = s.settler.Settle(ctx, "referral.record_purchase", func(ctx context.Context, u *ledger.Unit) error {
		q := u.Queries()
		referral, err := q.FindReferralByReferredIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if referral.Status != domain.ReferralStatusPending {
			return errReferralNotPending
		}
		referralID = referral.ID
		if referral.QualifyingAmount != nil {
			return nil
		}
		amount := purchaseAmount
		referral.QualifyingAmount = &amount
		referral.UpdatedAt = s.now()
		return q.UpdateReferral(ctx, referral)
	})
	if errors.Is(err, errReferralNotPending) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	result, err := s.qualifyAndReward(ctx, referralID)
	if errors.Is(err, errReferralNotPending) {
		return nil, nil
	}
	return result, err
}

// qualifyAndReward moves a pending referral with a recorded qualifying purchase
// to qualified and pays both sides in one unit.
func (s *Service) qualifyAndReward(ctx context.Context, referralID uuid.UUID) (*ReferralRewardResult, error) {
	var result *ReferralRewardResult
	receipt, err := s.settler.Settle(ctx, "referral.qualify", func(ctx context.Context, u *ledger.Unit) error {
		q := u.Queries()
		referral, err := q.FindReferralByIDForUpdate(ctx, referralID)
		if err != nil {
			return err
		}
		if referral.Status != domain.ReferralStatusPending || referral.QualifyingAmount == nil {
			return errReferralNotPending
		}

		now := s.now()
		referral.Status = domain.ReferralStatusQualified
		referral.QualifiedAt = &now
		referral.UpdatedAt = now
		if err := q.UpdateReferral(ctx, referral); err != nil {
			return err
		}

		result, err = s.rewardReferral(ctx, u, referral)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notifyCredits(receipt)
	return result, nil
}

// ProcessReferralReward pays both sides of a pending or qualified referral. A
// rewarded referral is rejected, never paid twice.
func (s *Service) ProcessReferralReward(ctx context.Context, referralID uuid.UUID) (*ReferralRewardResult, error) {
	var result *ReferralRewardResult
	receipt, err := s.settler.Settle(ctx, "referral.reward", func(ctx context.Context, u *ledger.Unit) error {
		referral, err := u.Queries().FindReferralByIDForUpdate(ctx, referralID)
		if err != nil {
			return err
		}
		result, err = s.rewardReferral(ctx, u, referral)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notifyCredits(receipt)
	return result, nil
}

func (s *Service) rewardReferral(ctx context.Context, u *ledger.Unit, referral *domain.Referral) (*ReferralRewardResult, error) {
	if referral.Status == domain.ReferralStatusRewarded {
		return nil, domain.ErrReferralAlreadyRewarded
	}
	q := u.Queries()
	for _, id := range []uuid.UUID{referral.ReferrerID, referral.ReferredID} {
		if _, err := q.FindWalletByUserID(ctx, id); err != nil {
			return nil, fmt.Errorf("referral %s: %w", referral.ID, err)
		}
	}

	referenceID := referral.ID.String()
	referrerTx, err := u.Apply(ctx, domain.Credit(referral.ReferrerID, s.rewards.ReferralCurrency, s.rewards.ReferrerReward, domain.TransactionTypeBonus).
		WithReference(domain.ReferenceTypeReferral, referenceID).
		WithDescription("Referral bonus for inviting a friend"))
	if err != nil {
		return nil, err
	}
	referredTx, err := u.Apply(ctx, domain.Credit(referral.ReferredID, s.rewards.ReferralCurrency, s.rewards.ReferredReward, domain.TransactionTypeBonus).
		WithReference(domain.ReferenceTypeReferral, referenceID).
		WithDescription("Referral welcome bonus"))
	if err != nil {
		return nil, err
	}

	now := s.now()
	claims := []domain.BonusClaim{
		{UserID: referral.ReferrerID, BonusType: domain.BonusTypeReferralReferrer, Amount: s.rewards.ReferrerReward, TransactionID: referrerTx.ID},
		{UserID: referral.ReferredID, BonusType: domain.BonusTypeReferralReferred, Amount: s.rewards.ReferredReward, TransactionID: referredTx.ID},
	}
	for i := range claims {
		claims[i].ID = uuid.New()
		claims[i].Currency = s.rewards.ReferralCurrency
		claims[i].ReferenceType = domain.ReferenceTypeReferral
		claims[i].ReferenceID = referenceID
		claims[i].ClaimedAt = now
		if err := q.InsertBonusClaim(ctx, &claims[i]); err != nil {
			return nil, err
		}
	}

	referral.Status = domain.ReferralStatusRewarded
	referral.RewardedAt = &now
	if referral.QualifiedAt == nil {
		referral.QualifiedAt = &now
	}
	referral.UpdatedAt = now
	if err := q.UpdateReferral(ctx, referral); err != nil {
		return nil, err
	}

	return &ReferralRewardResult{Referral: referral, ReferrerTransaction: referrerTx, ReferredTransaction: referredTx}, nil
}

func (s *Service) ListReferrals(ctx context.Context, referrerID uuid.UUID) ([]domain.Referral, error) {
	return s.repo.ListReferralsByReferrerID(ctx, referrerID)
}

// SweepQualifiedReferrals retries payouts for pending referrals whose qualifying
// purchase was recorded but whose reward failed, oldest first.
func (s *Service) SweepQualifiedReferrals(ctx context.Context, limit int) (int, error) {
	ids, err := s.repo.ListQualifyingReferralIDs(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list qualifying referrals: %w", err)
	}

	rewarded := 0
	var errs []error
	for _, id := range ids {
		if _, err := s.qualifyAndReward(ctx, id); err != nil {
			if errors.Is(err, errReferralNotPending) || domain.IsAlreadySettled(err) {
				continue
			}
			s.log.WithField("referral_id", id).WithError(err).Warn("failed to reward qualifying referral")
			errs = append(errs, fmt.Errorf("referral %s: %w", id, err))
			continue
		}
		rewarded++
	}
	return rewarded, errors.Join(errs...)
}
