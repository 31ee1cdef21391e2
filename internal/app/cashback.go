package app

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/neonplay/ledger-service/internal/ledger"
	"github.com/shopspring/decimal"
)

// CashbackAccrual is the outcome of booking one loss against the user's VIP profile.
type CashbackAccrual struct {
	Vip     *domain.UserVip `json:"vip"`
	Accrued decimal.Decimal `json:"accrued"`
	Percent decimal.Decimal `json:"percent"`
}

// AccumulateCashback books lossAmount × tier percent into cashback_available.
// referenceID names the settled round; each (user, round) accrues at most once.
// The wallet is not touched until the user claims.
func (s *Service) AccumulateCashback(ctx context.Context, userID uuid.UUID, lossAmount decimal.Decimal, referenceID string) (*CashbackAccrual, error) {
	if !lossAmount.IsPositive() {
		return nil, domain.ErrInvalidLossAmount
	}
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return nil, domain.ErrInvalidCashbackReference
	}

	var accrual *CashbackAccrual
	_, err := s.settler.Settle(ctx, "vip.accumulate_cashback", func(ctx context.Context, u *ledger.Unit) error {
		q := u.Queries()
		ladder, err := loadLadder(ctx, q)
		if err != nil {
			return err
		}
		vip, tier, err := s.ensureUserVip(ctx, q, ladder, userID)
		if err != nil {
			return err
		}

		now := s.now()
		accrued := domain.CashbackFor(lossAmount, tier.CashbackPercent)
		if err := q.InsertCashbackAccrual(ctx, &domain.CashbackAccrualRecord{
			ID:          uuid.New(),
			UserID:      userID,
			ReferenceID: referenceID,
			LossAmount:  lossAmount,
			Percent:     tier.CashbackPercent,
			Accrued:     accrued,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		accrual = &CashbackAccrual{Vip: vip, Accrued: accrued, Percent: tier.CashbackPercent}
		if accrued.IsZero() {
			return nil
		}
		vip.CashbackAvailable = vip.CashbackAvailable.Add(accrued)
		vip.UpdatedAt = now
		return q.UpdateUserVip(ctx, vip)
	})
	if err != nil {
		return nil, err
	}
	return accrual, nil
}

// ClaimCashback moves the whole available cashback into the wallet. The reset and
// the credit commit together.
func (s *Service) ClaimCashback(ctx context.Context, userID uuid.UUID) (*domain.Transaction, error) {
	var credited *domain.Transaction
	receipt, err := s.settler.Settle(ctx, "vip.claim_cashback", func(ctx context.Context, u *ledger.Unit) error {
		q := u.Queries()
		vip, err := q.FindUserVipByUserIDForUpdate(ctx, userID)
		if errors.Is(err, domain.ErrUserVipNotFound) {
			return domain.ErrNoCashbackAvailable
		}
		if err != nil {
			return err
		}
		amount := vip.CashbackAvailable
		if !amount.IsPositive() {
			return domain.ErrNoCashbackAvailable
		}

		vip.CashbackAvailable = decimal.Zero
		vip.UpdatedAt = s.now()
		if err := q.UpdateUserVip(ctx, vip); err != nil {
			return err
		}

		effect := domain.Credit(userID, s.rewards.CashbackCurrency, amount, domain.TransactionTypeCashback).
			WithReference(domain.ReferenceTypeVipCashback, vip.ID.String()).
			WithDescription("VIP cashback claim")
		credited, err = u.Apply(ctx, effect)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notifyCredits(receipt)
	return credited, nil
}
