package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/neonplay/ledger-service/internal/ledger"
	"github.com/neonplay/ledger-service/internal/store"
	"github.com/sirupsen/logrus"
)

// XpAwardResult describes a committed XP award.
type XpAwardResult struct {
	Vip          *domain.UserVip   `json:"vip"`
	Upgraded     bool              `json:"upgraded"`
	PreviousTier domain.VipTier    `json:"previous_tier"`
	NewTier      domain.VipTier    `json:"new_tier"`
	History      *domain.XpHistory `json:"history"`
}

// SyncTiers upserts the configured ladder keyed by level.
func (s *Service) SyncTiers(ctx context.Context, tiers []domain.VipTier) error {
	if len(tiers) == 0 {
		return domain.ErrVipTiersMissing
	}
	return s.repo.RunInTx(ctx, func(ctx context.Context, q store.Queries) error {
		for _, tier := range tiers {
			if err := q.UpsertVipTier(ctx, tier); err != nil {
				return err
			}
		}
		return nil
	})
}

func loadLadder(ctx context.Context, q store.Queries) (domain.TierLadder, error) {
	tiers, err := q.ListVipTiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load vip tiers: %w", err)
	}
	if len(tiers) == 0 {
		return nil, domain.ErrVipTiersMissing
	}
	return domain.NewTierLadder(tiers), nil
}

// ensureUserVip locks the user's VIP row, creating it at the lowest tier on first use.
func (s *Service) ensureUserVip(ctx context.Context, q store.Queries, ladder domain.TierLadder, userID uuid.UUID) (*domain.UserVip, domain.VipTier, error) {
	vip, err := q.FindUserVipByUserIDForUpdate(ctx, userID)
	if errors.Is(err, domain.ErrUserVipNotFound) {
		lowest, _ := ladder.Lowest()
		now := s.now()
		vip, err = q.CreateUserVip(ctx, &domain.UserVip{
			ID:         uuid.New(),
			UserID:     userID,
			TierID:     lowest.ID,
			XpCurrent:  new(big.Int),
			XpLifetime: new(big.Int),
			NextTierXp: ladder.NextTierThreshold(lowest),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if err != nil {
		return nil, domain.VipTier{}, err
	}

	tier, ok := ladder.ByID(vip.TierID)
	if !ok {
		return nil, domain.VipTier{}, domain.ErrVipTiersMissing.WithMessage("tier %s of user %s is not on the ladder", vip.TierID, userID)
	}
	return vip, tier, nil
}

// AwardXp adds XP to the user's VIP profile and applies any tier upgrade it unlocks.
// A repeated (source, referenceID) pair is rejected as already awarded.
func (s *Service) AwardXp(ctx context.Context, userID uuid.UUID, amount *big.Int, source, referenceID string) (*XpAwardResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.ErrInvalidXpAmount
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, domain.ErrInvalidXpSource
	}
	referenceID = strings.TrimSpace(referenceID)

	var result *XpAwardResult
	_, err := s.settler.Settle(ctx, "vip.award_xp", func(ctx context.Context, u *ledger.Unit) error {
		q := u.Queries()
		ladder, err := loadLadder(ctx, q)
		if err != nil {
			return err
		}
		if referenceID != "" {
			seen, err := q.XpHistoryExists(ctx, source, referenceID)
			if err != nil {
				return err
			}
			if seen {
				return domain.ErrXpAlreadyAwarded
			}
		}

		vip, current, err := s.ensureUserVip(ctx, q, ladder, userID)
		if err != nil {
			return err
		}

		now := s.now()
		vip.XpCurrent = new(big.Int).Add(vip.XpCurrent, amount)
		vip.XpLifetime = new(big.Int).Add(vip.XpLifetime, amount)
		newTier := current
		upgraded := false
		if next, ok := ladder.Upgrade(current, vip.XpCurrent); ok {
			newTier = next
			upgraded = true
			vip.TierID = next.ID
			vip.TierUpgradedAt = &now
		}
		vip.NextTierXp = ladder.NextTierThreshold(newTier)
		vip.UpdatedAt = now

		history := &domain.XpHistory{
			ID:          uuid.New(),
			UserID:      userID,
			Amount:      new(big.Int).Set(amount),
			Source:      source,
			ReferenceID: referenceID,
			TierBefore:  current.ID,
			TierAfter:   newTier.ID,
			CreatedAt:   now,
		}
		if err := q.InsertXpHistory(ctx, history); err != nil {
			return err
		}
		if err := q.UpdateUserVip(ctx, vip); err != nil {
			return err
		}

		result = &XpAwardResult{Vip: vip, Upgraded: upgraded, PreviousTier: current, NewTier: newTier, History: history}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Upgraded {
		s.log.WithFields(logrus.Fields{"user_id": userID, "from": result.PreviousTier.Name, "to": result.NewTier.Name}).Info("vip tier upgraded")
		s.notifier.TierUpgraded(domain.TierUpgradedNotification{
			UserID:       userID,
			PreviousTier: result.PreviousTier.Name,
			NewTier:      result.NewTier.Name,
			NewLevel:     result.NewTier.Level,
			Timestamp:    *result.Vip.TierUpgradedAt,
		})
	}
	return result, nil
}

// GetVipStatus returns the user's tier and progress toward the next one.
func (s *Service) GetVipStatus(ctx context.Context, userID uuid.UUID) (*domain.TierProgress, error) {
	var progress domain.TierProgress
	err := s.repo.RunInTx(ctx, func(ctx context.Context, q store.Queries) error {
		ladder, err := loadLadder(ctx, q)
		if err != nil {
			return err
		}
		vip, tier, err := s.ensureUserVip(ctx, q, ladder, userID)
		if err != nil {
			return err
		}
		progress = domain.ComputeTierProgress(ladder, vip, tier)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &progress, nil
}
