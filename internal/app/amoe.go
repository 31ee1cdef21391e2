package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/neonplay/ledger-service/internal/ledger"
	"github.com/neonplay/ledger-service/internal/store"
	"github.com/neonplay/ledger-service/pkg/validation"
	"github.com/sirupsen/logrus"
)

const (
	amoeDailyWindow  = 24 * time.Hour
	amoeWeeklyWindow = 7 * 24 * time.Hour
)

// AmoeRedemption is the outcome of a committed prize redemption.
type AmoeRedemption struct {
	Entry       *domain.AmoeEntry   `json:"entry"`
	Transaction *domain.Transaction `json:"transaction"`
}

// GenerateCode returns the user's unused mail-in code, issuing a new one when none
// is outstanding and the daily and weekly caps allow it.
func (s *Service) GenerateCode(ctx context.Context, userID uuid.UUID) (*domain.AmoeEntry, error) {
	if err := s.throttleAmoeGenerate(ctx, userID); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode(amoeCodeLength)
		if err != nil {
			return nil, err
		}

		var entry *domain.AmoeEntry
		_, err = s.settler.Settle(ctx, "amoe.generate", func(ctx context.Context, u *ledger.Unit) error {
			q := u.Queries()
			existing, err := q.FindGeneratedAmoeEntryByUserIDForUpdate(ctx, userID)
			if err == nil {
				entry = existing
				return nil
			}
			if !errors.Is(err, domain.ErrAmoeEntryNotFound) {
				return err
			}

			now := s.now()
			if err := s.checkAmoeLimit(ctx, q, userID, now.Add(-amoeDailyWindow), s.rewards.AmoeDailyLimit, domain.ErrAmoeDailyLimit); err != nil {
				return err
			}
			if err := s.checkAmoeLimit(ctx, q, userID, now.Add(-amoeWeeklyWindow), s.rewards.AmoeWeeklyLimit, domain.ErrAmoeWeeklyLimit); err != nil {
				return err
			}

			taken, err := q.AmoeCodeExists(ctx, code)
			if err != nil {
				return err
			}
			if taken {
				return store.ErrAmoeCodeTaken
			}

			created := &domain.AmoeEntry{
				ID:        uuid.New(),
				UserID:    userID,
				Code:      code,
				Status:    domain.AmoeStatusGenerated,
				CreatedAt: now,
			}
			if err := q.CreateAmoeEntry(ctx, created); err != nil {
				if errors.Is(err, store.ErrGeneratedAmoeExists) {
					// Lost the race to a concurrent request; the retry reuses its code.
					return domain.ErrVersionConflict
				}
				return err
			}
			entry = created
			return nil
		})
		if errors.Is(err, store.ErrAmoeCodeTaken) {
			s.log.WithField("attempt", attempt+1).Debug("amoe code collision, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return entry, nil
	}
	return nil, domain.ErrCodeSpaceExhausted.WithMessage("could not mint a unique amoe code after %d attempts", maxCodeAttempts)
}

func (s *Service) checkAmoeLimit(ctx context.Context, q store.Queries, userID uuid.UUID, since time.Time, limit int, limitErr *domain.Error) error {
	if limit <= 0 {
		return nil
	}
	count, err := q.CountAmoeEntriesSince(ctx, userID, since)
	if err != nil {
		return err
	}
	if count >= limit {
		return limitErr
	}
	return nil
}

func (s *Service) throttleAmoeGenerate(ctx context.Context, userID uuid.UUID) error {
	if s.throttle == nil {
		return nil
	}
	err := s.throttle.AdmitGenerate(ctx, userID)
	if err == nil || errors.Is(err, domain.ErrAmoeRateLimited) {
		return err
	}
	s.log.WithField("user_id", userID).WithError(err).Warn("amoe throttle unavailable; allowing request")
	return nil
}

// SubmitEntry attaches a postal address to the user's generated code.
func (s *Service) SubmitEntry(ctx context.Context, userID uuid.UUID, code string, address domain.PostalAddress) (*domain.AmoeEntry, error) {
	if err := validation.Struct(address); err != nil {
		return nil, domain.ErrInvalidPostalAddress.WithMessage("invalid postal address: %s", strings.Join(validation.FormatValidationError(err), "; "))
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.ErrAmoeEntryNotFound
	}

	var entry *domain.AmoeEntry
	_, err := s.settler.Settle(ctx, "amoe.submit", func(ctx context.Context, u *ledger.Unit) error {
		q := u.Queries()
		found, err := q.FindAmoeEntryByCodeForUpdate(ctx, userID, code)
		if err != nil {
			return err
		}
		if found.Status != domain.AmoeStatusGenerated {
			return domain.ErrAmoeEntryNotFound.WithMessage("no unused amoe entry with this code")
		}

		now := s.now()
		addr := address
		found.Status = domain.AmoeStatusSubmitted
		found.PostalAddress = &addr
		found.SubmittedAt = &now
		if err := q.UpdateAmoeEntry(ctx, found); err != nil {
			return err
		}
		entry = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ApproveEntry moves a submitted entry to approved and fixes its prize.
func (s *Service) ApproveEntry(ctx context.Context, entryID uuid.UUID) (*domain.AmoeEntry, error) {
	var entry *domain.AmoeEntry
	_, err := s.settler.Settle(ctx, "amoe.approve", func(ctx context.Context, u *ledger.Unit) error {
		q := u.Queries()
		found, err := q.FindAmoeEntryByIDForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		switch found.Status {
		case domain.AmoeStatusSubmitted:
		case domain.AmoeStatusApproved, domain.AmoeStatusRedeemed:
			return domain.ErrAmoeAlreadyApproved
		default:
			return domain.ErrAmoeNotSubmitted
		}

		now := s.now()
		amount := s.rewards.AmoeRewardAmount
		currency := s.rewards.AmoeRewardCurrency
		found.Status = domain.AmoeStatusApproved
		found.RewardAmount = &amount
		found.RewardCurrency = &currency
		found.ApprovedAt = &now
		if err := q.UpdateAmoeEntry(ctx, found); err != nil {
			return err
		}
		entry = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"entry_id": entryID, "user_id": entry.UserID}).Info("amoe entry approved")
	return entry, nil
}

// RedeemEntry credits the prize of the user's approved entry exactly once.
func (s *Service) RedeemEntry(ctx context.Context, userID, entryID uuid.UUID) (*AmoeRedemption, error) {
	var redemption *AmoeRedemption
	receipt, err := s.settler.Settle(ctx, "amoe.redeem", func(ctx context.Context, u *ledger.Unit) error {
		q := u.Queries()
		entry, err := q.FindAmoeEntryByIDForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.UserID != userID {
			return domain.ErrAmoeEntryNotFound
		}
		switch entry.Status {
		case domain.AmoeStatusApproved:
		case domain.AmoeStatusRedeemed:
			return domain.ErrAmoeAlreadyRedeemed
		default:
			return domain.ErrAmoeNotApproved
		}

		amount := s.rewards.AmoeRewardAmount
		if entry.RewardAmount != nil {
			amount = *entry.RewardAmount
		}
		currency := s.rewards.AmoeRewardCurrency
		if entry.RewardCurrency != nil {
			currency = *entry.RewardCurrency
		}

		now := s.now()
		entry.Status = domain.AmoeStatusRedeemed
		entry.RedeemedAt = &now
		if err := q.UpdateAmoeEntry(ctx, entry); err != nil {
			return err
		}

		tx, err := u.Apply(ctx, domain.Credit(userID, currency, amount, domain.TransactionTypeAmoePrize).
			WithReference(domain.ReferenceTypeAmoeEntry, entry.ID.String()).
			WithDescription("AMOE sweepstakes prize"))
		if err != nil {
			return err
		}
		redemption = &AmoeRedemption{Entry: entry, Transaction: tx}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyCredits(receipt)
	return redemption, nil
}

// ExpireStaleCodes expires generated codes older than olderThan. A non-positive
// olderThan uses the configured code TTL.
func (s *Service) ExpireStaleCodes(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = s.rewards.AmoeCodeTTL
	}
	if olderThan <= 0 {
		return 0, nil
	}
	now := s.now()
	return s.repo.ExpireGeneratedAmoeEntries(ctx, now.Add(-olderThan), now)
}

func (s *Service) ListEntries(ctx context.Context, userID uuid.UUID) ([]domain.AmoeEntry, error) {
	return s.repo.ListAmoeEntriesByUserID(ctx, userID)
}
