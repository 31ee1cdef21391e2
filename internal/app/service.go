/**
 * @description
 * This file contains the reward engines of the ledger-service. The `Service` struct
 * computes what to credit and when for the VIP, cashback, referral and AMOE flows, and
 * hands every balance change to the ledger Settler so that state transitions and
 * wallet mutations commit together.
 *
 * Key features:
 * - Opens wallets and serves the wallet and transaction read models.
 * - Runs each reward flow inside one settlement unit with bounded conflict retries.
 * - Emits notification triggers after commit, never before.
 *
 * @dependencies
 * - github.com/google/uuid: For UUID generation.
 * - github.com/sirupsen/logrus: Structured logging.
 * - internal/config, internal/domain, internal/ledger, internal/store.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/config"
	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/neonplay/ledger-service/internal/ledger"
	"github.com/neonplay/ledger-service/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	defaultTransactionPageSize = 20
	maxTransactionPageSize     = 100

	amoeGenerateRateScope = "amoe_generate"
)

// Service provides the reward settlement logic.
type Service struct {
	repo     store.Repository
	settler  *ledger.Settler
	rewards  config.RewardConfig
	notifier Notifier
	log      *logrus.Entry

	throttle GenerateThrottle

	now     func() time.Time
	newCode CodeGenerator
}

// NewService creates a new reward service instance. A nil notifier disables notifications.
func NewService(repo store.Repository, settler *ledger.Settler, rewards config.RewardConfig, notifier Notifier, log *logrus.Entry) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		repo:     repo,
		settler:  settler,
		rewards:  rewards,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		newCode:  randomCode,
	}
}

// WithGenerateThrottle enables the AMOE generate throttle.
func (s *Service) WithGenerateThrottle(throttle GenerateThrottle) *Service {
	s.throttle = throttle
	return s
}

// OpenWallet creates the user's zero-balance wallet. Calling it again returns the existing wallet.
func (s *Service) OpenWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrUserNotFound.WithMessage("user id is required")
	}
	wallet, err := s.repo.CreateWallet(ctx, domain.NewWallet(userID, s.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet: %w", err)
	}
	return wallet, nil
}

func (s *Service) GetWallet(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	return s.repo.FindWalletByUserID(ctx, userID)
}

// ListTransactions returns the user's transactions newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Transaction, error) {
	if _, err := s.repo.FindWalletByUserID(ctx, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTransactionPageSize
	}
	if limit > maxTransactionPageSize {
		limit = maxTransactionPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListTransactionsByUserID(ctx, userID, domain.TransactionListOptions{Limit: limit, Offset: offset})
}

// notifyCredits emits one reward.credited notification per transaction in the receipt.
func (s *Service) notifyCredits(receipt *ledger.Receipt) {
	if receipt == nil {
		return
	}
	for _, tx := range receipt.Transactions {
		if !tx.Amount.IsPositive() {
			continue
		}
		s.notifier.RewardCredited(domain.RewardCreditedNotification{
			UserID:        tx.UserID,
			TransactionID: tx.ID,
			Type:          tx.Type,
			Currency:      tx.Currency,
			Amount:        tx.Amount,
			ReferenceType: tx.ReferenceType,
			ReferenceID:   tx.ReferenceID,
			Timestamp:     tx.CreatedAt,
		})
	}
}
