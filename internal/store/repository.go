/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access the
 * ledger-service needs. Every mutation that must be atomic runs inside `RunInTx`, which
 * hands the callback a `Queries` bound to one database transaction. The same `Queries`
 * methods are available outside a transaction for read models.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models and error sentinels.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/domain"
)

// Queries is the set of statements the ledger and the reward engines issue.
// Methods whose name ends in ForUpdate take a row lock when run inside RunInTx.
type Queries interface {
	// User methods
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)

	// Wallet methods
	CreateWallet(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error)
	FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error)
	// UpdateWalletIfVersion writes balances and counters and bumps version by one,
	// only if the stored version still equals expectedVersion. It returns
	// domain.ErrVersionConflict otherwise.
	UpdateWalletIfVersion(ctx context.Context, wallet *domain.Wallet, expectedVersion int64) (*domain.Wallet, error)
	InsertTransaction(ctx context.Context, tx *domain.Transaction) error
	ListTransactionsByUserID(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error)

	// VIP methods
	ListVipTiers(ctx context.Context) ([]domain.VipTier, error)
	UpsertVipTier(ctx context.Context, tier domain.VipTier) error
	FindUserVipByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*domain.UserVip, error)
	CreateUserVip(ctx context.Context, vip *domain.UserVip) (*domain.UserVip, error)
	UpdateUserVip(ctx context.Context, vip *domain.UserVip) error
	InsertXpHistory(ctx context.Context, entry *domain.XpHistory) error
	XpHistoryExists(ctx context.Context, source, referenceID string) (bool, error)
	// InsertCashbackAccrual records one loss accrual. A repeated (user, reference)
	// pair returns domain.ErrCashbackAlreadyAccrued.
	InsertCashbackAccrual(ctx context.Context, record *domain.CashbackAccrualRecord) error

	// Referral methods
	FindReferralCodeByUserID(ctx context.Context, userID uuid.UUID) (*domain.ReferralCode, error)
	FindReferralCodeByCode(ctx context.Context, code string) (*domain.ReferralCode, error)
	CreateReferralCode(ctx context.Context, code *domain.ReferralCode) error
	FindReferralByReferredIDForUpdate(ctx context.Context, referredID uuid.UUID) (*domain.Referral, error)
	FindReferralByIDForUpdate(ctx context.Context, referralID uuid.UUID) (*domain.Referral, error)
	CreateReferral(ctx context.Context, referral *domain.Referral) error
	UpdateReferral(ctx context.Context, referral *domain.Referral) error
	ListReferralsByReferrerID(ctx context.Context, referrerID uuid.UUID) ([]domain.Referral, error)
	// ListQualifyingReferralIDs returns pending referrals that already have a
	// recorded qualifying purchase, least recently touched first.
	ListQualifyingReferralIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
	InsertBonusClaim(ctx context.Context, claim *domain.BonusClaim) error

	// AMOE methods
	FindGeneratedAmoeEntryByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*domain.AmoeEntry, error)
	CountAmoeEntriesSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	AmoeCodeExists(ctx context.Context, code string) (bool, error)
	CreateAmoeEntry(ctx context.Context, entry *domain.AmoeEntry) error
	FindAmoeEntryByCodeForUpdate(ctx context.Context, userID uuid.UUID, code string) (*domain.AmoeEntry, error)
	FindAmoeEntryByIDForUpdate(ctx context.Context, entryID uuid.UUID) (*domain.AmoeEntry, error)
	UpdateAmoeEntry(ctx context.Context, entry *domain.AmoeEntry) error
	ListAmoeEntriesByUserID(ctx context.Context, userID uuid.UUID) ([]domain.AmoeEntry, error)
	ExpireGeneratedAmoeEntries(ctx context.Context, createdBefore time.Time, now time.Time) (int64, error)
}

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	Queries

	// RunInTx runs fn inside one atomic unit. fn's Queries must not escape the
	// callback. The unit commits only if fn returns nil.
	RunInTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
}
