package store

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openWallet(t *testing.T, repo *MemoryRepository) *domain.Wallet {
	t.Helper()
	w, err := repo.CreateWallet(context.Background(), domain.NewWallet(uuid.New(), time.Now().UTC()))
	require.NoError(t, err)
	return w
}

func TestMemoryRepository_CreateWalletIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	userID := uuid.New()

	first, err := repo.CreateWallet(ctx, domain.NewWallet(userID, time.Now().UTC()))
	require.NoError(t, err)
	second, err := repo.CreateWallet(ctx, domain.NewWallet(userID, time.Now().UTC()))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(0), second.Version)

	user, err := repo.FindUserByID(ctx, userID)
	require.NoError(t, err)
	assert.True(t, user.IsActive())
}

func TestMemoryRepository_UpdateWalletIfVersionRejectsStaleVersion(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	w := openWallet(t, repo)

	w.USDCBalance = decimal.NewFromInt(10)
	updated, err := repo.UpdateWalletIfVersion(ctx, w, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	w.USDCBalance = decimal.NewFromInt(20)
	_, err = repo.UpdateWalletIfVersion(ctx, w, 0)
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	stored, err := repo.FindWalletByUserID(ctx, w.UserID)
	require.NoError(t, err)
	assert.True(t, stored.USDCBalance.Equal(decimal.NewFromInt(10)))
}

func TestMemoryRepository_RunInTxDiscardsFailedUnit(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	w := openWallet(t, repo)
	boom := errors.New("boom")

	err := repo.RunInTx(ctx, func(ctx context.Context, q Queries) error {
		w.GCBalance = decimal.NewFromInt(5)
		if _, err := q.UpdateWalletIfVersion(ctx, w, 0); err != nil {
			return err
		}
		if err := q.InsertTransaction(ctx, &domain.Transaction{ID: uuid.New(), UserID: w.UserID, WalletID: w.ID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stored, err := repo.FindWalletByUserID(ctx, w.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.Version)
	assert.True(t, stored.GCBalance.IsZero())

	txs, err := repo.ListTransactionsByUserID(ctx, w.UserID, domain.TransactionListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestMemoryRepository_UniqueConstraints(t *testing.T) {
	ctx := context.Background()

	t.Run("one referral per referred user", func(t *testing.T) {
		repo := NewMemoryRepository()
		referred := uuid.New()
		require.NoError(t, repo.CreateReferral(ctx, &domain.Referral{ID: uuid.New(), ReferrerID: uuid.New(), ReferredID: referred, Status: domain.ReferralStatusPending}))
		err := repo.CreateReferral(ctx, &domain.Referral{ID: uuid.New(), ReferrerID: uuid.New(), ReferredID: referred, Status: domain.ReferralStatusPending})
		assert.ErrorIs(t, err, domain.ErrReferralAlreadyApplied)
	})

	t.Run("referral code collision", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.CreateReferralCode(ctx, &domain.ReferralCode{Code: "ABCD2345", UserID: uuid.New()}))
		err := repo.CreateReferralCode(ctx, &domain.ReferralCode{Code: "ABCD2345", UserID: uuid.New()})
		assert.ErrorIs(t, err, ErrReferralCodeTaken)
	})

	t.Run("one generated amoe entry per user", func(t *testing.T) {
		repo := NewMemoryRepository()
		userID := uuid.New()
		require.NoError(t, repo.CreateAmoeEntry(ctx, &domain.AmoeEntry{ID: uuid.New(), UserID: userID, Code: "AAAABBBBCCCC", Status: domain.AmoeStatusGenerated}))
		err := repo.CreateAmoeEntry(ctx, &domain.AmoeEntry{ID: uuid.New(), UserID: userID, Code: "DDDDEEEEFFFF", Status: domain.AmoeStatusGenerated})
		assert.ErrorIs(t, err, ErrGeneratedAmoeExists)
		err = repo.CreateAmoeEntry(ctx, &domain.AmoeEntry{ID: uuid.New(), UserID: uuid.New(), Code: "AAAABBBBCCCC", Status: domain.AmoeStatusGenerated})
		assert.ErrorIs(t, err, ErrAmoeCodeTaken)
	})

	t.Run("xp award per external event", func(t *testing.T) {
		repo := NewMemoryRepository()
		entry := &domain.XpHistory{ID: uuid.New(), UserID: uuid.New(), Amount: big.NewInt(10), Source: "game", ReferenceID: "round-1"}
		require.NoError(t, repo.InsertXpHistory(ctx, entry))
		dup := *entry
		dup.ID = uuid.New()
		assert.ErrorIs(t, repo.InsertXpHistory(ctx, &dup), domain.ErrXpAlreadyAwarded)

		exists, err := repo.XpHistoryExists(ctx, "game", "round-1")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("cashback accrual per user and round", func(t *testing.T) {
		repo := NewMemoryRepository()
		userID := uuid.New()
		record := &domain.CashbackAccrualRecord{ID: uuid.New(), UserID: userID, ReferenceID: "round-1"}
		require.NoError(t, repo.InsertCashbackAccrual(ctx, record))
		dup := *record
		dup.ID = uuid.New()
		assert.ErrorIs(t, repo.InsertCashbackAccrual(ctx, &dup), domain.ErrCashbackAlreadyAccrued)
		assert.NoError(t, repo.InsertCashbackAccrual(ctx, &domain.CashbackAccrualRecord{ID: uuid.New(), UserID: uuid.New(), ReferenceID: "round-1"}))
	})
}

func TestMemoryRepository_UserVipIsCopiedOnRead(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	userID := uuid.New()

	created, err := repo.CreateUserVip(ctx, &domain.UserVip{
		ID: uuid.New(), UserID: userID, TierID: uuid.New(),
		XpCurrent: big.NewInt(1), XpLifetime: big.NewInt(1),
	})
	require.NoError(t, err)
	created.XpCurrent.SetInt64(999)

	reread, err := repo.FindUserVipByUserIDForUpdate(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reread.XpCurrent.Int64())
}

func TestMemoryRepository_ExpireGeneratedAmoeEntries(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now().UTC()
	userID := uuid.New()

	require.NoError(t, repo.CreateAmoeEntry(ctx, &domain.AmoeEntry{ID: uuid.New(), UserID: userID, Code: "OLDCODE23456", Status: domain.AmoeStatusGenerated, CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, repo.CreateAmoeEntry(ctx, &domain.AmoeEntry{ID: uuid.New(), UserID: uuid.New(), Code: "NEWCODE23456", Status: domain.AmoeStatusGenerated, CreatedAt: now}))

	expired, err := repo.ExpireGeneratedAmoeEntries(ctx, now.Add(-24*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	entries, err := repo.ListAmoeEntriesByUserID(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AmoeStatusExpired, entries[0].Status)
	assert.NotNil(t, entries[0].ExpiredAt)
}

func TestMemoryRepository_ListQualifyingReferralIDs(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now().UTC()
	amount := decimal.NewFromInt(25)

	older := &domain.Referral{ID: uuid.New(), ReferrerID: uuid.New(), ReferredID: uuid.New(), Status: domain.ReferralStatusPending, QualifyingAmount: &amount, CreatedAt: now.Add(-time.Hour)}
	newer := &domain.Referral{ID: uuid.New(), ReferrerID: uuid.New(), ReferredID: uuid.New(), Status: domain.ReferralStatusPending, QualifyingAmount: &amount, CreatedAt: now}
	unpurchased := &domain.Referral{ID: uuid.New(), ReferrerID: uuid.New(), ReferredID: uuid.New(), Status: domain.ReferralStatusPending, CreatedAt: now.Add(-2 * time.Hour)}
	rewarded := &domain.Referral{ID: uuid.New(), ReferrerID: uuid.New(), ReferredID: uuid.New(), Status: domain.ReferralStatusRewarded, QualifyingAmount: &amount, CreatedAt: now.Add(-3 * time.Hour)}
	for _, r := range []*domain.Referral{newer, unpurchased, rewarded, older} {
		require.NoError(t, repo.CreateReferral(ctx, r))
	}

	ids, err := repo.ListQualifyingReferralIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{older.ID, newer.ID}, ids)

	ids, err = repo.ListQualifyingReferralIDs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{older.ID}, ids)
}
