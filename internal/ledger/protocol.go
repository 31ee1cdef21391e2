/**
 * @description
 * The wallet update protocol. Every balance mutation in the service goes through
 * ApplyLedgerEffect: read the wallet, compute the new balance and lifetime counters,
 * write back with a version compare-and-swap, then append the paired transaction row.
 *
 * @notes
 * - A version mismatch is returned as domain.ErrVersionConflict and never retried
 *   here. The Settler owns retries.
 * - Balances are rejected, never clamped, when they would go negative.
 */

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/neonplay/ledger-service/internal/store"
	"github.com/shopspring/decimal"
)

// ValidateEffect checks the effect before any store round trip.
func ValidateEffect(effect domain.LedgerEffect) error {
	if effect.UserID == uuid.Nil {
		return domain.ErrInvalidAmount.WithMessage("ledger effect has no user")
	}
	if !effect.Currency.Valid() {
		return domain.ErrInvalidAmount.WithMessage("unsupported currency %q", effect.Currency)
	}
	if effect.Delta.IsZero() {
		return domain.ErrInvalidAmount.WithMessage("amount must not be zero")
	}
	if !effect.Delta.Equal(effect.Delta.Round(domain.MaxAmountScale)) {
		return domain.ErrInvalidAmount.WithMessage("amount %s has more than %d decimal places", effect.Delta, domain.MaxAmountScale)
	}
	if effect.Type == "" {
		return domain.ErrInvalidAmount.WithMessage("transaction type is required")
	}
	if effect.ExchangeRate.Sign() < 0 {
		return domain.ErrInvalidAmount.WithMessage("exchange rate must not be negative")
	}
	return nil
}

// ApplyLedgerEffect applies one signed balance change to the user's wallet and
// records the transaction. q must be bound to the enclosing unit of work.
func ApplyLedgerEffect(ctx context.Context, q store.Queries, effect domain.LedgerEffect) (*domain.Wallet, *domain.Transaction, error) {
	if err := ValidateEffect(effect); err != nil {
		return nil, nil, err
	}

	wallet, err := q.FindWalletByUserID(ctx, effect.UserID)
	if err != nil {
		return nil, nil, err
	}

	before := wallet.Balance(effect.Currency)
	after := before.Add(effect.Delta)
	if after.Sign() < 0 {
		return nil, nil, domain.ErrInsufficientBalance.WithMessage(
			"insufficient %s balance: have %s, need %s", effect.Currency, before, effect.Delta.Neg())
	}

	next := *wallet
	next.SetBalance(effect.Currency, after)
	if effect.Delta.IsPositive() {
		if effect.Currency == domain.CurrencySC {
			next.SCLifetimeEarned = next.SCLifetimeEarned.Add(effect.Delta)
		}
		if effect.Type == domain.TransactionTypeWin {
			next.LifetimeWon = next.LifetimeWon.Add(effect.Delta)
		}
	}

	updated, err := q.UpdateWalletIfVersion(ctx, &next, wallet.Version)
	if err != nil {
		return nil, nil, err
	}

	rate := effect.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	tx := &domain.Transaction{
		ID:            uuid.New(),
		UserID:        effect.UserID,
		WalletID:      wallet.ID,
		Type:          effect.Type,
		Currency:      effect.Currency,
		Amount:        effect.Delta,
		BalanceBefore: before,
		BalanceAfter:  after,
		ExchangeRate:  rate,
		ReferenceType: effect.ReferenceType,
		ReferenceID:   effect.ReferenceID,
		Status:        domain.TransactionStatusCompleted,
		Description:   effect.Description,
		Metadata:      effect.Metadata,
		CreatedAt:     time.Now().UTC(),
	}
	if err := q.InsertTransaction(ctx, tx); err != nil {
		return nil, nil, fmt.Errorf("failed to record ledger transaction: %w", err)
	}
	return updated, tx, nil
}
