/**
 * @description
 * Core ledger models: the per-user multi-currency wallet, the immutable transaction
 * record written for every balance mutation, and the ledger effect requested by the
 * reward engines.
 *
 * @notes
 * - Money is carried as decimal.Decimal end to end. Floats never touch a balance.
 * - A transaction's Amount is the signed delta, so BalanceAfter = BalanceBefore + Amount.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxAmountScale is the number of decimal places a ledger amount may carry.
const MaxAmountScale = 8

// Currency identifies one of the wallet's independent balances.
type Currency string

const (
	CurrencyGC   Currency = "GC"
	CurrencySC   Currency = "SC"
	CurrencyUSDC Currency = "USDC"
)

// ParseCurrency normalizes a currency code and rejects unknown values.
func ParseCurrency(raw string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", ErrInvalidCurrency.WithMessage("unsupported currency %q", raw)
	}
	return c, nil
}

func (c Currency) Valid() bool {
	switch c {
	case CurrencyGC, CurrencySC, CurrencyUSDC:
		return true
	}
	return false
}

// TransactionType describes why a ledger effect happened.
type TransactionType string

const (
	TransactionTypeBonus      TransactionType = "bonus"
	TransactionTypeCashback   TransactionType = "cashback"
	TransactionTypeAmoePrize  TransactionType = "amoe_prize"
	TransactionTypeWin        TransactionType = "win"
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeRedeem     TransactionType = "redeem"
	TransactionTypeAdjustment TransactionType = "adjustment"
)

// Reference types link a transaction back to the entity that caused it.
const (
	ReferenceTypeReferral    = "referral"
	ReferenceTypeVipCashback = "vip_cashback"
	ReferenceTypeAmoeEntry   = "amoe_entry"
	ReferenceTypeXpEvent     = "xp_event"
)

const (
	TransactionStatusCompleted = "completed"
	TransactionStatusPending   = "pending"
	TransactionStatusFailed    = "failed"
)

// Wallet maps to the `wallets` table. One row per user.
type Wallet struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	GCBalance        decimal.Decimal `json:"gc_balance"`
	SCBalance        decimal.Decimal `json:"sc_balance"`
	USDCBalance      decimal.Decimal `json:"usdc_balance"`
	LifetimeWon      decimal.Decimal `json:"lifetime_won"`
	SCLifetimeEarned decimal.Decimal `json:"sc_lifetime_earned"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewWallet returns a zero-balance wallet at version 0.
func NewWallet(userID uuid.UUID, now time.Time) *Wallet {
	return &Wallet{
		ID:               uuid.New(),
		UserID:           userID,
		GCBalance:        decimal.Zero,
		SCBalance:        decimal.Zero,
		USDCBalance:      decimal.Zero,
		LifetimeWon:      decimal.Zero,
		SCLifetimeEarned: decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Balance returns the balance held in the given currency.
func (w *Wallet) Balance(c Currency) decimal.Decimal {
	switch c {
	case CurrencyGC:
		return w.GCBalance
	case CurrencySC:
		return w.SCBalance
	case CurrencyUSDC:
		return w.USDCBalance
	}
	return decimal.Zero
}

// SetBalance overwrites the balance held in the given currency.
func (w *Wallet) SetBalance(c Currency, v decimal.Decimal) {
	switch c {
	case CurrencyGC:
		w.GCBalance = v
	case CurrencySC:
		w.SCBalance = v
	case CurrencyUSDC:
		w.USDCBalance = v
	}
}

// Transaction maps to the append-only `transactions` table.
type Transaction struct {
	ID            uuid.UUID              `json:"id"`
	UserID        uuid.UUID              `json:"user_id"`
	WalletID      uuid.UUID              `json:"wallet_id"`
	Type          TransactionType        `json:"type"`
	Currency      Currency               `json:"currency"`
	Amount        decimal.Decimal        `json:"amount"`
	BalanceBefore decimal.Decimal        `json:"balance_before"`
	BalanceAfter  decimal.Decimal        `json:"balance_after"`
	ExchangeRate  decimal.Decimal        `json:"exchange_rate"`
	ReferenceType string                 `json:"reference_type,omitempty"`
	ReferenceID   string                 `json:"reference_id,omitempty"`
	Status        string                 `json:"status"`
	Description   string                 `json:"description,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// LedgerEffect is a single requested balance change and the audit context that
// will be written alongside it.
type LedgerEffect struct {
	UserID        uuid.UUID
	Currency      Currency
	Delta         decimal.Decimal
	Type          TransactionType
	ReferenceType string
	ReferenceID   string
	Description   string
	ExchangeRate  decimal.Decimal
	Metadata      map[string]interface{}
}

// Credit builds a positive ledger effect.
func Credit(userID uuid.UUID, currency Currency, amount decimal.Decimal, typ TransactionType) LedgerEffect {
	return LedgerEffect{UserID: userID, Currency: currency, Delta: amount, Type: typ}
}

// Debit builds a negative ledger effect from a positive amount.
func Debit(userID uuid.UUID, currency Currency, amount decimal.Decimal, typ TransactionType) LedgerEffect {
	return LedgerEffect{UserID: userID, Currency: currency, Delta: amount.Neg(), Type: typ}
}

// WithReference attaches the originating entity to the effect.
func (e LedgerEffect) WithReference(referenceType, referenceID string) LedgerEffect {
	e.ReferenceType = referenceType
	e.ReferenceID = referenceID
	return e
}

// WithDescription attaches a human-readable description to the effect.
func (e LedgerEffect) WithDescription(description string) LedgerEffect {
	e.Description = description
	return e
}

// TransactionListOptions pages through a wallet's history, newest first.
type TransactionListOptions struct {
	Limit  int
	Offset int
}
