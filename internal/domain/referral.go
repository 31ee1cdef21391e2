package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
	UserStatusInactive  = "inactive"
)

// User is the slice of the account record the ledger needs. The users table is
// owned by the account service.
type User struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

// IsActive reports whether the account may earn or pay out rewards.
func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive
}

// ReferralCode is the shareable code owned by a referrer.
type ReferralCode struct {
	Code      string    `json:"code"`
	UserID    uuid.UUID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusQualified ReferralStatus = "qualified"
	ReferralStatusRewarded  ReferralStatus = "rewarded"
)

// Referral links a referrer to the user who applied their code. At most one
// referral exists per referred user.
type Referral struct {
	ID               uuid.UUID        `json:"id"`
	ReferrerID       uuid.UUID        `json:"referrer_id"`
	ReferredID       uuid.UUID        `json:"referred_id"`
	Code             string           `json:"code"`
	Status           ReferralStatus   `json:"status"`
	QualifyingAmount *decimal.Decimal `json:"qualifying_amount,omitempty"`
	QualifiedAt      *time.Time       `json:"qualified_at,omitempty"`
	RewardedAt       *time.Time       `json:"rewarded_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

const (
	BonusTypeReferralReferrer = "referral_referrer"
	BonusTypeReferralReferred = "referral_referred"
)

// BonusClaim is the audit record written for each bonus paid out.
type BonusClaim struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	BonusType     string          `json:"bonus_type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      Currency        `json:"currency"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	ClaimedAt     time.Time       `json:"claimed_at"`
}
