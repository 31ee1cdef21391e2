package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AmoeStatus string

const (
	AmoeStatusGenerated AmoeStatus = "generated"
	AmoeStatusSubmitted AmoeStatus = "submitted"
	AmoeStatusApproved  AmoeStatus = "approved"
	AmoeStatusRedeemed  AmoeStatus = "redeemed"
	AmoeStatusExpired   AmoeStatus = "expired"
)

// PostalAddress is the mail-in address attached to a submitted entry.
type PostalAddress struct {
	FullName   string `json:"full_name" validate:"required,max=120"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,max=100"`
	PostalCode string `json:"postal_code" validate:"required,postalcode"`
	Country    string `json:"country" validate:"required,len=2,alpha"`
}

// AmoeEntry maps to the `amoe_entries` table. One row per issued code.
type AmoeEntry struct {
	ID             uuid.UUID        `json:"id"`
	UserID         uuid.UUID        `json:"user_id"`
	Code           string           `json:"code"`
	Status         AmoeStatus       `json:"status"`
	PostalAddress  *PostalAddress   `json:"postal_address,omitempty"`
	RewardAmount   *decimal.Decimal `json:"reward_amount,omitempty"`
	RewardCurrency *Currency        `json:"reward_currency,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	SubmittedAt    *time.Time       `json:"submitted_at,omitempty"`
	ApprovedAt     *time.Time       `json:"approved_at,omitempty"`
	RedeemedAt     *time.Time       `json:"redeemed_at,omitempty"`
	ExpiredAt      *time.Time       `json:"expired_at,omitempty"`
}
