package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Inbound trigger routing keys.
const (
	RoutingKeyPurchaseCompleted = "purchase.completed"
	RoutingKeyGameRoundSettled  = "game.round.settled"
	RoutingKeyXpEarned          = "vip.xp.earned"
	RoutingKeyAmoeApproved      = "amoe.entry.approved"
	RoutingKeyUserCreated       = "user.created"
)

// Outbound notification routing keys.
const (
	RoutingKeyTierUpgraded   = "notification.vip.tier_upgraded"
	RoutingKeyRewardCredited = "notification.reward.credited"
)

// PurchaseCompletedEvent is published by the payments service after a coin purchase settles.
type PurchaseCompletedEvent struct {
	EventID string          `json:"event_id"`
	UserID  uuid.UUID       `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// GameRoundSettledEvent is published by the game service when a round closes.
type GameRoundSettledEvent struct {
	EventID    string          `json:"event_id"`
	UserID     uuid.UUID       `json:"user_id"`
	RoundID    string          `json:"round_id"`
	LossAmount decimal.Decimal `json:"loss_amount"`
}

// XpEarnedEvent carries XP earned from gameplay or purchases. Amount is a
// decimal integer string so arbitrarily large values survive JSON.
type XpEarnedEvent struct {
	EventID     string    `json:"event_id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      string    `json:"amount"`
	Source      string    `json:"source"`
	ReferenceID string    `json:"reference_id"`
}

// AmoeEntryApprovedEvent is published by the back office after reviewing a mail-in entry.
type AmoeEntryApprovedEvent struct {
	EventID string    `json:"event_id"`
	EntryID uuid.UUID `json:"entry_id"`
}

// UserCreatedEvent is published by the account service after sign-up.
type UserCreatedEvent struct {
	EventID string    `json:"event_id"`
	UserID  uuid.UUID `json:"user_id"`
}

// TierUpgradedNotification is emitted after a committed tier upgrade.
type TierUpgradedNotification struct {
	UserID       uuid.UUID `json:"user_id"`
	PreviousTier string    `json:"previous_tier"`
	NewTier      string    `json:"new_tier"`
	NewLevel     int       `json:"new_level"`
	Timestamp    time.Time `json:"timestamp"`
}

// RewardCreditedNotification is emitted after a committed reward credit.
type RewardCreditedNotification struct {
	UserID        uuid.UUID       `json:"user_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Type          TransactionType `json:"type"`
	Currency      Currency        `json:"currency"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Timestamp     time.Time       `json:"timestamp"`
}
