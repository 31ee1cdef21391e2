package domain

import (
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VipTier is one rung of the VIP ladder. Levels are unique and strictly increasing.
type VipTier struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Level           int             `json:"level"`
	MinXp           *big.Int        `json:"min_xp"`
	CashbackPercent decimal.Decimal `json:"cashback_percent"`
}

// UserVip maps to the `user_vips` table. One row per user, created lazily.
type UserVip struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	TierID            uuid.UUID       `json:"tier_id"`
	XpCurrent         *big.Int        `json:"xp_current"`
	XpLifetime        *big.Int        `json:"xp_lifetime"`
	NextTierXp        *big.Int        `json:"next_tier_xp,omitempty"`
	CashbackAvailable decimal.Decimal `json:"cashback_available"`
	TierUpgradedAt    *time.Time      `json:"tier_upgraded_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// XpHistory is an append-only audit row written once per XP award.
type XpHistory struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      *big.Int  `json:"amount"`
	Source      string    `json:"source"`
	ReferenceID string    `json:"reference_id,omitempty"`
	TierBefore  uuid.UUID `json:"tier_before"`
	TierAfter   uuid.UUID `json:"tier_after"`
	CreatedAt   time.Time `json:"created_at"`
}

// CashbackAccrualRecord is written once per (user, reference) pair, so a
// redelivered loss event never accrues twice.
type CashbackAccrualRecord struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	ReferenceID string          `json:"reference_id"`
	LossAmount  decimal.Decimal `json:"loss_amount"`
	Percent     decimal.Decimal `json:"percent"`
	Accrued     decimal.Decimal `json:"accrued"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TierLadder is the VIP ladder ordered by level.
type TierLadder []VipTier

// NewTierLadder copies and sorts tiers by level.
func NewTierLadder(tiers []VipTier) TierLadder {
	ladder := make(TierLadder, len(tiers))
	copy(ladder, tiers)
	sort.SliceStable(ladder, func(i, j int) bool { return ladder[i].Level < ladder[j].Level })
	return ladder
}

// Lowest returns the entry tier.
func (l TierLadder) Lowest() (VipTier, bool) {
	if len(l) == 0 {
		return VipTier{}, false
	}
	return l[0], true
}

// ByID finds a tier by id.
func (l TierLadder) ByID(id uuid.UUID) (VipTier, bool) {
	for _, t := range l {
		if t.ID == id {
			return t, true
		}
	}
	return VipTier{}, false
}

// Next returns the tier directly above the given one.
func (l TierLadder) Next(current VipTier) (VipTier, bool) {
	for _, t := range l {
		if t.Level > current.Level {
			return t, true
		}
	}
	return VipTier{}, false
}

// Upgrade returns the highest tier reachable with xp whose level is above the
// current tier, if any.
func (l TierLadder) Upgrade(current VipTier, xp *big.Int) (VipTier, bool) {
	var best VipTier
	found := false
	for _, t := range l {
		if t.Level <= current.Level || t.MinXp == nil || t.MinXp.Cmp(xp) > 0 {
			continue
		}
		if !found || t.Level > best.Level {
			best = t
			found = true
		}
	}
	return best, found
}

// NextTierThreshold returns the min XP of the tier above current, or nil at the top.
func (l TierLadder) NextTierThreshold(current VipTier) *big.Int {
	next, ok := l.Next(current)
	if !ok {
		return nil
	}
	return new(big.Int).Set(next.MinXp)
}

// TierProgress is the read model returned by the VIP status query.
type TierProgress struct {
	Tier              VipTier         `json:"tier"`
	NextTier          *VipTier        `json:"next_tier,omitempty"`
	XpCurrent         *big.Int        `json:"xp_current"`
	XpLifetime        *big.Int        `json:"xp_lifetime"`
	XpToNextTier      *big.Int        `json:"xp_to_next_tier,omitempty"`
	ProgressPercent   int64           `json:"progress_percent"`
	CashbackAvailable decimal.Decimal `json:"cashback_available"`
	TierUpgradedAt    *time.Time      `json:"tier_upgraded_at,omitempty"`
}

// ComputeTierProgress derives progress toward the next tier. Percent uses
// truncating integer division and is capped to [0, 100].
func ComputeTierProgress(ladder TierLadder, vip *UserVip, tier VipTier) TierProgress {
	progress := TierProgress{
		Tier:              tier,
		XpCurrent:         new(big.Int).Set(vip.XpCurrent),
		XpLifetime:        new(big.Int).Set(vip.XpLifetime),
		CashbackAvailable: vip.CashbackAvailable,
		TierUpgradedAt:    vip.TierUpgradedAt,
	}

	next, ok := ladder.Next(tier)
	if !ok {
		progress.ProgressPercent = 100
		return progress
	}
	progress.NextTier = &next

	remaining := new(big.Int).Sub(next.MinXp, vip.XpCurrent)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	progress.XpToNextTier = remaining

	span := new(big.Int).Sub(next.MinXp, tier.MinXp)
	if span.Sign() <= 0 {
		progress.ProgressPercent = 100
		return progress
	}
	earned := new(big.Int).Sub(vip.XpCurrent, tier.MinXp)
	if earned.Sign() < 0 {
		earned.SetInt64(0)
	}
	pct := new(big.Int).Mul(earned, big.NewInt(100))
	pct.Quo(pct, span)
	if pct.Cmp(big.NewInt(100)) > 0 {
		pct.SetInt64(100)
	}
	progress.ProgressPercent = pct.Int64()
	return progress
}

// CashbackFor returns loss × percent / 100 rounded to the ledger scale.
func CashbackFor(loss decimal.Decimal, percent decimal.Decimal) decimal.Decimal {
	if percent.Sign() <= 0 || loss.Sign() <= 0 {
		return decimal.Zero
	}
	return loss.Mul(percent).Div(decimal.NewFromInt(100)).Round(MaxAmountScale)
}
