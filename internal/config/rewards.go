package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/shopspring/decimal"
)

// RewardConfig is the parsed, immutable set of reward constants the engines use.
// Build it once with Rewards and pass it by value.
type RewardConfig struct {
	QualificationThreshold decimal.Decimal
	ReferrerReward         decimal.Decimal
	ReferredReward         decimal.Decimal
	ReferralCurrency       domain.Currency
	CashbackCurrency       domain.Currency
	AmoeDailyLimit         int
	AmoeWeeklyLimit        int
	AmoeRewardAmount       decimal.Decimal
	AmoeRewardCurrency     domain.Currency
	AmoeCodeTTL            time.Duration
}

// Rewards parses the string-typed reward settings. It fails on malformed or
// negative amounts and unknown currencies.
func (c Config) Rewards() (RewardConfig, error) {
	var (
		rc  RewardConfig
		err error
	)
	if rc.QualificationThreshold, err = parseAmount("REFERRAL_QUALIFICATION_THRESHOLD", c.ReferralQualificationThreshold, true); err != nil {
		return RewardConfig{}, err
	}
	if rc.ReferrerReward, err = parseAmount("REFERRAL_REFERRER_REWARD", c.ReferralReferrerReward, false); err != nil {
		return RewardConfig{}, err
	}
	if rc.ReferredReward, err = parseAmount("REFERRAL_REFERRED_REWARD", c.ReferralReferredReward, false); err != nil {
		return RewardConfig{}, err
	}
	if rc.AmoeRewardAmount, err = parseAmount("AMOE_REWARD_AMOUNT", c.AmoeRewardAmount, false); err != nil {
		return RewardConfig{}, err
	}
	if rc.ReferralCurrency, err = parseCurrency("REFERRAL_REWARD_CURRENCY", c.ReferralRewardCurrency); err != nil {
		return RewardConfig{}, err
	}
	if rc.CashbackCurrency, err = parseCurrency("CASHBACK_CURRENCY", c.CashbackCurrency); err != nil {
		return RewardConfig{}, err
	}
	if rc.AmoeRewardCurrency, err = parseCurrency("AMOE_REWARD_CURRENCY", c.AmoeRewardCurrency); err != nil {
		return RewardConfig{}, err
	}
	rc.AmoeDailyLimit = c.AmoeDailyLimit
	rc.AmoeWeeklyLimit = c.AmoeWeeklyLimit
	rc.AmoeCodeTTL = time.Duration(c.AmoeCodeTTLHours) * time.Hour
	return rc, nil
}

func parseAmount(key, raw string, allowZero bool) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if v.Sign() < 0 || (!allowZero && v.IsZero()) {
		return decimal.Zero, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	if !v.Equal(v.Round(domain.MaxAmountScale)) {
		return decimal.Zero, fmt.Errorf("invalid %s %q: more than %d decimal places", key, raw, domain.MaxAmountScale)
	}
	return v, nil
}

func parseCurrency(key, raw string) (domain.Currency, error) {
	c, err := domain.ParseCurrency(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s: %w", key, err)
	}
	return c, nil
}
