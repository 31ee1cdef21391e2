package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"STORE_DRIVER", "EVENTS_EXCHANGE", "AMOE_DAILY_LIMIT", "SETTLEMENT_MAX_ATTEMPTS", "PORT", "SERVER_PORT"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("expected postgres store driver, got %q", cfg.StoreDriver)
	}
	if cfg.EventsExchange != "neonplay.events" {
		t.Fatalf("expected default exchange, got %q", cfg.EventsExchange)
	}
	if cfg.AmoeDailyLimit != 1 || cfg.AmoeWeeklyLimit != 5 {
		t.Fatalf("unexpected AMOE limits: daily=%d weekly=%d", cfg.AmoeDailyLimit, cfg.AmoeWeeklyLimit)
	}
	if cfg.SettlementMaxAttempts != 5 {
		t.Fatalf("expected 5 settlement attempts, got %d", cfg.SettlementMaxAttempts)
	}
}

func TestLoadConfig_PortAliasAndInternalKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PORT", "9090")
	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "LEDGER_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to override SERVER_PORT, got %q", cfg.ServerPort)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_CoercesInvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "STORE_DRIVER", "Cassandra")
	setEnvWithCleanup(t, "AMOE_DAILY_LIMIT", "3")
	setEnvWithCleanup(t, "AMOE_WEEKLY_LIMIT", "2")
	setEnvWithCleanup(t, "SETTLEMENT_MAX_ATTEMPTS", "0")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("expected unknown driver to fall back to postgres, got %q", cfg.StoreDriver)
	}
	if cfg.AmoeWeeklyLimit != 3 {
		t.Fatalf("expected weekly limit raised to daily limit, got %d", cfg.AmoeWeeklyLimit)
	}
	if cfg.SettlementMaxAttempts != 1 {
		t.Fatalf("expected settlement attempts coerced to 1, got %d", cfg.SettlementMaxAttempts)
	}
}

func TestConfig_Rewards(t *testing.T) {
	base := Config{
		ReferralQualificationThreshold: "20",
		ReferralReferrerReward:         "10",
		ReferralReferredReward:         "5.5",
		ReferralRewardCurrency:         "sc",
		CashbackCurrency:               "USDC",
		AmoeDailyLimit:                 1,
		AmoeWeeklyLimit:                5,
		AmoeRewardAmount:               "5",
		AmoeRewardCurrency:             "SC",
		AmoeCodeTTLHours:               48,
	}

	rc, err := base.Rewards()
	if err != nil {
		t.Fatalf("Rewards returned error: %v", err)
	}
	if !rc.ReferredReward.Equal(decimal.RequireFromString("5.5")) {
		t.Fatalf("unexpected referred reward %s", rc.ReferredReward)
	}
	if rc.ReferralCurrency != domain.CurrencySC || rc.CashbackCurrency != domain.CurrencyUSDC {
		t.Fatalf("unexpected currencies %s %s", rc.ReferralCurrency, rc.CashbackCurrency)
	}
	if rc.AmoeCodeTTL != 48*time.Hour {
		t.Fatalf("unexpected ttl %s", rc.AmoeCodeTTL)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "malformed amount", mutate: func(c *Config) { c.ReferralReferrerReward = "ten" }},
		{name: "zero reward", mutate: func(c *Config) { c.AmoeRewardAmount = "0" }},
		{name: "negative threshold", mutate: func(c *Config) { c.ReferralQualificationThreshold = "-1" }},
		{name: "too many decimals", mutate: func(c *Config) { c.ReferralReferredReward = "0.123456789" }},
		{name: "unknown currency", mutate: func(c *Config) { c.CashbackCurrency = "EUR" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := cfg.Rewards(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadTiers(t *testing.T) {
	defaults, err := LoadTiers("")
	if err != nil {
		t.Fatalf("LoadTiers returned error: %v", err)
	}
	if len(defaults) != 5 || defaults[0].Name != "Bronze" || defaults[4].MinXp.String() != "25000" {
		t.Fatalf("unexpected default ladder: %+v", defaults)
	}

	path := filepath.Join(t.TempDir(), "tiers.yaml")
	content := []byte(`tiers:
  - name: Gold
    level: 3
    min_xp: "1000"
    cashback_percent: "10"
  - name: Rookie
    level: 1
    min_xp: "0"
    cashback_percent: "0"
  - name: Legend
    level: 9
    min_xp: "100000000000000000000000"
    cashback_percent: "25.5"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("failed to write tiers file: %v", err)
	}
	tiers, err := LoadTiers(path)
	if err != nil {
		t.Fatalf("LoadTiers returned error: %v", err)
	}
	if tiers[0].Name != "Rookie" || tiers[2].Name != "Legend" {
		t.Fatalf("expected ladder sorted by level, got %+v", tiers)
	}
	if tiers[2].MinXp.String() != "100000000000000000000000" {
		t.Fatalf("expected big min_xp to survive, got %s", tiers[2].MinXp)
	}
}

func TestParseTiers_RejectsBadLadders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: "tiers: []"},
		{name: "duplicate level", raw: "tiers:\n  - {name: A, level: 1, min_xp: \"0\", cashback_percent: \"0\"}\n  - {name: B, level: 1, min_xp: \"5\", cashback_percent: \"0\"}"},
		{name: "non increasing xp", raw: "tiers:\n  - {name: A, level: 1, min_xp: \"10\", cashback_percent: \"0\"}\n  - {name: B, level: 2, min_xp: \"5\", cashback_percent: \"0\"}"},
		{name: "percent above 100", raw: "tiers:\n  - {name: A, level: 1, min_xp: \"0\", cashback_percent: \"101\"}"},
		{name: "bad xp", raw: "tiers:\n  - {name: A, level: 1, min_xp: \"lots\", cashback_percent: \"0\"}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTiers([]byte(tt.raw)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
