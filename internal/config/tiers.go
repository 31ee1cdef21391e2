package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type tierFile struct {
	Tiers []tierEntry `yaml:"tiers"`
}

// tierEntry keeps min_xp as a string so thresholds beyond int64 survive.
type tierEntry struct {
	Name            string `yaml:"name"`
	Level           int    `yaml:"level"`
	MinXp           string `yaml:"min_xp"`
	CashbackPercent string `yaml:"cashback_percent"`
}

var defaultTiers = []tierEntry{
	{Name: "Bronze", Level: 1, MinXp: "0", CashbackPercent: "0"},
	{Name: "Silver", Level: 2, MinXp: "500", CashbackPercent: "5"},
	{Name: "Gold", Level: 3, MinXp: "1000", CashbackPercent: "10"},
	{Name: "Platinum", Level: 4, MinXp: "5000", CashbackPercent: "15"},
	{Name: "Diamond", Level: 5, MinXp: "25000", CashbackPercent: "20"},
}

// DefaultTiers returns the built-in VIP ladder.
func DefaultTiers() []domain.VipTier {
	tiers, err := buildTiers(defaultTiers)
	if err != nil {
		panic(err)
	}
	return tiers
}

// LoadTiers reads the ladder from a YAML file, or returns the defaults when path is empty.
func LoadTiers(path string) ([]domain.VipTier, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTiers(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vip tiers file: %w", err)
	}
	return ParseTiers(raw)
}

// ParseTiers decodes and validates a YAML ladder.
func ParseTiers(raw []byte) ([]domain.VipTier, error) {
	var file tierFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to decode vip tiers: %w", err)
	}
	if len(file.Tiers) == 0 {
		return nil, fmt.Errorf("vip tiers file defines no tiers")
	}
	return buildTiers(file.Tiers)
}

func buildTiers(entries []tierEntry) ([]domain.VipTier, error) {
	tiers := make([]domain.VipTier, 0, len(entries))
	for _, s := range entries {
		minXp, ok := new(big.Int).SetString(strings.TrimSpace(s.MinXp), 10)
		if !ok || minXp.Sign() < 0 {
			return nil, fmt.Errorf("tier %q: invalid min_xp %q", s.Name, s.MinXp)
		}
		percent, err := decimal.NewFromString(strings.TrimSpace(s.CashbackPercent))
		if err != nil {
			return nil, fmt.Errorf("tier %q: invalid cashback_percent %q: %w", s.Name, s.CashbackPercent, err)
		}
		if percent.Sign() < 0 || percent.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("tier %q: cashback_percent must be within 0..100", s.Name)
		}
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("tier at level %d has no name", s.Level)
		}
		tiers = append(tiers, domain.VipTier{
			Name:            strings.TrimSpace(s.Name),
			Level:           s.Level,
			MinXp:           minXp,
			CashbackPercent: percent,
		})
	}

	ladder := domain.NewTierLadder(tiers)
	for i := 1; i < len(ladder); i++ {
		if ladder[i].Level == ladder[i-1].Level {
			return nil, fmt.Errorf("duplicate tier level %d", ladder[i].Level)
		}
		if ladder[i].MinXp.Cmp(ladder[i-1].MinXp) <= 0 {
			return nil, fmt.Errorf("tier %q: min_xp must increase with level", ladder[i].Name)
		}
	}
	return ladder, nil
}
