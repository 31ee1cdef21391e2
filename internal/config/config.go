/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), then normalizes the values the rest of the service depends on.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - pkg/logger: Coercions are reported as warn logs.
 */

package config

import (
	"os"
	"strings"

	"github.com/neonplay/ledger-service/pkg/logger"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort         string `mapstructure:"SERVER_PORT"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	StoreDriver        string `mapstructure:"STORE_DRIVER"`
	RedisURL           string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix     string `mapstructure:"REDIS_KEY_PREFIX"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	EventsExchange     string `mapstructure:"EVENTS_EXCHANGE"`
	RewardTriggerQueue string `mapstructure:"REWARD_TRIGGER_QUEUE"`
	JWKSURL            string `mapstructure:"JWKS_URL"`
	JWTAudience        string `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	InternalAPIKey     string `mapstructure:"INTERNAL_API_KEY"`
	LogLevel           string `mapstructure:"LOG_LEVEL"`
	LogFormat          string `mapstructure:"LOG_FORMAT"`
	VipTiersFile       string `mapstructure:"VIP_TIERS_FILE"`

	ReferralQualificationThreshold string `mapstructure:"REFERRAL_QUALIFICATION_THRESHOLD"`
	ReferralReferrerReward         string `mapstructure:"REFERRAL_REFERRER_REWARD"`
	ReferralReferredReward         string `mapstructure:"REFERRAL_REFERRED_REWARD"`
	ReferralRewardCurrency         string `mapstructure:"REFERRAL_REWARD_CURRENCY"`
	CashbackCurrency               string `mapstructure:"CASHBACK_CURRENCY"`
	AmoeDailyLimit                 int    `mapstructure:"AMOE_DAILY_LIMIT"`
	AmoeWeeklyLimit                int    `mapstructure:"AMOE_WEEKLY_LIMIT"`
	AmoeRewardAmount               string `mapstructure:"AMOE_REWARD_AMOUNT"`
	AmoeRewardCurrency             string `mapstructure:"AMOE_REWARD_CURRENCY"`
	AmoeCodeTTLHours               int    `mapstructure:"AMOE_CODE_TTL_HOURS"`
	AmoeGenerateRateLimitPerMinute int    `mapstructure:"AMOE_GENERATE_RATE_LIMIT_PER_MINUTE"`

	SettlementMaxAttempts    int    `mapstructure:"SETTLEMENT_MAX_ATTEMPTS"`
	SettlementRetryBackoffMS int    `mapstructure:"SETTLEMENT_RETRY_BACKOFF_MS"`
	EventDedupeTTLMinutes    int    `mapstructure:"EVENT_DEDUPE_TTL_MINUTES"`
	ReferralSweepSchedule    string `mapstructure:"REFERRAL_SWEEP_SCHEDULE"`
	AmoeExpirySchedule       string `mapstructure:"AMOE_EXPIRY_SCHEDULE"`
}

var boundKeys = []string{
	"SERVER_PORT", "DATABASE_URL", "STORE_DRIVER", "REDIS_URL", "REDIS_KEY_PREFIX",
	"RABBITMQ_URL", "EVENTS_EXCHANGE", "REWARD_TRIGGER_QUEUE",
	"JWKS_URL", "JWT_AUDIENCE", "JWT_ISSUER", "INTERNAL_API_KEY", "LOG_LEVEL", "LOG_FORMAT", "VIP_TIERS_FILE",
	"REFERRAL_QUALIFICATION_THRESHOLD", "REFERRAL_REFERRER_REWARD", "REFERRAL_REFERRED_REWARD", "REFERRAL_REWARD_CURRENCY",
	"CASHBACK_CURRENCY", "AMOE_DAILY_LIMIT", "AMOE_WEEKLY_LIMIT", "AMOE_REWARD_AMOUNT", "AMOE_REWARD_CURRENCY",
	"AMOE_CODE_TTL_HOURS", "AMOE_GENERATE_RATE_LIMIT_PER_MINUTE",
	"SETTLEMENT_MAX_ATTEMPTS", "SETTLEMENT_RETRY_BACKOFF_MS", "EVENT_DEDUPE_TTL_MINUTES",
	"REFERRAL_SWEEP_SCHEDULE", "AMOE_EXPIRY_SCHEDULE",
}

// LoadConfig reads configuration from environment variables and an optional .env
// file in path.
func LoadConfig(path string) (config Config, err error) {
	log := logger.Component("config")

	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("REDIS_KEY_PREFIX", "neonplay:ledger")
	viper.SetDefault("EVENTS_EXCHANGE", "neonplay.events")
	viper.SetDefault("REWARD_TRIGGER_QUEUE", "ledger_service.reward_triggers")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("REFERRAL_QUALIFICATION_THRESHOLD", "20")
	viper.SetDefault("REFERRAL_REFERRER_REWARD", "10")
	viper.SetDefault("REFERRAL_REFERRED_REWARD", "5")
	viper.SetDefault("REFERRAL_REWARD_CURRENCY", "SC")
	viper.SetDefault("CASHBACK_CURRENCY", "SC")
	viper.SetDefault("AMOE_DAILY_LIMIT", 1)
	viper.SetDefault("AMOE_WEEKLY_LIMIT", 5)
	viper.SetDefault("AMOE_REWARD_AMOUNT", "5")
	viper.SetDefault("AMOE_REWARD_CURRENCY", "SC")
	viper.SetDefault("AMOE_CODE_TTL_HOURS", 720)
	viper.SetDefault("AMOE_GENERATE_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("SETTLEMENT_MAX_ATTEMPTS", 5)
	viper.SetDefault("SETTLEMENT_RETRY_BACKOFF_MS", 20)
	viper.SetDefault("EVENT_DEDUPE_TTL_MINUTES", 1440)
	viper.SetDefault("REFERRAL_SWEEP_SCHEDULE", "@every 5m")
	viper.SetDefault("AMOE_EXPIRY_SCHEDULE", "@hourly")

	// Bind explicitly so keys without defaults still appear in Unmarshal.
	for _, key := range boundKeys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SERVICE_INTERNAL_API_KEY")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.WithError(err).Warn("failed to read config file; using environment values")
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	if config.InternalAPIKey == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("LEDGER_SERVICE_INTERNAL_API_KEY"))
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	if config.StoreDriver != StoreDriverPostgres && config.StoreDriver != StoreDriverMemory {
		log.WithField("store_driver", config.StoreDriver).Warn("unknown store driver; falling back to postgres")
		config.StoreDriver = StoreDriverPostgres
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisKeyPrefix = strings.TrimSpace(config.RedisKeyPrefix)
	if config.RedisKeyPrefix == "" {
		config.RedisKeyPrefix = "neonplay:ledger"
	}
	if strings.TrimSpace(config.EventsExchange) == "" {
		config.EventsExchange = "neonplay.events"
	}
	config.VipTiersFile = strings.TrimSpace(config.VipTiersFile)

	if config.AmoeDailyLimit <= 0 {
		log.WithField("amoe_daily_limit", config.AmoeDailyLimit).Warn("non-positive AMOE daily limit; coercing to 1")
		config.AmoeDailyLimit = 1
	}
	if config.AmoeWeeklyLimit < config.AmoeDailyLimit {
		log.WithField("amoe_weekly_limit", config.AmoeWeeklyLimit).Warn("AMOE weekly limit below daily limit; raising to daily limit")
		config.AmoeWeeklyLimit = config.AmoeDailyLimit
	}
	if config.AmoeCodeTTLHours <= 0 {
		config.AmoeCodeTTLHours = 720
	}
	if config.AmoeGenerateRateLimitPerMinute < 0 {
		config.AmoeGenerateRateLimitPerMinute = 0
	}
	if config.SettlementMaxAttempts <= 0 {
		log.WithField("settlement_max_attempts", config.SettlementMaxAttempts).Warn("non-positive settlement attempts; coercing to 1")
		config.SettlementMaxAttempts = 1
	}
	if config.SettlementRetryBackoffMS < 0 {
		config.SettlementRetryBackoffMS = 0
	}
	if config.EventDedupeTTLMinutes <= 0 {
		config.EventDedupeTTLMinutes = 1440
	}

	return
}
