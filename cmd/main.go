/**
 * @description
 * This is the main entry point for the ledger-service. It loads configuration, opens
 * the store, syncs the VIP ladder, connects the message broker and Redis, and starts
 * the HTTP server, the reward trigger consumer and the cron jobs.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: Local .env loading.
 * - github.com/redis/go-redis/v9: Rate limiting and event dedupe.
 * - internal/api, internal/app, internal/config, internal/ledger, internal/store.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/neonplay/ledger-service/internal/api"
	"github.com/neonplay/ledger-service/internal/app"
	"github.com/neonplay/ledger-service/internal/config"
	"github.com/neonplay/ledger-service/internal/ledger"
	"github.com/neonplay/ledger-service/internal/store"
	"github.com/neonplay/ledger-service/pkg/logger"
	rmrabbit "github.com/neonplay/ledger-service/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Fatalf("config load failed: %v", err)
	}
	logger.Configure(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logger.Component("bootstrap")

	rewards, err := cfg.Rewards()
	if err != nil {
		log.WithError(err).Fatal("invalid reward configuration")
	}
	tiers, err := config.LoadTiers(cfg.VipTiersFile)
	if err != nil {
		log.WithError(err).Fatal("invalid vip tier ladder")
	}
	if cfg.InternalAPIKey == "" {
		log.Warn("internal api key not configured; internal routes are disabled")
	}

	log.WithFields(logrus.Fields{"port": cfg.ServerPort, "store": cfg.StoreDriver}).Info("starting ledger-service")

	var repository store.Repository
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory store; balances are lost on restart")
		repository = store.NewMemoryRepository()
	default:
		dbpool, err := openPool(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("database connection failed")
		}
		defer dbpool.Close()
		log.Info("database connected")
		repository = store.NewPostgresRepository(dbpool)
	}

	settler := ledger.NewSettler(repository, ledger.SettlerConfig{
		MaxAttempts: cfg.SettlementMaxAttempts,
		Backoff:     time.Duration(cfg.SettlementRetryBackoffMS) * time.Millisecond,
	}, logger.Component("ledger"))

	var producer rmrabbit.Publisher
	eventProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, logger.Component("rabbitmq"))
	if err != nil {
		log.WithError(err).Warn("rabbitmq producer unavailable; using fallback")
		producer = &rmrabbit.EventProducerFallback{Log: logger.Component("rabbitmq")}
	} else {
		log.Info("rabbitmq producer connected")
		producer = eventProducer
	}
	defer producer.Close()
	notifier := app.NewEventNotifier(producer, cfg.EventsExchange, logger.Component("notifier"))

	ledgerService := app.NewService(repository, settler, rewards, notifier, logger.Component("service"))

	syncCtx, cancelSync := context.WithTimeout(context.Background(), 30*time.Second)
	if err := ledgerService.SyncTiers(syncCtx, tiers); err != nil {
		cancelSync()
		log.WithError(err).Fatal("vip tier sync failed")
	}
	cancelSync()
	log.WithField("tiers", len(tiers)).Info("vip tiers synced")

	var deduper app.EventDeduper
	redisClient := openRedis(cfg.RedisURL, log)
	if redisClient != nil {
		defer redisClient.Close()
		ledgerService.WithGenerateThrottle(app.NewRedisGenerateThrottle(redisClient, cfg.RedisKeyPrefix, cfg.AmoeGenerateRateLimitPerMinute))
		deduper = app.NewRedisEventDeduper(redisClient, cfg.RedisKeyPrefix, time.Duration(cfg.EventDedupeTTLMinutes)*time.Minute)
	}

	triggers := app.NewTriggerConsumer(ledgerService, deduper, logger.Component("consumer"))
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, logger.Component("rabbitmq"))
	if err != nil {
		log.WithError(err).Warn("rabbitmq consumer unavailable; reward triggers only arrive over http")
	} else {
		defer rabbitConsumer.Close()
		if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.RewardTriggerQueue, triggers.Bindings()); err != nil {
			log.WithError(err).Fatal("reward trigger consumer start failed")
		}
		log.WithField("queue", cfg.RewardTriggerQueue).Info("reward trigger consumer started")
	}

	scheduler := app.NewScheduler(app.NewJobs(ledgerService, logger.Component("jobs"), rewards.AmoeCodeTTL), logger.Component("scheduler"), cfg)
	scheduler.Start()

	userAuth := api.JWTAuthMiddleware(api.NewJWKSKeySet(cfg.JWKSURL).Keyfunc, api.AuthOptions{
		Audience: cfg.JWTAudience,
		Issuer:   cfg.JWTIssuer,
	})
	handler := api.NewHandler(ledgerService, logger.Component("http"))
	router := api.NewRouter(handler, userAuth, cfg.InternalAPIKey, logger.Component("http"))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Warn("cron jobs still running at shutdown")
	}
	notifier.Wait()

	log.Info("shutdown complete")
}

func openPool(databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// openRedis returns nil when Redis is not configured or unreachable; rate
// limiting and event dedupe are then disabled.
func openRedis(redisURL string, log *logrus.Entry) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Warn("redis url missing; amoe rate limiting and event dedupe disabled")
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.WithError(err).Warn("redis url parse failed; amoe rate limiting and event dedupe disabled")
		return nil
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis ping failed; amoe rate limiting and event dedupe disabled")
		client.Close()
		return nil
	}
	log.Info("redis connected")
	return client
}
