package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/neonplay/ledger-service/internal/domain"
	"github.com/neonplay/ledger-service/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 25 * time.Millisecond
)

// SettlerConfig bounds conflict retries.
type SettlerConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Settler runs a reward computation and its ledger effects as one atomic unit,
// re-running the whole unit from a fresh read when a wallet version conflicts.
type Settler struct {
	repo        store.Repository
	maxAttempts int
	backoff     time.Duration
	log         *logrus.Entry
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewSettler creates a Settler. Non-positive config values fall back to defaults.
func NewSettler(repo store.Repository, cfg SettlerConfig, log *logrus.Entry) *Settler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Settler{
		repo:        repo,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		log:         log,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Receipt lists what a committed unit applied.
type Receipt struct {
	Operation    string
	Attempts     int
	Wallets      []domain.Wallet
	Transactions []domain.Transaction
}

// Unit is handed to the settlement closure. It is only valid inside the closure.
type Unit struct {
	q       store.Queries
	receipt *Receipt
}

// Queries returns the store handle bound to the unit's transaction.
func (u *Unit) Queries() store.Queries {
	return u.q
}

// Apply runs the wallet update protocol inside the unit and records the result.
func (u *Unit) Apply(ctx context.Context, effect domain.LedgerEffect) (*domain.Transaction, error) {
	wallet, tx, err := ApplyLedgerEffect(ctx, u.q, effect)
	if err != nil {
		return nil, err
	}
	u.receipt.Wallets = append(u.receipt.Wallets, *wallet)
	u.receipt.Transactions = append(u.receipt.Transactions, *tx)
	return tx, nil
}

// Settle executes fn inside one store transaction. Either everything fn did is
// committed or nothing is.
func (s *Settler) Settle(ctx context.Context, operation string, fn func(ctx context.Context, u *Unit) error) (*Receipt, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		receipt := &Receipt{Operation: operation, Attempts: attempt}
		err := s.repo.RunInTx(ctx, func(ctx context.Context, q store.Queries) error {
			return fn(ctx, &Unit{q: q, receipt: receipt})
		})
		if err == nil {
			if attempt > 1 {
				s.log.WithFields(logrus.Fields{"operation": operation, "attempts": attempt}).Info("settlement committed after retry")
			}
			return receipt, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}

		lastErr = err
		s.log.WithFields(logrus.Fields{"operation": operation, "attempt": attempt}).Debug("version conflict, retrying settlement")
		if attempt == s.maxAttempts {
			break
		}
		if err := s.sleep(ctx, s.backoff*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}

	s.log.WithFields(logrus.Fields{"operation": operation, "attempts": s.maxAttempts}).WithError(lastErr).Warn("settlement retries exhausted")
	return nil, domain.ErrSettlementContended.WithMessage("%s: settlement retries exhausted after %d attempts", operation, s.maxAttempts)
}
