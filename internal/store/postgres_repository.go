/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Statements are written once against a small `dbtx` abstraction so that the same
 * code runs on the connection pool (read models) and inside a pgx transaction
 * (settlement units).
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC columns scan straight into decimal.Decimal.
 * - internal/domain: Contains the domain models and error sentinels.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neonplay/ledger-service/internal/domain"
)

var (
	ErrAmoeCodeTaken       = errors.New("amoe code already issued")
	ErrGeneratedAmoeExists = errors.New("user already holds a generated amoe code")
	ErrReferralCodeTaken   = errors.New("referral code already taken")
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgQueries implements Queries on top of either the pool or a transaction.
type pgQueries struct {
	db dbtx
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	*pgQueries
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pgQueries: &pgQueries{db: pool}, pool: pool}
}

// RunInTx executes fn inside a database transaction. Serialization failures and
// deadlocks surface as domain.ErrVersionConflict so the settler can retry them.
func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgQueries{db: tx}); err != nil {
		return mapRetryableError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapRetryableError(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func mapRetryableError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
		return fmt.Errorf("%w: %v", domain.ErrVersionConflict, err)
	}
	return err
}

// constraintError returns the sentinel registered for the unique constraint err
// violated, or nil when err is not one of them.
func constraintError(err error, sentinels map[string]error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}
	return sentinels[pgErr.ConstraintName]
}

func parseBigInt(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer value %q", raw)
	}
	return v, nil
}

func parseOptionalBigInt(raw *string) (*big.Int, error) {
	if raw == nil {
		return nil, nil
	}
	return parseBigInt(*raw)
}

func bigIntString(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// FindUserByID reads the account status from the users table owned by the account service.
func (q *pgQueries) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	err := q.db.QueryRow(ctx, `SELECT id, status FROM users WHERE id = $1`, userID).Scan(&user.ID, &user.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

const walletColumns = `id, user_id, gc_balance, sc_balance, usdc_balance, lifetime_won, sc_lifetime_earned, version, created_at, updated_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(
		&w.ID, &w.UserID, &w.GCBalance, &w.SCBalance, &w.USDCBalance,
		&w.LifetimeWon, &w.SCLifetimeEarned, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a zero-balance wallet. An existing wallet for the same user is returned unchanged.
func (q *pgQueries) CreateWallet(ctx context.Context, wallet *domain.Wallet) (*domain.Wallet, error) {
	query := `
		INSERT INTO wallets (id, user_id, gc_balance, sc_balance, usdc_balance, lifetime_won, sc_lifetime_earned, version, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 0, 0, 0, 0, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := q.db.Exec(ctx, query, wallet.ID, wallet.UserID, wallet.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert wallet: %w", err)
	}
	return q.FindWalletByUserID(ctx, wallet.UserID)
}

// FindWalletByUserID retrieves a user's wallet.
func (q *pgQueries) FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	w, err := scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return w, nil
}

// UpdateWalletIfVersion is the compare-and-swap write of the wallet update protocol.
func (q *pgQueries) UpdateWalletIfVersion(ctx context.Context, wallet *domain.Wallet, expectedVersion int64) (*domain.Wallet, error) {
	query := `
		UPDATE wallets
		SET gc_balance = $3,
		    sc_balance = $4,
		    usdc_balance = $5,
		    lifetime_won = $6,
		    sc_lifetime_earned = $7,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + walletColumns
	updated, err := scanWallet(q.db.QueryRow(ctx, query,
		wallet.ID, expectedVersion,
		wallet.GCBalance, wallet.SCBalance, wallet.USDCBalance,
		wallet.LifetimeWon, wallet.SCLifetimeEarned,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVersionConflict
		}
		return nil, fmt.Errorf("failed to update wallet: %w", err)
	}
	return updated, nil
}

// InsertTransaction appends a ledger row.
func (q *pgQueries) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	var metadata []byte
	if len(tx.Metadata) > 0 {
		encoded, err := json.Marshal(tx.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode transaction metadata: %w", err)
		}
		metadata = encoded
	}
	query := `
		INSERT INTO transactions (
			id, user_id, wallet_id, type, currency, amount, balance_before, balance_after,
			exchange_rate, reference_type, reference_id, status, description, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, $13, $14, $15)
	`
	_, err := q.db.Exec(ctx, query,
		tx.ID, tx.UserID, tx.WalletID, string(tx.Type), string(tx.Currency),
		tx.Amount, tx.BalanceBefore, tx.BalanceAfter, tx.ExchangeRate,
		tx.ReferenceType, tx.ReferenceID, tx.Status, tx.Description, metadata, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// ListTransactionsByUserID pages through a user's ledger, newest first.
func (q *pgQueries) ListTransactionsByUserID(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	query := `
		SELECT id, user_id, wallet_id, type, currency, amount, balance_before, balance_after,
		       exchange_rate, COALESCE(reference_type, ''), COALESCE(reference_id, ''), status,
		       COALESCE(description, ''), metadata, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := q.db.Query(ctx, query, userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var (
			tx       domain.Transaction
			typ      string
			currency string
			metadata []byte
		)
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.WalletID, &typ, &currency, &tx.Amount, &tx.BalanceBefore,
			&tx.BalanceAfter, &tx.ExchangeRate, &tx.ReferenceType, &tx.ReferenceID, &tx.Status,
			&tx.Description, &metadata, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		tx.Type = domain.TransactionType(typ)
		tx.Currency = domain.Currency(currency)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
			}
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
