package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/neonplay/ledger-service/internal/domain"
)

const (
	referralCodesPkey        = "referral_codes_pkey"
	referralCodesUserKey     = "referral_codes_user_id_key"
	referralsReferredUserKey = "referrals_referred_id_key"
)

var (
	referralCodeConflicts = map[string]error{
		referralCodesPkey:    ErrReferralCodeTaken,
		referralCodesUserKey: domain.ErrVersionConflict,
	}
	referralConflicts = map[string]error{
		referralsReferredUserKey: domain.ErrReferralAlreadyApplied,
	}
)

// FindReferralCodeByUserID returns the code owned by userID.
func (q *pgQueries) FindReferralCodeByUserID(ctx context.Context, userID uuid.UUID) (*domain.ReferralCode, error) {
	var code domain.ReferralCode
	err := q.db.QueryRow(ctx,
		`SELECT code, user_id, created_at FROM referral_codes WHERE user_id = $1`, userID,
	).Scan(&code.Code, &code.UserID, &code.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReferralCodeNotFound
		}
		return nil, err
	}
	return &code, nil
}

// FindReferralCodeByCode resolves a shared code to its owner.
func (q *pgQueries) FindReferralCodeByCode(ctx context.Context, code string) (*domain.ReferralCode, error) {
	var rc domain.ReferralCode
	err := q.db.QueryRow(ctx,
		`SELECT code, user_id, created_at FROM referral_codes WHERE code = $1`, code,
	).Scan(&rc.Code, &rc.UserID, &rc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReferralCodeNotFound
		}
		return nil, err
	}
	return &rc, nil
}

// CreateReferralCode stores a freshly minted code. A collision on the code maps to
// ErrReferralCodeTaken so the caller can mint again.
func (q *pgQueries) CreateReferralCode(ctx context.Context, code *domain.ReferralCode) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO referral_codes (code, user_id, created_at) VALUES ($1, $2, $3)`,
		code.Code, code.UserID, code.CreatedAt,
	)
	if err != nil {
		if mapped := constraintError(err, referralCodeConflicts); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert referral code: %w", err)
	}
	return nil
}

const referralColumns = `id, referrer_id, referred_id, code, status, qualifying_amount, qualified_at, rewarded_at, created_at, updated_at`

func scanReferral(row pgx.Row) (*domain.Referral, error) {
	var (
		r      domain.Referral
		status string
	)
	if err := row.Scan(
		&r.ID, &r.ReferrerID, &r.ReferredID, &r.Code, &status, &r.QualifyingAmount,
		&r.QualifiedAt, &r.RewardedAt, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Status = domain.ReferralStatus(status)
	return &r, nil
}

func (q *pgQueries) findReferral(ctx context.Context, where string, arg any) (*domain.Referral, error) {
	r, err := scanReferral(q.db.QueryRow(ctx, `SELECT `+referralColumns+` FROM referrals WHERE `+where+` FOR UPDATE`, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReferralNotFound
		}
		return nil, err
	}
	return r, nil
}

// FindReferralByReferredIDForUpdate locks the referral a user joined through.
func (q *pgQueries) FindReferralByReferredIDForUpdate(ctx context.Context, referredID uuid.UUID) (*domain.Referral, error) {
	return q.findReferral(ctx, "referred_id = $1", referredID)
}

// FindReferralByIDForUpdate locks a referral by its id.
func (q *pgQueries) FindReferralByIDForUpdate(ctx context.Context, referralID uuid.UUID) (*domain.Referral, error) {
	return q.findReferral(ctx, "id = $1", referralID)
}

// CreateReferral inserts a pending referral. The unique index on referred_id turns
// a concurrent second application into domain.ErrReferralAlreadyApplied.
func (q *pgQueries) CreateReferral(ctx context.Context, r *domain.Referral) error {
	query := `
		INSERT INTO referrals (id, referrer_id, referred_id, code, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	_, err := q.db.Exec(ctx, query, r.ID, r.ReferrerID, r.ReferredID, r.Code, string(r.Status), r.CreatedAt)
	if err != nil {
		if mapped := constraintError(err, referralConflicts); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert referral: %w", err)
	}
	return nil
}

// UpdateReferral persists status transitions.
func (q *pgQueries) UpdateReferral(ctx context.Context, r *domain.Referral) error {
	query := `
		UPDATE referrals
		SET status = $2,
		    qualifying_amount = $3,
		    qualified_at = $4,
		    rewarded_at = $5,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := q.db.Exec(ctx, query, r.ID, string(r.Status), r.QualifyingAmount, r.QualifiedAt, r.RewardedAt)
	if err != nil {
		return fmt.Errorf("failed to update referral: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReferralNotFound
	}
	return nil
}

// ListReferralsByReferrerID returns every referral made by a user, newest first.
func (q *pgQueries) ListReferralsByReferrerID(ctx context.Context, referrerID uuid.UUID) ([]domain.Referral, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+referralColumns+` FROM referrals WHERE referrer_id = $1 ORDER BY created_at DESC`, referrerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var referrals []domain.Referral
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		referrals = append(referrals, *r)
	}
	return referrals, rows.Err()
}

// ListQualifyingReferralIDs feeds the payout sweep, oldest first.
func (q *pgQueries) ListQualifyingReferralIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id FROM referrals
		 WHERE status = 'pending' AND qualifying_amount IS NOT NULL
		 ORDER BY updated_at ASC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertBonusClaim appends a bonus audit record.
func (q *pgQueries) InsertBonusClaim(ctx context.Context, claim *domain.BonusClaim) error {
	query := `
		INSERT INTO bonus_claims (id, user_id, bonus_type, amount, currency, reference_type, reference_id, transaction_id, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.db.Exec(ctx, query,
		claim.ID, claim.UserID, claim.BonusType, claim.Amount, string(claim.Currency),
		claim.ReferenceType, claim.ReferenceID, claim.TransactionID, claim.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bonus claim: %w", err)
	}
	return nil
}
