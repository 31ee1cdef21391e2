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
	xpHistoryReferenceConstraint       = "xp_history_source_reference_key"
	cashbackAccrualReferenceConstraint = "cashback_accruals_user_reference_key"
)

var (
	xpHistoryConflicts       = map[string]error{xpHistoryReferenceConstraint: domain.ErrXpAlreadyAwarded}
	cashbackAccrualConflicts = map[string]error{cashbackAccrualReferenceConstraint: domain.ErrCashbackAlreadyAccrued}
)

// ListVipTiers returns the ladder ordered by level. XP thresholds are read as
// text to keep their full precision.
func (q *pgQueries) ListVipTiers(ctx context.Context) ([]domain.VipTier, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name, level, min_xp::text, cashback_percent FROM vip_tiers ORDER BY level ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []domain.VipTier
	for rows.Next() {
		var (
			tier  domain.VipTier
			minXp string
		)
		if err := rows.Scan(&tier.ID, &tier.Name, &tier.Level, &minXp, &tier.CashbackPercent); err != nil {
			return nil, err
		}
		if tier.MinXp, err = parseBigInt(minXp); err != nil {
			return nil, fmt.Errorf("tier %s: %w", tier.Name, err)
		}
		tiers = append(tiers, tier)
	}
	return tiers, rows.Err()
}

// UpsertVipTier inserts or refreshes a rung of the ladder keyed by level.
func (q *pgQueries) UpsertVipTier(ctx context.Context, tier domain.VipTier) error {
	id := tier.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	query := `
		INSERT INTO vip_tiers (id, name, level, min_xp, cashback_percent)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (level) DO UPDATE
		SET name = EXCLUDED.name,
		    min_xp = EXCLUDED.min_xp,
		    cashback_percent = EXCLUDED.cashback_percent
	`
	if _, err := q.db.Exec(ctx, query, id, tier.Name, tier.Level, tier.MinXp.String(), tier.CashbackPercent); err != nil {
		return fmt.Errorf("failed to upsert vip tier %s: %w", tier.Name, err)
	}
	return nil
}

const userVipColumns = `id, user_id, tier_id, xp_current::text, xp_lifetime::text, next_tier_xp::text, cashback_available, tier_upgraded_at, created_at, updated_at`

func scanUserVip(row pgx.Row) (*domain.UserVip, error) {
	var (
		vip                   domain.UserVip
		xpCurrent, xpLifetime string
		nextTierXp            *string
	)
	if err := row.Scan(
		&vip.ID, &vip.UserID, &vip.TierID, &xpCurrent, &xpLifetime, &nextTierXp,
		&vip.CashbackAvailable, &vip.TierUpgradedAt, &vip.CreatedAt, &vip.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if vip.XpCurrent, err = parseBigInt(xpCurrent); err != nil {
		return nil, err
	}
	if vip.XpLifetime, err = parseBigInt(xpLifetime); err != nil {
		return nil, err
	}
	if vip.NextTierXp, err = parseOptionalBigInt(nextTierXp); err != nil {
		return nil, err
	}
	return &vip, nil
}

// FindUserVipByUserIDForUpdate reads and locks the user's VIP row.
func (q *pgQueries) FindUserVipByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*domain.UserVip, error) {
	vip, err := scanUserVip(q.db.QueryRow(ctx, `SELECT `+userVipColumns+` FROM user_vips WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserVipNotFound
		}
		return nil, err
	}
	return vip, nil
}

// CreateUserVip inserts the lazily-created VIP row. Losing a creation race is not
// an error: the winner's row is returned, locked.
func (q *pgQueries) CreateUserVip(ctx context.Context, vip *domain.UserVip) (*domain.UserVip, error) {
	query := `
		INSERT INTO user_vips (id, user_id, tier_id, xp_current, xp_lifetime, next_tier_xp, cashback_available, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $8)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := q.db.Exec(ctx, query,
		vip.ID, vip.UserID, vip.TierID, vip.XpCurrent.String(), vip.XpLifetime.String(),
		bigIntString(vip.NextTierXp), vip.CashbackAvailable, vip.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user vip: %w", err)
	}
	return q.FindUserVipByUserIDForUpdate(ctx, vip.UserID)
}

// UpdateUserVip writes tier, XP and cashback state.
func (q *pgQueries) UpdateUserVip(ctx context.Context, vip *domain.UserVip) error {
	query := `
		UPDATE user_vips
		SET tier_id = $2,
		    xp_current = $3::numeric,
		    xp_lifetime = $4::numeric,
		    next_tier_xp = $5::numeric,
		    cashback_available = $6,
		    tier_upgraded_at = $7,
		    updated_at = NOW()
		WHERE id = $1
	`
	tag, err := q.db.Exec(ctx, query,
		vip.ID, vip.TierID, vip.XpCurrent.String(), vip.XpLifetime.String(),
		bigIntString(vip.NextTierXp), vip.CashbackAvailable, vip.TierUpgradedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user vip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserVipNotFound
	}
	return nil
}

// InsertXpHistory appends an award to the audit trail. A repeated (source,
// reference) pair maps to domain.ErrXpAlreadyAwarded.
func (q *pgQueries) InsertXpHistory(ctx context.Context, entry *domain.XpHistory) error {
	query := `
		INSERT INTO xp_history (id, user_id, amount, source, reference_id, tier_before, tier_after, created_at)
		VALUES ($1, $2, $3::numeric, $4, NULLIF($5, ''), $6, $7, $8)
	`
	_, err := q.db.Exec(ctx, query,
		entry.ID, entry.UserID, entry.Amount.String(), entry.Source, entry.ReferenceID,
		entry.TierBefore, entry.TierAfter, entry.CreatedAt,
	)
	if err != nil {
		if mapped := constraintError(err, xpHistoryConflicts); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert xp history: %w", err)
	}
	return nil
}

// XpHistoryExists reports whether an award for the external event was already recorded.
func (q *pgQueries) XpHistoryExists(ctx context.Context, source, referenceID string) (bool, error) {
	if referenceID == "" {
		return false, nil
	}
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM xp_history WHERE source = $1 AND reference_id = $2)`,
		source, referenceID,
	).Scan(&exists)
	return exists, err
}

// InsertCashbackAccrual records a loss accrual. The (user, reference) unique key
// turns a redelivered round into domain.ErrCashbackAlreadyAccrued.
func (q *pgQueries) InsertCashbackAccrual(ctx context.Context, record *domain.CashbackAccrualRecord) error {
	query := `
		INSERT INTO cashback_accruals (id, user_id, reference_id, loss_amount, percent, accrued, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.db.Exec(ctx, query,
		record.ID, record.UserID, record.ReferenceID, record.LossAmount, record.Percent, record.Accrued, record.CreatedAt,
	)
	if err != nil {
		if mapped := constraintError(err, cashbackAccrualConflicts); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert cashback accrual: %w", err)
	}
	return nil
}
