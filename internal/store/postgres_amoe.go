package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/neonplay/ledger-service/internal/domain"
)

const (
	amoeEntriesCodeKey         = "amoe_entries_code_key"
	amoeEntriesOneGeneratedIdx = "amoe_entries_one_generated_per_user"
)

var amoeEntryConflicts = map[string]error{
	amoeEntriesCodeKey:         ErrAmoeCodeTaken,
	amoeEntriesOneGeneratedIdx: ErrGeneratedAmoeExists,
}

const amoeColumns = `id, user_id, code, status, postal_address, reward_amount, reward_currency,
	created_at, submitted_at, approved_at, redeemed_at, expired_at`

func scanAmoeEntry(row pgx.Row) (*domain.AmoeEntry, error) {
	var (
		e        domain.AmoeEntry
		status   string
		address  []byte
		currency *string
	)
	if err := row.Scan(
		&e.ID, &e.UserID, &e.Code, &status, &address, &e.RewardAmount, &currency,
		&e.CreatedAt, &e.SubmittedAt, &e.ApprovedAt, &e.RedeemedAt, &e.ExpiredAt,
	); err != nil {
		return nil, err
	}
	e.Status = domain.AmoeStatus(status)
	if len(address) > 0 {
		var addr domain.PostalAddress
		if err := json.Unmarshal(address, &addr); err != nil {
			return nil, fmt.Errorf("failed to decode postal address: %w", err)
		}
		e.PostalAddress = &addr
	}
	if currency != nil {
		c := domain.Currency(*currency)
		e.RewardCurrency = &c
	}
	return &e, nil
}

func (q *pgQueries) findAmoeEntry(ctx context.Context, query string, args ...any) (*domain.AmoeEntry, error) {
	e, err := scanAmoeEntry(q.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAmoeEntryNotFound
		}
		return nil, err
	}
	return e, nil
}

// FindGeneratedAmoeEntryByUserIDForUpdate returns the user's unused code, if any.
func (q *pgQueries) FindGeneratedAmoeEntryByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*domain.AmoeEntry, error) {
	return q.findAmoeEntry(ctx,
		`SELECT `+amoeColumns+` FROM amoe_entries WHERE user_id = $1 AND status = 'generated' FOR UPDATE`, userID)
}

// CountAmoeEntriesSince counts codes issued to a user since the window start.
func (q *pgQueries) CountAmoeEntriesSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM amoe_entries WHERE user_id = $1 AND created_at >= $2`, userID, since,
	).Scan(&count)
	return count, err
}

// AmoeCodeExists reports whether a code was ever issued.
func (q *pgQueries) AmoeCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM amoe_entries WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// CreateAmoeEntry issues a new generated code.
func (q *pgQueries) CreateAmoeEntry(ctx context.Context, e *domain.AmoeEntry) error {
	query := `
		INSERT INTO amoe_entries (id, user_id, code, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := q.db.Exec(ctx, query, e.ID, e.UserID, e.Code, string(e.Status), e.CreatedAt)
	if err != nil {
		if mapped := constraintError(err, amoeEntryConflicts); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert amoe entry: %w", err)
	}
	return nil
}

// FindAmoeEntryByCodeForUpdate locks the entry with the given code owned by userID.
func (q *pgQueries) FindAmoeEntryByCodeForUpdate(ctx context.Context, userID uuid.UUID, code string) (*domain.AmoeEntry, error) {
	return q.findAmoeEntry(ctx,
		`SELECT `+amoeColumns+` FROM amoe_entries WHERE user_id = $1 AND code = $2 FOR UPDATE`, userID, code)
}

// FindAmoeEntryByIDForUpdate locks an entry by id.
func (q *pgQueries) FindAmoeEntryByIDForUpdate(ctx context.Context, entryID uuid.UUID) (*domain.AmoeEntry, error) {
	return q.findAmoeEntry(ctx, `SELECT `+amoeColumns+` FROM amoe_entries WHERE id = $1 FOR UPDATE`, entryID)
}

// UpdateAmoeEntry persists a lifecycle transition. The code and owner never change.
func (q *pgQueries) UpdateAmoeEntry(ctx context.Context, e *domain.AmoeEntry) error {
	var address []byte
	if e.PostalAddress != nil {
		encoded, err := json.Marshal(e.PostalAddress)
		if err != nil {
			return fmt.Errorf("failed to encode postal address: %w", err)
		}
		address = encoded
	}
	var currency *string
	if e.RewardCurrency != nil {
		c := string(*e.RewardCurrency)
		currency = &c
	}
	query := `
		UPDATE amoe_entries
		SET status = $2,
		    postal_address = $3,
		    reward_amount = $4,
		    reward_currency = $5,
		    submitted_at = $6,
		    approved_at = $7,
		    redeemed_at = $8,
		    expired_at = $9
		WHERE id = $1
	`
	tag, err := q.db.Exec(ctx, query,
		e.ID, string(e.Status), address, e.RewardAmount, currency,
		e.SubmittedAt, e.ApprovedAt, e.RedeemedAt, e.ExpiredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update amoe entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAmoeEntryNotFound
	}
	return nil
}

// ListAmoeEntriesByUserID returns a user's entries, newest first.
func (q *pgQueries) ListAmoeEntriesByUserID(ctx context.Context, userID uuid.UUID) ([]domain.AmoeEntry, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+amoeColumns+` FROM amoe_entries WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AmoeEntry
	for rows.Next() {
		e, err := scanAmoeEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ExpireGeneratedAmoeEntries moves unused codes created before the cutoff to expired.
func (q *pgQueries) ExpireGeneratedAmoeEntries(ctx context.Context, createdBefore time.Time, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE amoe_entries SET status = 'expired', expired_at = $2 WHERE status = 'generated' AND created_at < $1`,
		createdBefore, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire amoe entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
