package repository

import (
	"context"
	"errors"
	"fmt"

	"casedraft-backend/models"

	"github.com/jackc/pgx/v5"
)

// QuotaRepository is the Postgres-backed quota ledger store.
// Every read-modify-write runs in a transaction holding the entry row lock.
type QuotaRepository struct {
	db DB
}

// NewQuotaRepository creates a new quota repository
func NewQuotaRepository(db DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Reserve charges cost credits once per reservationID
func (r *QuotaRepository) Reserve(
	ctx context.Context,
	account string,
	tier models.Tier,
	cost int,
	reservationID string,
	initialAllotment int,
) (*models.QuotaReservation, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := lockEntry(ctx, tx, account, tier, initialAllotment)
	if err != nil {
		return nil, err
	}

	res := &models.QuotaReservation{
		ReservationID: reservationID,
		Cost:          cost,
	}

	var replayed bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM quota_reservations WHERE reservation_id = $1)`,
		reservationID,
	).Scan(&replayed)
	if err != nil {
		return nil, fmt.Errorf("failed to check reservation: %w", err)
	}

	switch {
	case replayed:
		res.Decision = models.ReservationGranted
		res.Replayed = true
	case entry.Consumed+cost > entry.Allotted:
		res.Decision = models.ReservationDenied
	default:
		err = tx.QueryRow(ctx, `
			UPDATE quota_entries SET
				consumed = consumed + $3,
				updated_at = NOW()
			WHERE account = $1 AND tier = $2
			RETURNING consumed, updated_at`,
			account, int(tier), cost,
		).Scan(&entry.Consumed, &entry.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to consume quota: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO quota_reservations (reservation_id, account, tier, cost)
			VALUES ($1, $2, $3, $4)`,
			reservationID, account, int(tier), cost,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to record reservation: %w", err)
		}
		res.Decision = models.ReservationGranted
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	res.Entry = *entry
	return res, nil
}

// AddCredits increases the allotment once per paymentRef. The boolean
// reports whether the payment was applied now (false on replay).
func (r *QuotaRepository) AddCredits(
	ctx context.Context,
	account string,
	tier models.Tier,
	credits int,
	paymentRef string,
	initialAllotment int,
) (*models.QuotaEntry, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := lockEntry(ctx, tx, account, tier, initialAllotment)
	if err != nil {
		return nil, false, err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO quota_payments (payment_ref, account, tier, credits)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (payment_ref) DO NOTHING`,
		paymentRef, account, int(tier), credits,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record payment: %w", err)
	}

	applied := tag.RowsAffected() > 0
	if applied {
		err = tx.QueryRow(ctx, `
			UPDATE quota_entries SET
				allotted = allotted + $3,
				updated_at = NOW()
			WHERE account = $1 AND tier = $2
			RETURNING allotted, updated_at`,
			account, int(tier), credits,
		).Scan(&entry.Allotted, &entry.UpdatedAt)
		if err != nil {
			return nil, false, fmt.Errorf("failed to add credits: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit payment: %w", err)
	}
	return entry, applied, nil
}

// Get returns the entry for an account and tier, or nil when none exists
func (r *QuotaRepository) Get(ctx context.Context, account string, tier models.Tier) (*models.QuotaEntry, error) {
	entry := &models.QuotaEntry{Account: account, Tier: tier}
	err := r.db.QueryRow(ctx, `
		SELECT allotted, consumed, updated_at
		FROM quota_entries
		WHERE account = $1 AND tier = $2`,
		account, int(tier),
	).Scan(&entry.Allotted, &entry.Consumed, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// lockEntry initialises the entry if missing and locks its row for the transaction
func lockEntry(ctx context.Context, tx pgx.Tx, account string, tier models.Tier, initialAllotment int) (*models.QuotaEntry, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO quota_entries (account, tier, allotted, consumed)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (account, tier) DO NOTHING`,
		account, int(tier), initialAllotment,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise quota entry: %w", err)
	}

	entry := &models.QuotaEntry{Account: account, Tier: tier}
	err = tx.QueryRow(ctx, `
		SELECT allotted, consumed, updated_at
		FROM quota_entries
		WHERE account = $1 AND tier = $2
		FOR UPDATE`,
		account, int(tier),
	).Scan(&entry.Allotted, &entry.Consumed, &entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock quota entry: %w", err)
	}
	return entry, nil
}
