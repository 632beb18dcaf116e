package repository

import (
	"context"
	"errors"
	"fmt"

	"casedraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const caseColumns = `
	id, owner_id, organization_id, entitlements, title,
	tier, charged_tier, quota_status,
	state, version,
	case_details, pending_inputs, open_questions, latest_plan,
	stall, replan_count, auto_cycles, unsynthesized, history,
	reopened_from, created_at, updated_at, closed_at`

// CaseRepository is the Postgres-backed versioned case store
type CaseRepository struct {
	db DB
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// Create inserts a new case at version 1. An existing id yields ErrVersionConflict.
func (r *CaseRepository) Create(ctx context.Context, c *models.Case) error {
	query := `
		INSERT INTO cases (
			id, owner_id, organization_id, entitlements, title,
			tier, charged_tier, quota_status,
			state, version,
			case_details, pending_inputs, open_questions, latest_plan,
			stall, replan_count, auto_cycles, unsynthesized, history, reopened_from
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
		)
		ON CONFLICT (id) DO NOTHING
		RETURNING version, created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		c.ID,
		c.OwnerID,
		c.OrganizationID,
		c.Entitlements,
		c.Title,
		int(c.Tier),
		int(c.ChargedTier),
		c.QuotaStatus,
		c.State,
		c.Details,
		c.PendingInputs,
		c.OpenQuestions,
		c.LatestPlan,
		c.Stall,
		c.ReplanCount,
		c.AutoCycles,
		c.Unsynthesized,
		c.History,
		c.ReopenedFrom,
	).Scan(&c.Version, &c.CreatedAt, &c.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

// Load retrieves a case with its current version
func (r *CaseRepository) Load(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`

	c, err := scanCase(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}
	return c, nil
}

// Commit writes c if the stored version still equals expectedVersion.
// On success c.Version is expectedVersion+1.
func (r *CaseRepository) Commit(ctx context.Context, expectedVersion int64, c *models.Case) error {
	return commitCase(ctx, r.db, expectedVersion, c)
}

// CommitWithDraft commits c and appends draft in one transaction. A conflict
// rolls both back, so no draft outlives a lost commit.
func (r *CaseRepository) CommitWithDraft(ctx context.Context, expectedVersion int64, c *models.Case, draft *models.Draft) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := commitCase(ctx, tx, expectedVersion, c); err != nil {
		return err
	}
	if err := appendDraft(ctx, tx, draft); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func commitCase(ctx context.Context, q querier, expectedVersion int64, c *models.Case) error {
	query := `
		UPDATE cases SET
			title = $3,
			tier = $4,
			charged_tier = $5,
			quota_status = $6,
			state = $7,
			version = version + 1,
			case_details = $8,
			pending_inputs = $9,
			open_questions = $10,
			latest_plan = $11,
			stall = $12,
			replan_count = $13,
			auto_cycles = $14,
			history = $15,
			closed_at = $16,
			entitlements = $17,
			unsynthesized = $18,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`

	err := q.QueryRow(
		ctx, query,
		c.ID,
		expectedVersion,
		c.Title,
		int(c.Tier),
		int(c.ChargedTier),
		c.QuotaStatus,
		c.State,
		c.Details,
		c.PendingInputs,
		c.OpenQuestions,
		c.LatestPlan,
		c.Stall,
		c.ReplanCount,
		c.AutoCycles,
		c.History,
		c.ClosedAt,
		c.Entitlements,
		c.Unsynthesized,
	).Scan(&c.Version, &c.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cases WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check case existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to commit case: %w", err)
	}
	return nil
}

// ListByOwner retrieves the cases of a user, newest first
func (r *CaseRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, state *models.CaseState, limit, offset int) ([]*models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE owner_id = $1`

	args := []interface{}{ownerID}
	argIndex := 2

	if state != nil {
		query += fmt.Sprintf(" AND state = $%d", argIndex)
		args = append(args, *state)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
		if offset > 0 {
			query += fmt.Sprintf(" OFFSET $%d", argIndex)
			args = append(args, offset)
		}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*models.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	return cases, rows.Err()
}

func scanCase(row pgx.Row) (*models.Case, error) {
	c := &models.Case{}
	var tier, chargedTier int
	err := row.Scan(
		&c.ID,
		&c.OwnerID,
		&c.OrganizationID,
		&c.Entitlements,
		&c.Title,
		&tier,
		&chargedTier,
		&c.QuotaStatus,
		&c.State,
		&c.Version,
		&c.Details,
		&c.PendingInputs,
		&c.OpenQuestions,
		&c.LatestPlan,
		&c.Stall,
		&c.ReplanCount,
		&c.AutoCycles,
		&c.Unsynthesized,
		&c.History,
		&c.ReopenedFrom,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Tier = models.Tier(tier)
	c.ChargedTier = models.Tier(chargedTier)
	return c, nil
}
