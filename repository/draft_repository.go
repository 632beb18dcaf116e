package repository

import (
	"context"
	"errors"
	"fmt"

	"casedraft-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DraftRepository handles database operations for drafts
type DraftRepository struct {
	db DB
}

// NewDraftRepository creates a new draft repository
func NewDraftRepository(db DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// AppendDraft stores a draft and supersedes every older draft of the case.
// Appending an id that already exists is a no-op.
func (r *DraftRepository) AppendDraft(ctx context.Context, draft *models.Draft) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := appendDraft(ctx, tx, draft); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// appendDraft runs the insert and supersede statements on q, which callers
// keep inside a transaction
func appendDraft(ctx context.Context, q querier, draft *models.Draft) error {
	if draft.Status == "" {
		draft.Status = models.DraftGenerated
	}

	query := `
		INSERT INTO drafts (
			id, case_id, plan_version, title, content, storage_path, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
		RETURNING created_at`

	err := q.QueryRow(
		ctx, query,
		draft.ID,
		draft.CaseID,
		draft.PlanVersion,
		draft.Title,
		draft.Content,
		draft.StoragePath,
		draft.Status,
	).Scan(&draft.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to insert draft: %w", err)
	}

	_, err = q.Exec(ctx, `
		UPDATE drafts SET status = $3
		WHERE case_id = $1 AND id <> $2 AND status <> $3`,
		draft.CaseID, draft.ID, models.DraftSuperseded)
	if err != nil {
		return fmt.Errorf("failed to supersede drafts: %w", err)
	}
	return nil
}

// GetDraft retrieves a draft by ID
func (r *DraftRepository) GetDraft(ctx context.Context, id uuid.UUID) (*models.Draft, error) {
	query := `
		SELECT id, case_id, plan_version, title, content, storage_path, status, created_at, delivered_at
		FROM drafts
		WHERE id = $1`

	draft, err := scanDraft(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// ListDrafts retrieves all drafts of a case, newest first
func (r *DraftRepository) ListDrafts(ctx context.Context, caseID uuid.UUID) ([]*models.Draft, error) {
	query := `
		SELECT id, case_id, plan_version, title, content, storage_path, status, created_at, delivered_at
		FROM drafts
		WHERE case_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []*models.Draft
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, draft)
	}

	return drafts, rows.Err()
}

// MarkDelivered flags a generated draft as delivered to the user
func (r *DraftRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE drafts SET
			status = $2,
			delivered_at = NOW()
		WHERE id = $1 AND status = $3`

	_, err := r.db.Exec(ctx, query, id, models.DraftDelivered, models.DraftGenerated)
	return err
}

func scanDraft(row pgx.Row) (*models.Draft, error) {
	draft := &models.Draft{}
	err := row.Scan(
		&draft.ID,
		&draft.CaseID,
		&draft.PlanVersion,
		&draft.Title,
		&draft.Content,
		&draft.StoragePath,
		&draft.Status,
		&draft.CreatedAt,
		&draft.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	return draft, nil
}
