package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"casedraft-backend/models"
	"casedraft-backend/storage"

	"github.com/google/uuid"
)

// GetCase returns a case the identity may see
func (o *Orchestrator) GetCase(ctx context.Context, id uuid.UUID, identity models.Identity) (*models.Case, error) {
	return o.load(ctx, id, identity)
}

// ListCasesRequest represents a request to list cases
type ListCasesRequest struct {
	Identity models.Identity
	State    *models.CaseState
	Limit    int
	Offset   int
}

// ListCases lists the identity's own cases, newest first
func (o *Orchestrator) ListCases(ctx context.Context, req ListCasesRequest) ([]*models.Case, error) {
	if req.Identity.UserID == uuid.Nil {
		return nil, invalid("identity", "user id is required")
	}
	if req.State != nil && !req.State.IsValid() {
		return nil, invalid("state", fmt.Sprintf("unknown state %q", *req.State))
	}
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	cases, err := o.cases.ListByOwner(ctx, req.Identity.UserID, req.State, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	return cases, nil
}

// ListDrafts returns the drafts of a case, newest first
func (o *Orchestrator) ListDrafts(ctx context.Context, caseID uuid.UUID, identity models.Identity) ([]*models.Draft, error) {
	if _, err := o.load(ctx, caseID, identity); err != nil {
		return nil, err
	}
	drafts, err := o.drafts.ListDrafts(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// GetDraft returns a draft whose case the identity may see
func (o *Orchestrator) GetDraft(ctx context.Context, id uuid.UUID, identity models.Identity) (*models.Draft, error) {
	draft, err := o.drafts.GetDraft(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrDraftNotFound
		}
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	if _, err := o.load(ctx, draft.CaseID, identity); err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			return nil, ErrDraftNotFound
		}
		return nil, err
	}
	return draft, nil
}

// OpenDraftDocument streams the rendered artifact of a draft, falling back to
// the stored markdown when no artifact was uploaded or it is gone
func (o *Orchestrator) OpenDraftDocument(ctx context.Context, id uuid.UUID, identity models.Identity) (io.ReadCloser, *models.Draft, error) {
	draft, err := o.GetDraft(ctx, id, identity)
	if err != nil {
		return nil, nil, err
	}

	if o.storage != nil && draft.StoragePath != nil {
		r, err := o.storage.Get(ctx, *draft.StoragePath)
		if err == nil {
			return r, draft, nil
		}
		if !errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, fmt.Errorf("failed to open draft artifact: %w", err)
		}
		o.logger.WarnContext(ctx, "draft artifact missing, serving stored content",
			"draft_id", draft.ID,
			"path", *draft.StoragePath,
		)
	}
	return io.NopCloser(strings.NewReader(draft.Content)), draft, nil
}
