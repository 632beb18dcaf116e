package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"casedraft-backend/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process case and draft store with the same
// versioning semantics as the Postgres repositories.
type MemoryStore struct {
	mu     sync.RWMutex
	cases  map[uuid.UUID]*models.Case
	drafts map[uuid.UUID][]*models.Draft
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cases:  make(map[uuid.UUID]*models.Case),
		drafts: make(map[uuid.UUID][]*models.Draft),
		now:    time.Now,
	}
}

// Create inserts a new case at version 1
func (s *MemoryStore) Create(_ context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.ID]; exists {
		return ErrVersionConflict
	}
	now := s.now()
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	s.cases[c.ID] = c.Clone()
	return nil
}

// Load returns a copy of the stored case
func (s *MemoryStore) Load(_ context.Context, id uuid.UUID) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Commit replaces the case if the stored version equals expectedVersion
func (s *MemoryStore) Commit(_ context.Context, expectedVersion int64, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(expectedVersion, c)
}

// CommitWithDraft commits c and appends draft under one lock
func (s *MemoryStore) CommitWithDraft(_ context.Context, expectedVersion int64, c *models.Case, draft *models.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.commitLocked(expectedVersion, c); err != nil {
		return err
	}
	s.appendDraftLocked(draft)
	return nil
}

func (s *MemoryStore) commitLocked(expectedVersion int64, c *models.Case) error {
	cur, ok := s.cases[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}

	c.Version = expectedVersion + 1
	c.CreatedAt = cur.CreatedAt
	c.UpdatedAt = s.now()
	s.cases[c.ID] = c.Clone()
	return nil
}

// ListByOwner returns the owner's cases, newest first
func (s *MemoryStore) ListByOwner(_ context.Context, ownerID uuid.UUID, state *models.CaseState, limit, offset int) ([]*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Case
	for _, c := range s.cases {
		if c.OwnerID != ownerID {
			continue
		}
		if state != nil && c.State != *state {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendDraft stores a draft and supersedes the older ones
func (s *MemoryStore) AppendDraft(_ context.Context, draft *models.Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendDraftLocked(draft)
	return nil
}

func (s *MemoryStore) appendDraftLocked(draft *models.Draft) {
	for _, d := range s.drafts[draft.CaseID] {
		if d.ID == draft.ID {
			return
		}
	}

	if draft.Status == "" {
		draft.Status = models.DraftGenerated
	}
	draft.CreatedAt = s.now()

	for _, d := range s.drafts[draft.CaseID] {
		d.Status = models.DraftSuperseded
	}
	stored := *draft
	s.drafts[draft.CaseID] = append(s.drafts[draft.CaseID], &stored)
}

// GetDraft returns a draft by id
func (s *MemoryStore) GetDraft(_ context.Context, id uuid.UUID) (*models.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, drafts := range s.drafts {
		for _, d := range drafts {
			if d.ID == id {
				out := *d
				return &out, nil
			}
		}
	}
	return nil, ErrNotFound
}

// ListDrafts returns the drafts of a case, newest first
func (s *MemoryStore) ListDrafts(_ context.Context, caseID uuid.UUID) ([]*models.Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drafts := s.drafts[caseID]
	out := make([]*models.Draft, 0, len(drafts))
	for i := len(drafts) - 1; i >= 0; i-- {
		d := *drafts[i]
		out = append(out, &d)
	}
	return out, nil
}

// MarkDelivered flags a generated draft as delivered
func (s *MemoryStore) MarkDelivered(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, drafts := range s.drafts {
		for _, d := range drafts {
			if d.ID == id && d.Status == models.DraftGenerated {
				now := s.now()
				d.Status = models.DraftDelivered
				d.DeliveredAt = &now
				return nil
			}
		}
	}
	return nil
}
