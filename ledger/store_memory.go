package ledger

import (
	"context"
	"sync"
	"time"

	"casedraft-backend/models"
)

type entryKey struct {
	account string
	tier    models.Tier
}

// InMemoryStore is a mutex-guarded ledger store
type InMemoryStore struct {
	mu           sync.Mutex
	entries      map[entryKey]*models.QuotaEntry
	reservations map[string]bool
	payments     map[string]bool
}

// NewInMemoryStore creates an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries:      make(map[entryKey]*models.QuotaEntry),
		reservations: make(map[string]bool),
		payments:     make(map[string]bool),
	}
}

// Seed sets an entry directly; used by tests and fixtures
func (s *InMemoryStore) Seed(account string, tier models.Tier, allotted, consumed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entryKey{account, tier}] = &models.QuotaEntry{
		Account:   account,
		Tier:      tier,
		Allotted:  allotted,
		Consumed:  consumed,
		UpdatedAt: time.Now(),
	}
}

func (s *InMemoryStore) entry(account string, tier models.Tier, initialAllotment int) *models.QuotaEntry {
	key := entryKey{account, tier}
	e, ok := s.entries[key]
	if !ok {
		e = &models.QuotaEntry{
			Account:   account,
			Tier:      tier,
			Allotted:  initialAllotment,
			UpdatedAt: time.Now(),
		}
		s.entries[key] = e
	}
	return e
}

// Reserve charges cost once per reservationID
func (s *InMemoryStore) Reserve(_ context.Context, account string, tier models.Tier, cost int, reservationID string, initialAllotment int) (*models.QuotaReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(account, tier, initialAllotment)
	res := &models.QuotaReservation{ReservationID: reservationID, Cost: cost}

	switch {
	case s.reservations[reservationID]:
		res.Decision = models.ReservationGranted
		res.Replayed = true
	case e.Consumed+cost > e.Allotted:
		res.Decision = models.ReservationDenied
	default:
		e.Consumed += cost
		e.UpdatedAt = time.Now()
		s.reservations[reservationID] = true
		res.Decision = models.ReservationGranted
	}

	res.Entry = *e
	return res, nil
}

// AddCredits grows the allotment once per paymentRef
func (s *InMemoryStore) AddCredits(_ context.Context, account string, tier models.Tier, credits int, paymentRef string, initialAllotment int) (*models.QuotaEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(account, tier, initialAllotment)
	if s.payments[paymentRef] {
		out := *e
		return &out, false, nil
	}
	s.payments[paymentRef] = true
	e.Allotted += credits
	e.UpdatedAt = time.Now()

	out := *e
	return &out, true, nil
}

// Get returns the entry or nil when the account was never seen
func (s *InMemoryStore) Get(_ context.Context, account string, tier models.Tier) (*models.QuotaEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryKey{account, tier}]
	if !ok {
		return nil, nil
	}
	out := *e
	return &out, nil
}
