// Package ledger tracks per-account case credits per tier and gates case
// progress on them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"casedraft-backend/models"
)

var (
	ErrInvalidTier    = errors.New("invalid tier")
	ErrInvalidCredits = errors.New("credits must be positive")
	ErrMissingRef     = errors.New("reference is required")
)

// Store performs the atomic read-modify-write operations of the ledger.
// Implementations must serialise Reserve and AddCredits per account and tier.
type Store interface {
	Reserve(ctx context.Context, account string, tier models.Tier, cost int, reservationID string, initialAllotment int) (*models.QuotaReservation, error)
	AddCredits(ctx context.Context, account string, tier models.Tier, credits int, paymentRef string, initialAllotment int) (*models.QuotaEntry, bool, error)
	Get(ctx context.Context, account string, tier models.Tier) (*models.QuotaEntry, error)
}

// Ledger is the Quota/Tier Ledger
type Ledger struct {
	store    Store
	costs    CostTable
	defaults map[models.Tier]int
	logger   *slog.Logger
}

// Option configures a Ledger
type Option func(*Ledger)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithDefaultAllotments sets the credits granted to an account seen for the first time
func WithDefaultAllotments(defaults map[models.Tier]int) Option {
	return func(l *Ledger) {
		for tier, credits := range defaults {
			l.defaults[tier] = credits
		}
	}
}

// WithCostTable overrides the tier cost table
func WithCostTable(costs CostTable) Option {
	return func(l *Ledger) {
		l.costs = costs
	}
}

// New creates a ledger over store
func New(store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}

	l := &Ledger{
		store:    store,
		costs:    DefaultCosts,
		defaults: make(map[models.Tier]int),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.costs.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reserve charges the tier cost to the identity's account once per reservationID
func (l *Ledger) Reserve(ctx context.Context, id models.Identity, tier models.Tier, reservationID string) (*models.QuotaReservation, error) {
	if !tier.IsValid() {
		return nil, ErrInvalidTier
	}
	if reservationID == "" {
		return nil, ErrMissingRef
	}

	account := id.Account()
	cost := l.costs.Cost(tier)
	res, err := l.store.Reserve(ctx, account, tier, cost, reservationID, l.initialAllotment(id, tier))
	if err != nil {
		return nil, fmt.Errorf("failed to reserve quota: %w", err)
	}

	reservationsTotal.WithLabelValues(tier.String(), string(res.Decision)).Inc()
	if !res.Granted() {
		l.logger.InfoContext(ctx, "quota exhausted",
			"account", account,
			"tier", tier.String(),
			"allotted", res.Entry.Allotted,
			"consumed", res.Entry.Consumed,
			"cost", cost,
		)
	}
	return res, nil
}

// ConfirmPayment adds purchased credits; replays of paymentRef are no-ops
func (l *Ledger) ConfirmPayment(ctx context.Context, id models.Identity, tier models.Tier, credits int, paymentRef string) (*models.QuotaEntry, error) {
	if !tier.IsValid() {
		return nil, ErrInvalidTier
	}
	if credits <= 0 {
		return nil, ErrInvalidCredits
	}
	if paymentRef == "" {
		return nil, ErrMissingRef
	}

	entry, applied, err := l.store.AddCredits(ctx, id.Account(), tier, credits, paymentRef, l.initialAllotment(id, tier))
	if err != nil {
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}

	if applied {
		paymentsTotal.WithLabelValues(tier.String()).Inc()
		l.logger.InfoContext(ctx, "payment confirmed",
			"account", id.Account(),
			"tier", tier.String(),
			"credits", credits,
			"payment_ref", paymentRef,
		)
	}
	return entry, nil
}

// Balance returns the current entry for the identity and tier
func (l *Ledger) Balance(ctx context.Context, id models.Identity, tier models.Tier) (*models.QuotaEntry, error) {
	if !tier.IsValid() {
		return nil, ErrInvalidTier
	}
	entry, err := l.store.Get(ctx, id.Account(), tier)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return &models.QuotaEntry{
			Account:  id.Account(),
			Tier:     tier,
			Allotted: l.initialAllotment(id, tier),
		}, nil
	}
	return entry, nil
}

// Cost returns the credit cost of a tier
func (l *Ledger) Cost(tier models.Tier) int {
	return l.costs.Cost(tier)
}

func (l *Ledger) initialAllotment(id models.Identity, tier models.Tier) int {
	if credits, ok := id.Entitlements[tier]; ok {
		return credits
	}
	return l.defaults[tier]
}
