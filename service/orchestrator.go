package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"casedraft-backend/classification"
	"casedraft-backend/engine"
	"casedraft-backend/models"
	"casedraft-backend/notifier"
	"casedraft-backend/storage"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// CaseStore is the versioned case record store
type CaseStore interface {
	Create(ctx context.Context, c *models.Case) error
	Load(ctx context.Context, id uuid.UUID) (*models.Case, error)
	Commit(ctx context.Context, expectedVersion int64, c *models.Case) error
	// CommitWithDraft commits c and stores draft atomically
	CommitWithDraft(ctx context.Context, expectedVersion int64, c *models.Case, draft *models.Draft) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID, state *models.CaseState, limit, offset int) ([]*models.Case, error)
}

// DraftStore keeps generated drafts
type DraftStore interface {
	GetDraft(ctx context.Context, id uuid.UUID) (*models.Draft, error)
	ListDrafts(ctx context.Context, caseID uuid.UUID) ([]*models.Draft, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) error
}

// QuotaLedger gates cases on per-account credits
type QuotaLedger interface {
	Reserve(ctx context.Context, id models.Identity, tier models.Tier, reservationID string) (*models.QuotaReservation, error)
	ConfirmPayment(ctx context.Context, id models.Identity, tier models.Tier, credits int, paymentRef string) (*models.QuotaEntry, error)
}

// Consulter calls the reasoning and drafting engines
type Consulter interface {
	Consult(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// LegalLookup resolves lookup directives to references
type LegalLookup interface {
	Lookup(ctx context.Context, d models.LookupDirective) ([]models.Reference, error)
}

// CaseNotifier delivers user-facing events
type CaseNotifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind notifier.Kind, payload map[string]any) error
}

// Classifier assigns a tier to case details
type Classifier interface {
	Classify(details models.CaseDetails) classification.Match
}

// Limits bounds the orchestrator's loops
type Limits struct {
	MaxConflictRetries int
	MaxReplans         int
	MaxAutoCycles      int
	MaxSteps           int
}

// DefaultLimits are used for zero fields
var DefaultLimits = Limits{
	MaxConflictRetries: 5,
	MaxReplans:         2,
	MaxAutoCycles:      3,
	MaxSteps:           32,
}

func (l Limits) withDefaults() Limits {
	if l.MaxConflictRetries <= 0 {
		l.MaxConflictRetries = DefaultLimits.MaxConflictRetries
	}
	if l.MaxReplans <= 0 {
		l.MaxReplans = DefaultLimits.MaxReplans
	}
	if l.MaxAutoCycles <= 0 {
		l.MaxAutoCycles = DefaultLimits.MaxAutoCycles
	}
	if l.MaxSteps <= 0 {
		l.MaxSteps = DefaultLimits.MaxSteps
	}
	return l
}

// Orchestrator owns the case state machine. It holds no per-case state;
// every event and step loads the case, applies one transition and commits it
// at the loaded version.
type Orchestrator struct {
	cases      CaseStore
	drafts     DraftStore
	ledger     QuotaLedger
	engine     Consulter
	lookup     LegalLookup
	notifier   CaseNotifier
	storage    storage.Storage
	classifier Classifier

	limits Limits
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option is a functional option for Orchestrator
type Option func(*Orchestrator)

// WithCaseStore sets the case store
func WithCaseStore(store CaseStore) Option {
	return func(o *Orchestrator) {
		o.cases = store
	}
}

// WithDraftStore sets the draft store
func WithDraftStore(store DraftStore) Option {
	return func(o *Orchestrator) {
		o.drafts = store
	}
}

// WithLedger sets the quota ledger
func WithLedger(ledger QuotaLedger) Option {
	return func(o *Orchestrator) {
		o.ledger = ledger
	}
}

// WithEngine sets the engine gateway
func WithEngine(e Consulter) Option {
	return func(o *Orchestrator) {
		o.engine = e
	}
}

// WithLookup sets the legal lookup used for engine lookup directives
func WithLookup(l LegalLookup) Option {
	return func(o *Orchestrator) {
		o.lookup = l
	}
}

// WithNotifier sets the notifier
func WithNotifier(n CaseNotifier) Option {
	return func(o *Orchestrator) {
		o.notifier = n
	}
}

// WithStorage sets where rendered drafts are uploaded
func WithStorage(s storage.Storage) Option {
	return func(o *Orchestrator) {
		o.storage = s
	}
}

// WithClassifier sets the tier classifier
func WithClassifier(c Classifier) Option {
	return func(o *Orchestrator) {
		o.classifier = c
	}
}

// WithLimits sets loop bounds
func WithLimits(l Limits) Option {
	return func(o *Orchestrator) {
		o.limits = l.withDefaults()
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator. Lookup, notifier and storage are
// optional.
func NewOrchestrator(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		limits: DefaultLimits,
		logger: slog.Default(),
		tracer: otel.Tracer("casedraft/service"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	switch {
	case o.cases == nil:
		return nil, errors.New("case store not set")
	case o.drafts == nil:
		return nil, errors.New("draft store not set")
	case o.ledger == nil:
		return nil, errors.New("quota ledger not set")
	case o.engine == nil:
		return nil, errors.New("engine gateway not set")
	case o.classifier == nil:
		return nil, errors.New("classifier not set")
	}
	return o, nil
}

// load fetches a case and checks the identity may act on it. Cases of other
// owners read as not found.
func (o *Orchestrator) load(ctx context.Context, id uuid.UUID, identity models.Identity) (*models.Case, error) {
	c, err := o.loadCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(c, identity) {
		return nil, ErrCaseNotFound
	}
	return c, nil
}

func (o *Orchestrator) loadCase(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	c, err := o.cases.Load(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrCaseNotFound
		}
		return nil, fmt.Errorf("failed to load case %s: %w", id, err)
	}
	return c, nil
}

func canAccess(c *models.Case, identity models.Identity) bool {
	if identity.UserID != uuid.Nil && c.OwnerID == identity.UserID {
		return true
	}
	return c.OrganizationID != nil && identity.OrganizationID != nil &&
		*c.OrganizationID != uuid.Nil && *c.OrganizationID == *identity.OrganizationID
}

// withConflictRetry reruns fn with fresh state while it reports a version
// conflict, at most MaxConflictRetries times
func withConflictRetry[T any](ctx context.Context, o *Orchestrator, operation string, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 0; attempt < o.limits.MaxConflictRetries; attempt++ {
		out, err = fn()
		if !errors.Is(err, ErrVersionConflict) {
			return out, err
		}
		conflictsTotal.WithLabelValues(operation).Inc()
		o.logger.DebugContext(ctx, "version conflict, retrying", "operation", operation, "attempt", attempt+1)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
	}
	return out, fmt.Errorf("%s gave up after %d attempts: %w", operation, o.limits.MaxConflictRetries, err)
}
