package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"casedraft-backend/engine"
	"casedraft-backend/models"
	"casedraft-backend/notifier"

	"github.com/google/uuid"
)

const maxTitleLength = 120

// SubmitCaseRequest opens a new case
type SubmitCaseRequest struct {
	CaseID      *uuid.UUID // Optional, makes client retries idempotent
	Identity    models.Identity
	Title       string
	Description string
	Facts       map[string]string
	EventID     string
}

// SubmitCaseResult represents the result of submitting a case
type SubmitCaseResult struct {
	Case    *models.Case
	Created bool
}

// SubmitCase stores a new case in Created with the description queued as its
// first input. Resubmitting the same case id for the same owner returns the
// stored case.
func (o *Orchestrator) SubmitCase(ctx context.Context, req SubmitCaseRequest) (result *SubmitCaseResult, err error) {
	defer func() { observeEvent("submit_case", err) }()

	if req.Identity.UserID == uuid.Nil {
		return nil, invalid("identity", "user id is required")
	}
	in, err := newInput(models.InputFromIntake, req.EventID, req.Facts, req.Description, o.now())
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	if req.CaseID != nil && *req.CaseID != uuid.Nil {
		id = *req.CaseID
	}

	c := &models.Case{
		ID:             id,
		OwnerID:        req.Identity.UserID,
		OrganizationID: req.Identity.OrganizationID,
		Entitlements:   models.TierCredits(req.Identity.Entitlements),
		Title:          caseTitle(req.Title, req.Description),
		Tier:           models.TierUnknown,
		ChargedTier:    models.TierUnknown,
		QuotaStatus:    models.QuotaPending,
		State:          models.StateCreated,
		Details:        models.NewCaseDetails(),
		PendingInputs:  models.UserInputs{in},
		OpenQuestions:  models.StringList{},
		History:        models.Transitions{},
	}

	err = o.cases.Create(ctx, c)
	if errors.Is(err, ErrVersionConflict) {
		existing, loadErr := o.loadCase(ctx, id)
		if loadErr != nil {
			return nil, loadErr
		}
		if existing.OwnerID != req.Identity.UserID {
			return nil, invalid("case_id", "already in use")
		}
		return &SubmitCaseResult{Case: existing}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}

	o.logger.InfoContext(ctx, "case submitted",
		"case_id", c.ID,
		"owner_id", c.OwnerID,
		"account", req.Identity.Account(),
	)
	return &SubmitCaseResult{Case: c, Created: true}, nil
}

// SubmitUserInputRequest carries new facts or narrative for a case
type SubmitUserInputRequest struct {
	CaseID    uuid.UUID
	Identity  models.Identity
	EventID   string // Optional, derived from the content when empty
	Facts     map[string]string
	Narrative string
}

// SubmitUserInputResult represents the result of submitting input
type SubmitUserInputResult struct {
	Case      *models.Case
	Duplicate bool
}

// SubmitUserInput queues input on the case, retrying on version conflicts.
// A replayed event id is a no-op.
func (o *Orchestrator) SubmitUserInput(ctx context.Context, req SubmitUserInputRequest) (result *SubmitUserInputResult, err error) {
	defer func() { observeEvent("submit_user_input", err) }()

	return withConflictRetry(ctx, o, "submit_user_input", func() (*SubmitUserInputResult, error) {
		return o.submitUserInput(ctx, req)
	})
}

// SubmitUserInputOnce is a single attempt of SubmitUserInput. A concurrent
// commit yields ErrVersionConflict and the caller reloads by calling again.
func (o *Orchestrator) SubmitUserInputOnce(ctx context.Context, req SubmitUserInputRequest) (*SubmitUserInputResult, error) {
	return o.submitUserInput(ctx, req)
}

func (o *Orchestrator) submitUserInput(ctx context.Context, req SubmitUserInputRequest) (*SubmitUserInputResult, error) {
	in, err := newInput(models.InputFromUser, req.EventID, req.Facts, req.Narrative, o.now())
	if err != nil {
		return nil, err
	}

	c, err := o.load(ctx, req.CaseID, req.Identity)
	if err != nil {
		return nil, err
	}
	if c.State == models.StateClosed {
		return nil, ErrCaseClosed
	}
	if c.Knows(in.EventID) {
		return &SubmitUserInputResult{Case: c, Duplicate: true}, nil
	}

	next := c.Clone()
	next.PendingInputs = append(next.PendingInputs, in)
	if next.IsStalled() {
		next.Stall = nil
		next.ReplanCount = 0
	}

	if err := o.commit(ctx, c, &transition{next: next}); err != nil {
		return nil, err
	}
	return &SubmitUserInputResult{Case: next}, nil
}

// ConfirmPaymentRequest credits an account after a completed payment
type ConfirmPaymentRequest struct {
	Identity   models.Identity
	CaseID     *uuid.UUID  // Optional, the case waiting on the payment
	Tier       models.Tier // Defaults to the case tier
	Credits    int
	PaymentRef string
}

// ConfirmPaymentResult represents the result of confirming a payment
type ConfirmPaymentResult struct {
	Entry *models.QuotaEntry
	Case  *models.Case
}

// ConfirmPayment adds credits and, when a case waits in PaymentRequired,
// reserves its tier and moves it to Gathering. If the credits still do not
// cover the tier the case stays put and ErrQuotaExceeded is returned along
// with the result.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) (result *ConfirmPaymentResult, err error) {
	defer func() { observeEvent("confirm_payment", err) }()

	if req.PaymentRef == "" {
		return nil, invalid("payment_ref", "is required")
	}
	if req.Credits <= 0 {
		return nil, invalid("credits", "must be positive")
	}

	identity := req.Identity
	tier := req.Tier
	var c *models.Case
	if req.CaseID != nil {
		c, err = o.load(ctx, *req.CaseID, req.Identity)
		if err != nil {
			return nil, err
		}
		identity = c.Identity()
		if !tier.IsValid() {
			tier = c.Tier
		}
	}
	if !tier.IsValid() {
		return nil, invalid("tier", "is required without a classified case")
	}

	entry, err := o.ledger.ConfirmPayment(ctx, identity, tier, req.Credits, req.PaymentRef)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm payment: %w", err)
	}
	result = &ConfirmPaymentResult{Entry: entry, Case: c}
	if c == nil {
		return result, nil
	}

	unblocked, err := withConflictRetry(ctx, o, "confirm_payment", func() (*models.Case, error) {
		return o.resumeAfterPayment(ctx, c.ID)
	})
	if unblocked != nil {
		result.Case = unblocked
	}
	return result, err
}

func (o *Orchestrator) resumeAfterPayment(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	c, err := o.loadCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.State != models.StatePaymentRequired {
		return c, nil
	}

	res, err := o.ledger.Reserve(ctx, c.Identity(), c.Tier, reservationID(c.ID, c.Tier))
	if err != nil {
		return nil, fmt.Errorf("quota check for case %s: %w", c.ID, err)
	}
	if !res.Granted() {
		return c, fmt.Errorf("%w: %d of %d credits left, %s costs %d",
			ErrQuotaExceeded, res.Entry.Remaining(), res.Entry.Allotted, c.Tier, res.Cost)
	}

	next := c.Clone()
	next.ChargedTier = c.Tier
	next.QuotaStatus = models.QuotaCharged
	next.MoveTo(models.StateGathering, "payment confirmed", o.now())
	if err := o.commit(ctx, c, &transition{next: next}); err != nil {
		return nil, err
	}
	return next, nil
}

// SubmitFeedbackRequest is the client's reaction to a delivered draft
type SubmitFeedbackRequest struct {
	CaseID    uuid.UUID
	Identity  models.Identity
	EventID   string
	Satisfied bool
	Comment   string
	Facts     map[string]string
}

// SubmitFeedbackResult represents the result of submitting feedback
type SubmitFeedbackResult struct {
	Case      *models.Case
	Duplicate bool
}

// SubmitFeedback closes the case when the client is satisfied; otherwise the
// comment and facts are queued and the case loops back through Gathering
func (o *Orchestrator) SubmitFeedback(ctx context.Context, req SubmitFeedbackRequest) (result *SubmitFeedbackResult, err error) {
	defer func() { observeEvent("submit_feedback", err) }()

	return withConflictRetry(ctx, o, "submit_feedback", func() (*SubmitFeedbackResult, error) {
		return o.submitFeedback(ctx, req)
	})
}

func (o *Orchestrator) submitFeedback(ctx context.Context, req SubmitFeedbackRequest) (*SubmitFeedbackResult, error) {
	var in models.UserInput
	if !req.Satisfied {
		var err error
		in, err = newInput(models.InputFromFeedback, req.EventID, req.Facts, req.Comment, o.now())
		if err != nil {
			return nil, err
		}
		in.EventID = feedbackPrefix + strings.TrimPrefix(in.EventID, feedbackPrefix)
	}

	c, err := o.load(ctx, req.CaseID, req.Identity)
	if err != nil {
		return nil, err
	}
	if c.State == models.StateClosed {
		if req.Satisfied {
			return &SubmitFeedbackResult{Case: c, Duplicate: true}, nil
		}
		return nil, ErrCaseClosed
	}
	if !req.Satisfied && c.Knows(in.EventID) {
		return &SubmitFeedbackResult{Case: c, Duplicate: true}, nil
	}
	if c.State != models.StateAwaitingFeedback {
		return nil, fmt.Errorf("%w: feedback while %s", ErrInvalidTransition, c.State)
	}

	next := c.Clone()
	t := &transition{next: next}
	if req.Satisfied {
		now := o.now()
		next.ClosedAt = &now
		next.MoveTo(models.StateClosed, "client satisfied", now)
		t.effects = append(t.effects, effect{
			kind:    notifier.KindClosed,
			payload: map[string]any{"case_id": c.ID.String()},
		})
	} else {
		next.PendingInputs = append(next.PendingInputs, in)
	}

	if err := o.commit(ctx, c, t); err != nil {
		return nil, err
	}
	o.runEffects(ctx, next, t.effects)
	return &SubmitFeedbackResult{Case: next}, nil
}

// EngineCallbackRequest is an engine answer delivered out of band. It applies
// only to the case version and state it was requested for.
type EngineCallbackRequest struct {
	CaseID          uuid.UUID
	ExpectedVersion int64
	Kind            engine.Kind
	Result          *engine.Result
	Failure         *engine.Error
}

// EngineCallbackResult reports whether the answer was applied
type EngineCallbackResult struct {
	Case      *models.Case
	Discarded bool
}

// EngineCallback applies an asynchronous engine answer through the same path
// as a synchronous consult. Answers for a moved, stalled or closed case are
// discarded.
func (o *Orchestrator) EngineCallback(ctx context.Context, req EngineCallbackRequest) (result *EngineCallbackResult, err error) {
	defer func() { observeEvent("engine_callback", err) }()

	var want models.CaseState
	switch req.Kind {
	case engine.KindReasoning:
		want = models.StateConsulting
	case engine.KindDrafting:
		want = models.StateDrafting
	default:
		return nil, invalid("kind", fmt.Sprintf("unknown engine kind %q", req.Kind))
	}
	if req.Result == nil && req.Failure == nil {
		return nil, invalid("result", "result or failure is required")
	}

	c, err := o.loadCase(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}
	if c.Version != req.ExpectedVersion || c.State != want || c.IsStalled() {
		o.logger.InfoContext(ctx, "engine callback discarded",
			"case_id", c.ID,
			"expected_version", req.ExpectedVersion,
			"version", c.Version,
			"state", c.State,
		)
		return &EngineCallbackResult{Case: c, Discarded: true}, nil
	}

	var failure error
	if req.Failure != nil {
		req.Failure.Kind = req.Kind
		failure = req.Failure
	} else if vErr := engine.ValidateResult(req.Kind, req.Result); vErr != nil {
		failure = &engine.Error{Kind: req.Kind, Code: failureCode(vErr), Attempts: 1, Err: vErr}
	}

	var t *transition
	if req.Kind == engine.KindReasoning {
		t = o.applyReasoning(ctx, c, req.Result, failure)
	} else {
		t = o.applyDrafting(ctx, c, req.Result, failure)
	}

	if err := o.commit(ctx, c, t); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			conflictsTotal.WithLabelValues("engine_callback").Inc()
			return &EngineCallbackResult{Case: c, Discarded: true}, nil
		}
		return nil, err
	}
	o.runEffects(ctx, t.next, t.effects)
	return &EngineCallbackResult{Case: t.next}, nil
}

// RetryStalled clears a stall so the driver resumes the case from the state
// it stalled in
func (o *Orchestrator) RetryStalled(ctx context.Context, id uuid.UUID) (c *models.Case, err error) {
	defer func() { observeEvent("retry_stalled", err) }()

	return withConflictRetry(ctx, o, "retry_stalled", func() (*models.Case, error) {
		c, err := o.loadCase(ctx, id)
		if err != nil {
			return nil, err
		}
		if !c.IsStalled() {
			return c, nil
		}

		next := c.Clone()
		next.Stall = nil
		next.ReplanCount = 0
		next.AutoCycles = 0
		if err := o.commit(ctx, c, &transition{next: next}); err != nil {
			return nil, err
		}
		o.logger.InfoContext(ctx, "stalled case released", "case_id", id, "state", next.State)
		return next, nil
	})
}

// ReopenCaseRequest starts a new case from a closed one
type ReopenCaseRequest struct {
	CaseID    uuid.UUID
	Identity  models.Identity
	Facts     map[string]string
	Narrative string
}

// ReopenCase creates a new case seeded with the details of a closed case. The
// closed case is left untouched.
func (o *Orchestrator) ReopenCase(ctx context.Context, req ReopenCaseRequest) (c *models.Case, err error) {
	defer func() { observeEvent("reopen_case", err) }()

	closed, err := o.load(ctx, req.CaseID, req.Identity)
	if err != nil {
		return nil, err
	}
	if closed.State != models.StateClosed {
		return nil, fmt.Errorf("%w: reopen while %s", ErrInvalidTransition, closed.State)
	}

	pending := models.UserInputs{}
	if len(req.Facts) > 0 || strings.TrimSpace(req.Narrative) != "" {
		in, err := newInput(models.InputFromUser, "", req.Facts, req.Narrative, o.now())
		if err != nil {
			return nil, err
		}
		pending = append(pending, in)
	}

	entitlements := closed.Entitlements
	if req.Identity.Entitlements != nil {
		entitlements = models.TierCredits(req.Identity.Entitlements)
	}
	from := closed.ID
	reopened := &models.Case{
		ID:             uuid.New(),
		OwnerID:        closed.OwnerID,
		OrganizationID: closed.OrganizationID,
		Entitlements:   entitlements,
		Title:          closed.Title,
		Tier:           models.TierUnknown,
		ChargedTier:    models.TierUnknown,
		QuotaStatus:    models.QuotaPending,
		State:          models.StateCreated,
		Details:        closed.Details.Clone(),
		PendingInputs:  pending,
		OpenQuestions:  models.StringList{},
		History:        models.Transitions{},
		ReopenedFrom:   &from,
		Unsynthesized:  !closed.Details.IsEmpty(),
	}
	if err := o.cases.Create(ctx, reopened); err != nil {
		return nil, fmt.Errorf("failed to create reopened case: %w", err)
	}

	o.logger.InfoContext(ctx, "case reopened", "case_id", reopened.ID, "reopened_from", from)
	return reopened, nil
}

// newInput validates and normalises an inbound input. Without an explicit
// event id the content fingerprint is used so identical resubmissions dedup.
func newInput(source models.InputSource, eventID string, facts map[string]string, narrative string, now time.Time) (models.UserInput, error) {
	in := models.UserInput{
		EventID:    strings.TrimSpace(eventID),
		Source:     source,
		Narrative:  strings.TrimSpace(narrative),
		ReceivedAt: now,
	}
	if len(facts) > 0 {
		in.Facts = make(map[string]string, len(facts))
		for k, v := range facts {
			key := strings.TrimSpace(k)
			if key == "" {
				return in, invalid("facts", "fact keys must not be blank")
			}
			in.Facts[key] = strings.TrimSpace(v)
		}
	}
	if in.IsEmpty() {
		return in, invalid("input", "facts or narrative are required")
	}

	if in.EventID == "" {
		fp, err := in.Fingerprint()
		if err != nil {
			return in, invalid("input", err.Error())
		}
		in.EventID = fp
	}
	return in, nil
}

func caseTitle(title, description string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSpace(description)
		if i := strings.IndexAny(title, ".\n"); i > 0 {
			title = title[:i]
		}
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength])
	}
	if title == "" {
		title = "Untitled case"
	}
	return title
}
