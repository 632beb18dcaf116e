package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"casedraft-backend/engine"
	"casedraft-backend/models"
	"casedraft-backend/notifier"

	"github.com/google/uuid"
)

// effect is a side effect that runs only after its transition committed
type effect struct {
	kind    notifier.Kind
	payload map[string]any
	deliver *uuid.UUID // draft to mark delivered once the notification went out
}

// transition is the outcome of one step: the case to commit and what to do
// once the commit succeeded
type transition struct {
	next    *models.Case
	draft   *models.Draft
	effects []effect
}

// reservationID keys the charge of one case at one tier
func reservationID(caseID uuid.UUID, tier models.Tier) string {
	return fmt.Sprintf("%s:%s", caseID, tier)
}

// readyToGather reports whether queued input should be merged now, or merged
// details still have to reach the reasoning engine. Lookup results alone do
// not wake a case that is waiting for answers.
func readyToGather(c *models.Case) bool {
	if c.Unsynthesized {
		return true
	}
	if !c.HasPendingInput() {
		return false
	}
	if len(c.OpenQuestions) == 0 {
		return true
	}
	for _, in := range c.PendingInputs {
		if in.Source != models.InputFromLookup {
			return true
		}
	}
	return false
}

// quiescent reports whether the case waits for an external event
func quiescent(c *models.Case) bool {
	if c.IsStalled() {
		return true
	}
	switch c.State {
	case models.StateClosed, models.StatePaymentRequired:
		return true
	case models.StateGathering, models.StateAwaitingFeedback:
		return !readyToGather(c)
	}
	return false
}

// step computes the next transition of a non-quiescent case. It returns nil
// when there is nothing to do.
func (o *Orchestrator) step(ctx context.Context, c *models.Case) (*transition, error) {
	switch c.State {
	case models.StateCreated:
		return o.stepCreated(c), nil
	case models.StateQuotaCheck:
		return o.stepQuotaCheck(ctx, c)
	case models.StateGathering:
		return o.stepGathering(ctx, c), nil
	case models.StateSynthesizing:
		return o.stepSynthesizing(c), nil
	case models.StateConsulting:
		return o.stepConsulting(ctx, c)
	case models.StateDrafting:
		return o.stepDrafting(ctx, c)
	case models.StateAwaitingFeedback:
		if readyToGather(c) {
			next := c.Clone()
			next.MoveTo(models.StateGathering, "new information after draft", o.now())
			return &transition{next: next}, nil
		}
	}
	return nil, nil
}

func (o *Orchestrator) stepCreated(c *models.Case) *transition {
	preview := c.Details.Clone()
	for _, in := range c.PendingInputs {
		preview.Merge(in)
	}
	match := o.classifier.Classify(preview)

	next := c.Clone()
	next.Tier = match.Tier
	next.QuotaStatus = models.QuotaPending
	next.MoveTo(models.StateQuotaCheck, "classified as "+match.Tier.String(), o.now())
	return &transition{next: next}
}

func (o *Orchestrator) stepQuotaCheck(ctx context.Context, c *models.Case) (*transition, error) {
	next := c.Clone()
	if c.ChargedTier >= c.Tier && c.QuotaStatus == models.QuotaCharged {
		next.MoveTo(models.StateGathering, "tier already charged", o.now())
		return &transition{next: next}, nil
	}

	res, err := o.ledger.Reserve(ctx, c.Identity(), c.Tier, reservationID(c.ID, c.Tier))
	if err != nil {
		return nil, fmt.Errorf("quota check for case %s: %w", c.ID, err)
	}

	if res.Granted() {
		next.ChargedTier = c.Tier
		next.QuotaStatus = models.QuotaCharged
		next.MoveTo(models.StateGathering, "quota granted", o.now())
		return &transition{next: next}, nil
	}

	next.QuotaStatus = models.QuotaPaymentRequired
	next.MoveTo(models.StatePaymentRequired, "quota exhausted", o.now())
	return &transition{
		next: next,
		effects: []effect{{
			kind: notifier.KindPaymentRequired,
			payload: map[string]any{
				"case_id":   c.ID.String(),
				"tier":      c.Tier.String(),
				"cost":      res.Cost,
				"remaining": res.Entry.Remaining(),
			},
		}},
	}, nil
}

func (o *Orchestrator) stepGathering(ctx context.Context, c *models.Case) *transition {
	next := c.Clone()
	next.PendingInputs = models.UserInputs{}

	fromClient := false
	for _, in := range c.PendingInputs {
		next.Details.Merge(in)
		if in.Source != models.InputFromLookup {
			fromClient = true
		}
	}
	if fromClient {
		next.AutoCycles = 0
		next.OpenQuestions = models.StringList{}
	}

	match := o.classifier.Classify(next.Details)
	if match.Tier != next.Tier {
		o.logger.InfoContext(ctx, "case reclassified",
			"case_id", c.ID,
			"from", next.Tier.String(),
			"to", match.Tier.String(),
			"matched", match.Matched,
		)
		next.Tier = match.Tier
	}

	if next.Tier > next.ChargedTier {
		// the merged details come back here once the new tier is charged
		next.Unsynthesized = true
		next.QuotaStatus = models.QuotaPending
		next.MoveTo(models.StateQuotaCheck, "tier raised to "+next.Tier.String(), o.now())
		return &transition{next: next}
	}

	cause := fmt.Sprintf("merged %d input(s)", len(c.PendingInputs))
	if len(c.PendingInputs) == 0 {
		cause = "resuming merged details"
	}
	next.Unsynthesized = false
	next.MoveTo(models.StateSynthesizing, cause, o.now())
	return &transition{next: next}
}

func (o *Orchestrator) stepSynthesizing(c *models.Case) *transition {
	if c.Details.IsEmpty() {
		return o.stall(c, "no_facts", "nothing to reason about", 0)
	}
	next := c.Clone()
	next.MoveTo(models.StateConsulting, fmt.Sprintf("snapshot of %d fact(s)", len(c.Details.Facts)), o.now())
	return &transition{next: next}
}

func (o *Orchestrator) stepConsulting(ctx context.Context, c *models.Case) (*transition, error) {
	req := engine.Request{
		Kind: engine.KindReasoning,
		Reasoning: &engine.ReasoningPayload{
			Snapshot:     buildSnapshot(c, o.now()),
			Instructions: reasoningInstructions(c),
			PriorPlan:    c.LatestPlan,
		},
	}
	res, err := o.engine.Consult(ctx, req)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return o.applyReasoning(ctx, c, res, err), nil
}

// applyReasoning turns a reasoning outcome into a transition. Synchronous
// consults and engine callbacks share it.
func (o *Orchestrator) applyReasoning(ctx context.Context, c *models.Case, res *engine.Result, err error) *transition {
	if err != nil {
		code := failureCode(err)
		return o.stall(c, "engine_"+string(code), err.Error(), attempts(err))
	}

	verdict := res.Verdict
	next := c.Clone()

	switch verdict.Kind {
	case models.VerdictPlanReady:
		version := 1
		if c.LatestPlan != nil {
			version = c.LatestPlan.Version + 1
		}
		next.LatestPlan = &models.Plan{
			Version:      version,
			Steps:        append([]models.PlanStep(nil), verdict.Steps...),
			DocumentType: verdict.DocumentType,
			Rationale:    verdict.Rationale,
			CreatedAt:    o.now(),
		}
		next.OpenQuestions = models.StringList{}
		next.AutoCycles = 0
		next.MoveTo(models.StateDrafting, fmt.Sprintf("plan v%d ready", version), o.now())
		return &transition{next: next}

	default:
		refs := o.runLookups(ctx, c.ID.String(), verdict.Lookups)
		questions := models.StringList(append([]string(nil), verdict.Questions...))

		if len(questions) == 0 {
			if len(refs) == 0 {
				return o.stall(c, "lookups_empty", "lookups returned nothing and no questions were asked", 0)
			}
			next.AutoCycles++
			if next.AutoCycles > o.limits.MaxAutoCycles {
				stalled := o.stall(c, "not_converging", "reasoning did not converge", next.AutoCycles)
				stalled.next.AutoCycles = next.AutoCycles
				return stalled
			}
		}

		if len(refs) > 0 {
			next.PendingInputs = append(next.PendingInputs, models.UserInput{
				EventID:    fmt.Sprintf("lookup-v%d", c.Version),
				Source:     models.InputFromLookup,
				References: refs,
				ReceivedAt: o.now(),
			})
		}
		next.OpenQuestions = questions
		next.MoveTo(models.StateGathering, "need more info", o.now())

		t := &transition{next: next}
		if len(questions) > 0 {
			t.effects = append(t.effects, effect{
				kind: notifier.KindQuestions,
				payload: map[string]any{
					"case_id":   c.ID.String(),
					"questions": []string(questions),
				},
			})
		}
		return t
	}
}

func (o *Orchestrator) stepDrafting(ctx context.Context, c *models.Case) (*transition, error) {
	if c.LatestPlan == nil {
		return o.stall(c, "missing_plan", "drafting without a plan", 0), nil
	}
	req := engine.Request{
		Kind: engine.KindDrafting,
		Drafting: &engine.DraftingPayload{
			Snapshot:     buildSnapshot(c, o.now()),
			Plan:         c.LatestPlan.Clone(),
			Instructions: draftingInstructions(c),
		},
	}
	res, err := o.engine.Consult(ctx, req)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return o.applyDrafting(ctx, c, res, err), nil
}

// applyDrafting turns a drafting outcome into a transition. The draft id is
// derived from the case version and plan so a replay appends the same draft.
func (o *Orchestrator) applyDrafting(ctx context.Context, c *models.Case, res *engine.Result, err error) *transition {
	if err != nil {
		code := failureCode(err)
		if code == engine.CodeRejected {
			return o.stall(c, "engine_rejected", err.Error(), attempts(err))
		}

		next := c.Clone()
		next.ReplanCount++
		if next.ReplanCount > o.limits.MaxReplans {
			stalled := o.stall(c, "drafting_failed", err.Error(), next.ReplanCount)
			stalled.next.ReplanCount = next.ReplanCount
			return stalled
		}
		next.MoveTo(models.StateConsulting, "drafting failed, re-planning", o.now())
		return &transition{next: next}
	}

	plan := c.LatestPlan
	title := strings.TrimSpace(res.Document.Title)
	if title == "" {
		title = c.Title
	}
	draft := &models.Draft{
		ID:          models.DraftID(c.ID, c.Version, plan.Version),
		CaseID:      c.ID,
		PlanVersion: plan.Version,
		Title:       title,
		Content:     res.Document.Markdown,
		Status:      models.DraftGenerated,
	}

	if o.storage != nil {
		path, err := o.storage.Put(ctx, c.ID, draft.ID, title+".md", strings.NewReader(draft.Content))
		if err != nil {
			o.logger.WarnContext(ctx, "failed to upload draft artifact",
				"case_id", c.ID,
				"draft_id", draft.ID,
				"error", err,
			)
		} else {
			draft.StoragePath = &path
		}
	}

	next := c.Clone()
	next.ReplanCount = 0
	next.MoveTo(models.StateAwaitingFeedback, fmt.Sprintf("draft for plan v%d generated", plan.Version), o.now())

	draftID := draft.ID
	return &transition{
		next:  next,
		draft: draft,
		effects: []effect{{
			kind: notifier.KindDraftReady,
			payload: map[string]any{
				"case_id":      c.ID.String(),
				"draft_id":     draftID.String(),
				"plan_version": plan.Version,
				"title":        title,
			},
			deliver: &draftID,
		}},
	}
}

// stall records why the case cannot advance. The state is left unchanged.
func (o *Orchestrator) stall(c *models.Case, code, reason string, attempts int) *transition {
	next := c.Clone()
	next.Stall = &models.Stall{
		Code:     code,
		Reason:   reason,
		Phase:    c.State,
		Attempts: attempts,
		At:       o.now(),
	}
	return &transition{
		next: next,
		effects: []effect{{
			kind: notifier.KindStalled,
			payload: map[string]any{
				"case_id": c.ID.String(),
				"code":    code,
				"phase":   string(c.State),
			},
		}},
	}
}

func failureCode(err error) engine.Code {
	var failure *engine.Error
	switch {
	case errors.As(err, &failure):
		return failure.Code
	case errors.Is(err, engine.ErrRejected):
		return engine.CodeRejected
	case errors.Is(err, engine.ErrTimeout):
		return engine.CodeTimeout
	default:
		return engine.CodeUnavailable
	}
}

func attempts(err error) int {
	var failure *engine.Error
	if errors.As(err, &failure) {
		return failure.Attempts
	}
	return 0
}
