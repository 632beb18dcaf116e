package service

import (
	"context"
	"errors"
	"fmt"

	"casedraft-backend/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Drive advances the case one committed step at a time until it waits for an
// external event, is stalled or closed, or MaxSteps is reached. A conflicting
// commit discards the step and reloads. The returned error matches
// ErrStalledCase when the case is left stalled.
func (o *Orchestrator) Drive(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.drive",
		trace.WithAttributes(attribute.String("case.id", id.String())))
	defer span.End()

	conflicts := 0
	for steps := 0; steps < o.limits.MaxSteps; {
		c, err := o.loadCase(ctx, id)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if quiescent(c) {
			return c, stalledErr(c)
		}

		t, err := o.stepTraced(ctx, c)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "step failed")
			return c, err
		}
		if t == nil {
			return c, nil
		}

		err = o.commit(ctx, c, t)
		if errors.Is(err, ErrVersionConflict) {
			conflicts++
			conflictsTotal.WithLabelValues("drive").Inc()
			o.logger.InfoContext(ctx, "step discarded after concurrent update",
				"case_id", id,
				"state", c.State,
				"version", c.Version,
			)
			if conflicts > o.limits.MaxConflictRetries {
				return nil, fmt.Errorf("drive case %s: %w", id, err)
			}
			continue
		}
		if err != nil {
			span.RecordError(err)
			return c, err
		}
		steps++
		o.runEffects(ctx, t.next, t.effects)
	}

	c, err := o.loadCase(ctx, id)
	if err != nil {
		return nil, err
	}
	o.logger.WarnContext(ctx, "drive stopped at step limit",
		"case_id", id,
		"state", c.State,
		"max_steps", o.limits.MaxSteps,
	)
	return c, stalledErr(c)
}

func (o *Orchestrator) stepTraced(ctx context.Context, c *models.Case) (*transition, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.step",
		trace.WithAttributes(
			attribute.String("case.state", string(c.State)),
			attribute.Int64("case.version", c.Version),
		))
	defer span.End()

	t, err := o.step(ctx, c)
	if err != nil {
		span.RecordError(err)
	}
	return t, err
}

func stalledErr(c *models.Case) error {
	if c.IsStalled() {
		return fmt.Errorf("%w: %s in %s: %s", ErrStalledCase, c.Stall.Code, c.Stall.Phase, c.Stall.Reason)
	}
	return nil
}

// commit validates the edges of t against prev and writes t.next at prev's
// version. A draft is stored in the same write, so a lost commit leaves none
// behind.
func (o *Orchestrator) commit(ctx context.Context, prev *models.Case, t *transition) error {
	if err := checkTransition(prev, t.next); err != nil {
		return err
	}

	var err error
	if t.draft != nil {
		err = o.cases.CommitWithDraft(ctx, prev.Version, t.next, t.draft)
	} else {
		err = o.cases.Commit(ctx, prev.Version, t.next)
	}
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to commit case %s: %w", prev.ID, err)
	}

	for _, edge := range t.next.History[len(prev.History):] {
		transitionsTotal.WithLabelValues(string(edge.From), string(edge.To)).Inc()
		o.logger.InfoContext(ctx, "case transitioned",
			"case_id", prev.ID,
			"from", edge.From,
			"to", edge.To,
			"cause", edge.Cause,
			"version", t.next.Version,
		)
	}
	if t.next.Stall != nil && prev.Stall == nil {
		stallsTotal.WithLabelValues(t.next.Stall.Code).Inc()
		o.logger.WarnContext(ctx, "case stalled",
			"case_id", prev.ID,
			"state", t.next.State,
			"code", t.next.Stall.Code,
			"reason", t.next.Stall.Reason,
		)
	}
	return nil
}

// runEffects sends notifications for a committed transition. Failures are
// logged and never undo the transition.
func (o *Orchestrator) runEffects(ctx context.Context, c *models.Case, effects []effect) {
	for _, e := range effects {
		if o.notifier == nil {
			continue
		}
		if err := o.notifier.Notify(ctx, c.OwnerID, e.kind, e.payload); err != nil {
			o.logger.WarnContext(ctx, "notification not delivered",
				"case_id", c.ID,
				"kind", e.kind,
				"error", err,
			)
			continue
		}
		if e.deliver != nil {
			if err := o.drafts.MarkDelivered(ctx, *e.deliver); err != nil {
				o.logger.WarnContext(ctx, "failed to mark draft delivered",
					"case_id", c.ID,
					"draft_id", *e.deliver,
					"error", err,
				)
			}
		}
	}
}
