package service

import (
	"context"
	"errors"
	"fmt"

	"casedraft-backend/models"

	"golang.org/x/sync/errgroup"
)

const maxParallelLookups = 4

// runLookups resolves directives in parallel. A failed lookup does not cancel
// the others; failures are logged together and skipped. References are
// de-duplicated by source id in directive order.
func (o *Orchestrator) runLookups(ctx context.Context, caseID string, directives []models.LookupDirective) []models.Reference {
	if len(directives) == 0 {
		return nil
	}
	if o.lookup == nil {
		o.logger.WarnContext(ctx, "lookups requested but no lookup backend configured",
			"case_id", caseID,
			"count", len(directives),
		)
		return nil
	}

	results := make([][]models.Reference, len(directives))
	errs := make([]error, len(directives))
	var g errgroup.Group
	g.SetLimit(maxParallelLookups)

	for i, d := range directives {
		g.Go(func() error {
			refs, err := o.lookup.Lookup(ctx, d)
			if err != nil {
				errs[i] = fmt.Errorf("lookup %q: %w", d.Query, err)
				return errs[i]
			}
			results[i] = refs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		failed := 0
		for _, e := range errs {
			if e != nil {
				failed++
			}
		}
		o.logger.WarnContext(ctx, "lookups failed",
			"case_id", caseID,
			"failed", failed,
			"total", len(directives),
			"error", errors.Join(errs...),
		)
	}

	seen := make(map[string]bool)
	var out []models.Reference
	for _, refs := range results {
		for _, ref := range refs {
			if seen[ref.SourceID] {
				continue
			}
			seen[ref.SourceID] = true
			out = append(out, ref)
		}
	}
	return out
}
