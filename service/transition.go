package service

import (
	"fmt"

	"casedraft-backend/models"
)

// edges is the complete set of state transitions a case may take
var edges = map[models.CaseState][]models.CaseState{
	models.StateCreated:          {models.StateQuotaCheck},
	models.StateQuotaCheck:       {models.StateGathering, models.StatePaymentRequired},
	models.StatePaymentRequired:  {models.StateGathering},
	models.StateGathering:        {models.StateSynthesizing, models.StateQuotaCheck},
	models.StateSynthesizing:     {models.StateConsulting},
	models.StateConsulting:       {models.StateGathering, models.StateDrafting},
	models.StateDrafting:         {models.StateAwaitingFeedback, models.StateConsulting},
	models.StateAwaitingFeedback: {models.StateGathering, models.StateClosed},
	models.StateClosed:           nil,
}

// Allowed reports whether a case may move from one state to another
func Allowed(from, to models.CaseState) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition verifies that next only extends prev's history with
// allowed edges and that its state matches the last recorded edge
func checkTransition(prev, next *models.Case) error {
	if len(next.History) < len(prev.History) {
		return fmt.Errorf("%w: history truncated", ErrInvalidTransition)
	}

	state := prev.State
	for _, t := range next.History[len(prev.History):] {
		if t.From != state {
			return fmt.Errorf("%w: edge %s -> %s recorded from %s", ErrInvalidTransition, t.From, t.To, state)
		}
		if !Allowed(t.From, t.To) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
		}
		state = t.To
	}

	if next.State != state {
		return fmt.Errorf("%w: state %s without recorded edge", ErrInvalidTransition, next.State)
	}
	return nil
}
