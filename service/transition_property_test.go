//go:build property

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"casedraft-backend/classification"
	"casedraft-backend/engine"
	"casedraft-backend/ledger"
	"casedraft-backend/models"
	"casedraft-backend/repository"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// scriptedEngine answers consults from a fixed list of choices, cycling
type scriptedEngine struct {
	mu      sync.Mutex
	choices []int
	next    int
}

func (e *scriptedEngine) Consult(_ context.Context, req engine.Request) (*engine.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	choice := 0
	if len(e.choices) > 0 {
		choice = e.choices[e.next%len(e.choices)]
	}
	e.next++

	if req.Kind == engine.KindDrafting {
		switch choice % 3 {
		case 0:
			return &engine.Result{Kind: engine.KindDrafting, Document: &engine.Document{Title: "Cerere", Markdown: "# Cerere"}}, nil
		case 1:
			return nil, &engine.Error{Kind: req.Kind, Code: engine.CodeUnavailable, Attempts: 1, Err: errors.New("overloaded")}
		default:
			return nil, &engine.Error{Kind: req.Kind, Code: engine.CodeRejected, Attempts: 1, Err: errors.New("refused")}
		}
	}

	switch choice % 4 {
	case 0:
		return &engine.Result{Kind: engine.KindReasoning, Verdict: &models.Verdict{
			Kind:      models.VerdictNeedMoreInfo,
			Questions: []string{fmt.Sprintf("întrebarea %d", e.next)},
		}}, nil
	case 1:
		return &engine.Result{Kind: engine.KindReasoning, Verdict: &models.Verdict{
			Kind:    models.VerdictNeedMoreInfo,
			Lookups: []models.LookupDirective{{Query: fmt.Sprintf("q%d", e.next), Source: "regulation"}},
		}}, nil
	case 2:
		return &engine.Result{Kind: engine.KindReasoning, Verdict: &models.Verdict{
			Kind:         models.VerdictPlanReady,
			DocumentType: "cerere",
			Steps:        []models.PlanStep{{Title: "Situația de fapt"}},
		}}, nil
	default:
		return nil, &engine.Error{Kind: req.Kind, Code: engine.CodeTimeout, Attempts: 1, Err: context.DeadlineExceeded}
	}
}

type echoLookup struct{}

func (echoLookup) Lookup(_ context.Context, d models.LookupDirective) ([]models.Reference, error) {
	return []models.Reference{{SourceID: "src-" + d.Query, Source: d.Source, Excerpt: d.Query}}, nil
}

// historyIsConsistent checks that every recorded edge is allowed, chains from
// the previous one and ends in the current state
func historyIsConsistent(c *models.Case) bool {
	state := models.StateCreated
	for _, t := range c.History {
		if t.From != state || !Allowed(t.From, t.To) {
			return false
		}
		state = t.To
	}
	return state == c.State
}

// chargedBeforeGathering checks that a case only enters Gathering out of the
// quota gate and keeps the tier it was charged for
func chargedBeforeGathering(c *models.Case) bool {
	gathered := false
	for _, t := range c.History {
		if t.To != models.StateGathering || gathered {
			continue
		}
		if t.From != models.StateQuotaCheck && t.From != models.StatePaymentRequired {
			return false
		}
		gathered = true
	}
	return !gathered || c.ChargedTier.IsValid()
}

// TestEventSequencesFollowAllowedEdges runs random event sequences against
// scripted engine outcomes and checks the resulting history.
func TestEventSequencesFollowAllowedEdges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	classifier, err := classification.Default()
	if err != nil {
		t.Fatal(err)
	}

	properties.Property("history only contains allowed edges", prop.ForAll(
		func(allotted int, events []int, choices []int) bool {
			ctx := context.Background()
			store := repository.NewMemoryStore()
			l, err := ledger.New(ledger.NewInMemoryStore(), ledger.WithDefaultAllotments(map[models.Tier]int{
				models.TierAdministrative: allotted,
			}))
			if err != nil {
				return false
			}
			o, err := NewOrchestrator(
				WithCaseStore(store),
				WithDraftStore(store),
				WithLedger(l),
				WithEngine(&scriptedEngine{choices: choices}),
				WithLookup(echoLookup{}),
				WithClassifier(classifier),
				WithLimits(Limits{MaxReplans: 1, MaxAutoCycles: 2}),
			)
			if err != nil {
				return false
			}

			identity := models.Identity{UserID: uuid.New()}
			res, err := o.SubmitCase(ctx, SubmitCaseRequest{Identity: identity, Description: "amendă de circulație contestată"})
			if err != nil {
				return false
			}
			id := res.Case.ID

			for i, ev := range events {
				switch ev {
				case 1:
					_, _ = o.SubmitUserInput(ctx, SubmitUserInputRequest{
						CaseID: id, Identity: identity, Narrative: fmt.Sprintf("detaliu %d", i),
					})
				case 2:
					_, _ = o.SubmitFeedback(ctx, SubmitFeedbackRequest{
						CaseID: id, Identity: identity, Comment: fmt.Sprintf("corectură %d", i),
					})
				case 3:
					_, _ = o.SubmitFeedback(ctx, SubmitFeedbackRequest{CaseID: id, Identity: identity, Satisfied: true})
				case 4:
					_, _ = o.ConfirmPayment(ctx, ConfirmPaymentRequest{
						Identity: identity, CaseID: &id, Credits: 1, PaymentRef: fmt.Sprintf("pay-%d", i),
					})
				case 5:
					_, _ = o.RetryStalled(ctx, id)
				}
				_, _ = o.Drive(ctx, id)
			}

			c, err := store.Load(ctx, id)
			if err != nil {
				return false
			}
			return historyIsConsistent(c) && chargedBeforeGathering(c) && c.Version >= int64(len(c.History))
		},
		gen.IntRange(0, 2),
		gen.SliceOfN(12, gen.IntRange(0, 5)),
		gen.SliceOfN(16, gen.IntRange(0, 11)),
	))

	properties.Property("every transition keeps at most one current draft", prop.ForAll(
		func(events []int, choices []int) bool {
			ctx := context.Background()
			store := repository.NewMemoryStore()
			l, err := ledger.New(ledger.NewInMemoryStore(), ledger.WithDefaultAllotments(map[models.Tier]int{
				models.TierAdministrative: 1,
			}))
			if err != nil {
				return false
			}
			o, err := NewOrchestrator(
				WithCaseStore(store),
				WithDraftStore(store),
				WithLedger(l),
				WithEngine(&scriptedEngine{choices: choices}),
				WithLookup(echoLookup{}),
				WithClassifier(classifier),
			)
			if err != nil {
				return false
			}

			identity := models.Identity{UserID: uuid.New()}
			res, err := o.SubmitCase(ctx, SubmitCaseRequest{Identity: identity, Description: "amendă de circulație contestată"})
			if err != nil {
				return false
			}
			id := res.Case.ID
			for i, ev := range events {
				if ev == 1 {
					_, _ = o.SubmitFeedback(ctx, SubmitFeedbackRequest{
						CaseID: id, Identity: identity, Comment: fmt.Sprintf("corectură %d", i),
					})
				}
				_, _ = o.Drive(ctx, id)
			}

			drafts, err := store.ListDrafts(ctx, id)
			if err != nil {
				return false
			}
			current := 0
			for _, d := range drafts {
				if d.Status != models.DraftSuperseded {
					current++
				}
			}
			return current <= 1
		},
		gen.SliceOfN(10, gen.IntRange(0, 1)),
		gen.SliceOfN(16, gen.IntRange(0, 11)),
	))

	properties.TestingRun(t)
}
