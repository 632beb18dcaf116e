// Package engine is the uniform call interface to the reasoning and drafting
// engines. Every consult returns either a validated result or a typed *Error.
package engine

import (
	"context"
	"time"

	"casedraft-backend/models"

	"github.com/google/uuid"
)

// Kind selects the engine a request is routed to
type Kind string

const (
	KindReasoning Kind = "reasoning"
	KindDrafting  Kind = "drafting"
)

// IsValid reports whether the kind is known
func (k Kind) IsValid() bool {
	return k == KindReasoning || k == KindDrafting
}

// Snapshot is the synthesized context of a case at one version. It is
// recomputed from the case details each time and never stored.
type Snapshot struct {
	CaseID        uuid.UUID          `json:"case_id"`
	CaseVersion   int64              `json:"case_version"`
	Title         string             `json:"title,omitempty"`
	Tier          models.Tier        `json:"tier"`
	Facts         map[string]string  `json:"facts"`
	Narrative     []string           `json:"narrative,omitempty"`
	References    []models.Reference `json:"references,omitempty"`
	OpenQuestions []string           `json:"open_questions,omitempty"`
	Feedback      []string           `json:"feedback,omitempty"`
	BuiltAt       time.Time          `json:"built_at"`
}

// ReasoningPayload asks the reasoning engine for a sufficiency verdict
type ReasoningPayload struct {
	Snapshot     Snapshot     `json:"snapshot"`
	Instructions string       `json:"instructions"`
	PriorPlan    *models.Plan `json:"prior_plan,omitempty"`
}

// DraftingPayload asks the drafting engine to render a plan
type DraftingPayload struct {
	Snapshot     Snapshot    `json:"snapshot"`
	Plan         models.Plan `json:"plan"`
	Instructions string      `json:"instructions"`
}

// Request is one consult call. Exactly one payload matches Kind.
type Request struct {
	Kind      Kind
	Reasoning *ReasoningPayload
	Drafting  *DraftingPayload
}

// Document is a drafting result
type Document struct {
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// Result is a successful consult
type Result struct {
	Kind     Kind            `json:"kind"`
	Verdict  *models.Verdict `json:"verdict,omitempty"`
	Document *Document       `json:"document,omitempty"`
}

// Engine is a single backend attempt. Implementations report failures using
// the Err* sentinels where they can tell them apart; anything else is treated
// as transient.
//
//go:generate mockgen -source=engine.go -destination=mocks/engine_mock.go -package=mocks Engine
type Engine interface {
	Call(ctx context.Context, req Request) (*Result, error)
}
