package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// VerdictKind discriminates reasoning engine answers
type VerdictKind string

const (
	VerdictNeedMoreInfo VerdictKind = "need-more-info"
	VerdictPlanReady    VerdictKind = "plan-ready"
)

// LookupDirective asks the orchestrator to fetch external data
type LookupDirective struct {
	Query  string `json:"query"`
	Source string `json:"source,omitempty"` // "regulation", "case_law", "doctrine"
	Limit  int    `json:"limit,omitempty"`
}

// PlanStep is one ordered step of a resolution plan
type PlanStep struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// Plan is the resolution plan the drafting engine renders
type Plan struct {
	Version      int        `json:"version"`
	Steps        []PlanStep `json:"steps"`
	DocumentType string     `json:"document_type,omitempty"`
	Rationale    string     `json:"rationale,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Clone deep-copies the plan
func (p Plan) Clone() Plan {
	out := p
	out.Steps = append([]PlanStep(nil), p.Steps...)
	return out
}

// Value implements driver.Valuer for JSONB
func (p *Plan) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB
func (p *Plan) Scan(value interface{}) error {
	return scanJSON(value, p)
}

// Verdict is the typed answer of the reasoning engine
type Verdict struct {
	Kind         VerdictKind       `json:"verdict"`
	Questions    []string          `json:"questions,omitempty"`
	Lookups      []LookupDirective `json:"lookups,omitempty"`
	Steps        []PlanStep        `json:"steps,omitempty"`
	DocumentType string            `json:"document_type,omitempty"`
	Rationale    string            `json:"rationale,omitempty"`
}
