package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CaseState represents the lifecycle state of a case
type CaseState string

const (
	StateCreated          CaseState = "created"
	StateQuotaCheck       CaseState = "quota_check"
	StatePaymentRequired  CaseState = "payment_required"
	StateGathering        CaseState = "gathering"
	StateSynthesizing     CaseState = "synthesizing"
	StateConsulting       CaseState = "consulting"
	StateDrafting         CaseState = "drafting"
	StateAwaitingFeedback CaseState = "awaiting_feedback"
	StateClosed           CaseState = "closed"
)

// IsValid reports whether s is a known state
func (s CaseState) IsValid() bool {
	switch s {
	case StateCreated, StateQuotaCheck, StatePaymentRequired, StateGathering, StateSynthesizing,
		StateConsulting, StateDrafting, StateAwaitingFeedback, StateClosed:
		return true
	}
	return false
}

// QuotaStatus represents the quota-charge status of a case
type QuotaStatus string

const (
	QuotaPending         QuotaStatus = "pending"
	QuotaCharged         QuotaStatus = "charged"
	QuotaPaymentRequired QuotaStatus = "payment_required"
)

// Stall describes why a case stopped advancing. The state is left untouched.
type Stall struct {
	Code     string    `json:"code"`
	Reason   string    `json:"reason"`
	Phase    CaseState `json:"phase"`
	Attempts int       `json:"attempts,omitempty"`
	At       time.Time `json:"at"`
}

// Value implements driver.Valuer for JSONB
func (s *Stall) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB
func (s *Stall) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// Transition records one state edge
type Transition struct {
	From  CaseState `json:"from"`
	To    CaseState `json:"to"`
	Cause string    `json:"cause"`
	At    time.Time `json:"at"`
}

// Transitions is the audit trail of a case
type Transitions []Transition

// Value implements driver.Valuer for JSONB
func (t Transitions) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner for JSONB
func (t *Transitions) Scan(value interface{}) error {
	*t = make(Transitions, 0)
	return scanJSON(value, t)
}

// StringList is a JSONB-backed list of strings
type StringList []string

// Value implements driver.Valuer for JSONB
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for JSONB
func (l *StringList) Scan(value interface{}) error {
	*l = make(StringList, 0)
	return scanJSON(value, l)
}

// Case represents one client matter
type Case struct {
	ID             uuid.UUID   `json:"id"`
	OwnerID        uuid.UUID   `json:"owner_id"`
	OrganizationID *uuid.UUID  `json:"organization_id,omitempty"`
	Entitlements   TierCredits `json:"entitlements,omitempty"`
	Title          string      `json:"title"`

	Tier        Tier        `json:"tier"`
	ChargedTier Tier        `json:"charged_tier"`
	QuotaStatus QuotaStatus `json:"quota_status"`

	State   CaseState `json:"state"`
	Version int64     `json:"version"`

	Details       CaseDetails `json:"case_details"`
	PendingInputs UserInputs  `json:"pending_inputs"`
	OpenQuestions StringList  `json:"open_questions"`
	LatestPlan    *Plan       `json:"latest_plan,omitempty"`

	Stall       *Stall      `json:"stall,omitempty"`
	ReplanCount int         `json:"replan_count"`
	AutoCycles  int         `json:"auto_cycles"`
	History     Transitions `json:"history"`

	// Unsynthesized marks merged details the reasoning engine has not seen yet
	Unsynthesized bool `json:"unsynthesized"`

	ReopenedFrom *uuid.UUID `json:"reopened_from,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// Identity returns the verified identity that owns the case
func (c *Case) Identity() Identity {
	return Identity{UserID: c.OwnerID, OrganizationID: c.OrganizationID, Entitlements: c.Entitlements}
}

// IsStalled reports whether the case awaits correction
func (c *Case) IsStalled() bool {
	return c.Stall != nil
}

// MoveTo changes the state and records the edge
func (c *Case) MoveTo(to CaseState, cause string, at time.Time) {
	c.History = append(c.History, Transition{From: c.State, To: to, Cause: cause, At: at})
	c.State = to
}

// HasPendingInput reports whether any unmerged input is queued
func (c *Case) HasPendingInput() bool {
	return len(c.PendingInputs) > 0
}

// Knows reports whether an input event id was already merged or is queued
func (c *Case) Knows(eventID string) bool {
	if c.Details.Applied(eventID) {
		return true
	}
	for _, in := range c.PendingInputs {
		if in.EventID == eventID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so transitions never mutate the loaded record
func (c *Case) Clone() *Case {
	out := *c
	if c.OrganizationID != nil {
		org := *c.OrganizationID
		out.OrganizationID = &org
	}
	if c.ReopenedFrom != nil {
		from := *c.ReopenedFrom
		out.ReopenedFrom = &from
	}
	if c.ClosedAt != nil {
		closed := *c.ClosedAt
		out.ClosedAt = &closed
	}
	if c.Entitlements != nil {
		out.Entitlements = make(TierCredits, len(c.Entitlements))
		for tier, credits := range c.Entitlements {
			out.Entitlements[tier] = credits
		}
	}
	out.Details = c.Details.Clone()
	out.PendingInputs = make(UserInputs, len(c.PendingInputs))
	for i, in := range c.PendingInputs {
		out.PendingInputs[i] = in.Clone()
	}
	out.OpenQuestions = append(StringList(nil), c.OpenQuestions...)
	if c.LatestPlan != nil {
		plan := c.LatestPlan.Clone()
		out.LatestPlan = &plan
	}
	if c.Stall != nil {
		stall := *c.Stall
		out.Stall = &stall
	}
	out.History = append(Transitions(nil), c.History...)
	return &out
}

// scanJSON decodes JSONB values handed over by pgx as []byte or string
func scanJSON(value interface{}, dst interface{}) error {
	if value == nil {
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	if len(bytes) == 0 {
		return nil
	}

	return json.Unmarshal(bytes, dst)
}
