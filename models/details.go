package models

import (
	"database/sql/driver"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// NarrativeEntry is one free-text contribution to a case
type NarrativeEntry struct {
	EventID string    `json:"event_id"`
	Text    string    `json:"text"`
	AddedAt time.Time `json:"added_at"`
}

// Reference is an external source surfaced by a lookup
type Reference struct {
	SourceID string  `json:"source_id"`
	Source   string  `json:"source"`
	Citation string  `json:"citation,omitempty"`
	Excerpt  string  `json:"excerpt"`
	Score    float64 `json:"score,omitempty"`
}

// CaseDetails is the accumulating fact/narrative record of a case.
// It is only ever extended through Merge.
type CaseDetails struct {
	Facts         map[string]string `json:"facts"`
	Narrative     []NarrativeEntry  `json:"narrative"`
	References    []Reference       `json:"references,omitempty"`
	AppliedInputs []string          `json:"applied_inputs"`
}

// NewCaseDetails returns empty details with initialised collections
func NewCaseDetails() CaseDetails {
	return CaseDetails{
		Facts:         make(map[string]string),
		Narrative:     make([]NarrativeEntry, 0),
		AppliedInputs: make([]string, 0),
	}
}

// Value implements driver.Valuer for JSONB
func (d CaseDetails) Value() (driver.Value, error) {
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSONB
func (d *CaseDetails) Scan(value interface{}) error {
	*d = NewCaseDetails()
	if err := scanJSON(value, d); err != nil {
		return err
	}
	if d.Facts == nil {
		d.Facts = make(map[string]string)
	}
	return nil
}

// Applied reports whether an input event was already merged
func (d CaseDetails) Applied(eventID string) bool {
	for _, id := range d.AppliedInputs {
		if id == eventID {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no facts, narrative or references were recorded
func (d CaseDetails) IsEmpty() bool {
	return len(d.Facts) == 0 && len(d.Narrative) == 0 && len(d.References) == 0
}

// Merge folds one input into the details. It returns false when the input
// was already applied or carried nothing new.
func (d *CaseDetails) Merge(in UserInput) bool {
	if in.EventID != "" && d.Applied(in.EventID) {
		return false
	}
	if d.Facts == nil {
		d.Facts = make(map[string]string)
	}

	changed := false
	for k, v := range in.Facts {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		if cur, ok := d.Facts[key]; !ok || cur != v {
			d.Facts[key] = v
			changed = true
		}
	}

	if text := strings.TrimSpace(in.Narrative); text != "" {
		d.Narrative = append(d.Narrative, NarrativeEntry{
			EventID: in.EventID,
			Text:    text,
			AddedAt: in.ReceivedAt,
		})
		changed = true
	}

	for _, ref := range in.References {
		if d.hasReference(ref.SourceID) {
			continue
		}
		d.References = append(d.References, ref)
		changed = true
	}

	if in.EventID != "" {
		d.AppliedInputs = append(d.AppliedInputs, in.EventID)
	}
	return changed
}

func (d CaseDetails) hasReference(sourceID string) bool {
	for _, ref := range d.References {
		if ref.SourceID == sourceID {
			return true
		}
	}
	return false
}

// Text flattens facts and narrative into one string for keyword matching
func (d CaseDetails) Text() string {
	var b strings.Builder
	for _, key := range d.FactKeys() {
		b.WriteString(key)
		b.WriteString(" ")
		b.WriteString(d.Facts[key])
		b.WriteString("\n")
	}
	for _, n := range d.Narrative {
		b.WriteString(n.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// FactKeys returns the fact keys in stable order
func (d CaseDetails) FactKeys() []string {
	keys := make([]string, 0, len(d.Facts))
	for k := range d.Facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies the details
func (d CaseDetails) Clone() CaseDetails {
	out := CaseDetails{
		Facts:         make(map[string]string, len(d.Facts)),
		Narrative:     append([]NarrativeEntry(nil), d.Narrative...),
		References:    append([]Reference(nil), d.References...),
		AppliedInputs: append([]string(nil), d.AppliedInputs...),
	}
	for k, v := range d.Facts {
		out.Facts[k] = v
	}
	return out
}
