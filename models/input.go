package models

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// InputSource identifies where a pending input came from
type InputSource string

const (
	InputFromUser     InputSource = "user"
	InputFromFeedback InputSource = "feedback"
	InputFromLookup   InputSource = "lookup"
	InputFromIntake   InputSource = "intake"
)

// UserInput is a unit of new information waiting to be merged into CaseDetails
type UserInput struct {
	EventID    string            `json:"event_id"`
	Source     InputSource       `json:"source"`
	Facts      map[string]string `json:"facts,omitempty"`
	Narrative  string            `json:"narrative,omitempty"`
	References []Reference       `json:"references,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// IsEmpty reports whether the input carries no information
func (in UserInput) IsEmpty() bool {
	return len(in.Facts) == 0 && in.Narrative == "" && len(in.References) == 0
}

// Clone deep-copies the input
func (in UserInput) Clone() UserInput {
	out := in
	if in.Facts != nil {
		out.Facts = make(map[string]string, len(in.Facts))
		for k, v := range in.Facts {
			out.Facts[k] = v
		}
	}
	out.References = append([]Reference(nil), in.References...)
	return out
}

// Fingerprint derives a stable idempotency key from the input content.
// Identical facts and narrative always produce the same key.
func (in UserInput) Fingerprint() (string, error) {
	raw, err := json.Marshal(struct {
		Facts     map[string]string `json:"facts"`
		Narrative string            `json:"narrative"`
	}{Facts: in.Facts, Narrative: in.Narrative})
	if err != nil {
		return "", fmt.Errorf("failed to marshal input: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "in_" + hex.EncodeToString(sum[:16]), nil
}

// UserInputs is the JSONB-backed queue of pending inputs
type UserInputs []UserInput

// Value implements driver.Valuer for JSONB
func (u UserInputs) Value() (driver.Value, error) {
	if u == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(u)
}

// Scan implements sql.Scanner for JSONB
func (u *UserInputs) Scan(value interface{}) error {
	*u = make(UserInputs, 0)
	return scanJSON(value, u)
}
