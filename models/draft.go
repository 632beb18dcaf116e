package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DraftStatus represents the status of a generated document
type DraftStatus string

const (
	DraftGenerated  DraftStatus = "generated"
	DraftDelivered  DraftStatus = "delivered"
	DraftSuperseded DraftStatus = "superseded"
)

// draftNamespace seeds deterministic draft ids
var draftNamespace = uuid.MustParse("6b1f8a52-3c1e-4f55-9a43-2f0d3c8e7b10")

// DraftID derives the id of the draft produced for a case at a given version
// and plan, so a replayed drafting step yields the same draft.
func DraftID(caseID uuid.UUID, caseVersion int64, planVersion int) uuid.UUID {
	return uuid.NewSHA1(draftNamespace, []byte(fmt.Sprintf("%s/%d/%d", caseID, caseVersion, planVersion)))
}

// Draft represents a generated document tied to a case and plan version
type Draft struct {
	ID          uuid.UUID   `json:"id"`
	CaseID      uuid.UUID   `json:"case_id"`
	PlanVersion int         `json:"plan_version"`
	Title       string      `json:"title"`
	Content     string      `json:"content"`
	StoragePath *string     `json:"storage_path,omitempty"`
	Status      DraftStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty"`
}
