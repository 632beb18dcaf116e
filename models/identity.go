package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Identity is the verified end-user identity handed over by the auth layer
type Identity struct {
	UserID         uuid.UUID    `json:"user_id"`
	OrganizationID *uuid.UUID   `json:"organization_id,omitempty"`
	Entitlements   map[Tier]int `json:"entitlements,omitempty"`
}

// Account returns the quota account the identity is billed against
func (i Identity) Account() string {
	if i.OrganizationID != nil && *i.OrganizationID != uuid.Nil {
		return "org:" + i.OrganizationID.String()
	}
	return "user:" + i.UserID.String()
}

// TierCredits maps tiers to credits; used for entitlements stored on a case
type TierCredits map[Tier]int

// Value implements driver.Valuer for JSONB
func (t TierCredits) Value() (driver.Value, error) {
	if t == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner for JSONB
func (t *TierCredits) Scan(value interface{}) error {
	return scanJSON(value, t)
}

// QuotaEntry tracks consumed vs allotted credits for one account and tier
type QuotaEntry struct {
	Account   string    `json:"account"`
	Tier      Tier      `json:"tier"`
	Allotted  int       `json:"allotted"`
	Consumed  int       `json:"consumed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining returns the credits still available
func (q QuotaEntry) Remaining() int {
	if q.Consumed >= q.Allotted {
		return 0
	}
	return q.Allotted - q.Consumed
}

// ReservationDecision is the outcome of a quota reservation
type ReservationDecision string

const (
	ReservationGranted ReservationDecision = "granted"
	ReservationDenied  ReservationDecision = "denied"
)

// QuotaReservation is the result of one atomic reserve call
type QuotaReservation struct {
	ReservationID string              `json:"reservation_id"`
	Decision      ReservationDecision `json:"decision"`
	Cost          int                 `json:"cost"`
	Replayed      bool                `json:"replayed"`
	Entry         QuotaEntry          `json:"entry"`
}

// Granted reports whether the reservation succeeded
func (r QuotaReservation) Granted() bool {
	return r.Decision == ReservationGranted
}
