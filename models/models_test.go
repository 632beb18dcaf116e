package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaseDetailsMerge(t *testing.T) {
	d := NewCaseDetails()
	now := time.Now()

	changed := d.Merge(UserInput{
		EventID:    "in_1",
		Facts:      map[string]string{"amenda": "500 lei", " ": "ignored"},
		Narrative:  "  Am fost oprit de poliție.  ",
		ReceivedAt: now,
	})
	assert.True(t, changed)
	assert.Equal(t, map[string]string{"amenda": "500 lei"}, d.Facts)
	require.Len(t, d.Narrative, 1)
	assert.Equal(t, "Am fost oprit de poliție.", d.Narrative[0].Text)
	assert.Equal(t, "in_1", d.Narrative[0].EventID)
	assert.True(t, d.Applied("in_1"))

	// replay is a no-op
	assert.False(t, d.Merge(UserInput{EventID: "in_1", Facts: map[string]string{"amenda": "0"}}))
	assert.Equal(t, "500 lei", d.Facts["amenda"])

	// facts are upserted, references dedup by source id
	assert.True(t, d.Merge(UserInput{
		EventID:    "in_2",
		Facts:      map[string]string{"amenda": "300 lei"},
		References: []Reference{{SourceID: "og-2-2001"}, {SourceID: "og-2-2001"}},
	}))
	assert.Equal(t, "300 lei", d.Facts["amenda"])
	assert.Len(t, d.References, 1)

	// nothing new is not a change, but the event is still recorded
	assert.False(t, d.Merge(UserInput{EventID: "in_3", References: []Reference{{SourceID: "og-2-2001"}}}))
	assert.True(t, d.Applied("in_3"))
}

func TestFingerprint(t *testing.T) {
	a := UserInput{Facts: map[string]string{"b": "2", "a": "1"}, Narrative: "text", ReceivedAt: time.Now()}
	b := UserInput{Facts: map[string]string{"a": "1", "b": "2"}, Narrative: "text", Source: InputFromFeedback}
	c := UserInput{Facts: map[string]string{"a": "1", "b": "3"}, Narrative: "text"}

	fa, err := a.Fingerprint()
	require.NoError(t, err)
	fb, err := b.Fingerprint()
	require.NoError(t, err)
	fc, err := c.Fingerprint()
	require.NoError(t, err)

	assert.Equal(t, fa, fb, "key order, source and time do not matter")
	assert.NotEqual(t, fa, fc)
	assert.Regexp(t, `^in_[0-9a-f]{32}$`, fa)
}

func TestCaseClone(t *testing.T) {
	org := uuid.New()
	c := &Case{
		ID:             uuid.New(),
		OrganizationID: &org,
		Entitlements:   TierCredits{TierStandard: 2},
		Details:        NewCaseDetails(),
		PendingInputs:  UserInputs{{EventID: "a", Facts: map[string]string{"k": "v"}}},
		OpenQuestions:  StringList{"q"},
		LatestPlan:     &Plan{Version: 1, Steps: []PlanStep{{Title: "s"}}},
		Stall:          &Stall{Code: "x"},
	}
	c.Details.Facts["k"] = "v"
	c.MoveTo(StateQuotaCheck, "classified", time.Now())

	cp := c.Clone()
	*cp.OrganizationID = uuid.New()
	cp.Entitlements[TierStandard] = 0
	cp.Details.Facts["k"] = "changed"
	cp.PendingInputs[0].Facts["k"] = "changed"
	cp.OpenQuestions[0] = "changed"
	cp.LatestPlan.Steps[0].Title = "changed"
	cp.Stall.Code = "changed"
	cp.MoveTo(StateGathering, "granted", time.Now())

	assert.Equal(t, org, *c.OrganizationID)
	assert.Equal(t, 2, c.Entitlements[TierStandard])
	assert.Equal(t, "v", c.Details.Facts["k"])
	assert.Equal(t, "v", c.PendingInputs[0].Facts["k"])
	assert.Equal(t, "q", c.OpenQuestions[0])
	assert.Equal(t, "s", c.LatestPlan.Steps[0].Title)
	assert.Equal(t, "x", c.Stall.Code)
	assert.Len(t, c.History, 1)
	assert.Equal(t, StateQuotaCheck, c.State)
}

func TestKnows(t *testing.T) {
	c := &Case{Details: NewCaseDetails(), PendingInputs: UserInputs{{EventID: "queued"}}}
	c.Details.Merge(UserInput{EventID: "merged", Narrative: "x"})

	assert.True(t, c.Knows("queued"))
	assert.True(t, c.Knows("merged"))
	assert.False(t, c.Knows("new"))
}

func TestDraftID(t *testing.T) {
	caseID := uuid.New()
	assert.Equal(t, DraftID(caseID, 4, 1), DraftID(caseID, 4, 1))
	assert.NotEqual(t, DraftID(caseID, 4, 1), DraftID(caseID, 5, 1))
	assert.NotEqual(t, DraftID(caseID, 4, 1), DraftID(caseID, 4, 2))
	assert.NotEqual(t, DraftID(caseID, 4, 1), DraftID(uuid.New(), 4, 1))
}

func TestTierText(t *testing.T) {
	raw, err := json.Marshal(TierCredits{TierAdministrative: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"administrative":3}`, string(raw))

	var out TierCredits
	require.NoError(t, json.Unmarshal([]byte(`{"complex":1,"2":4}`), &out))
	assert.Equal(t, TierCredits{TierComplex: 1, TierStandard: 4}, out)

	_, err = ParseTier("gold")
	assert.Error(t, err)
	assert.True(t, TierComplex > TierStandard)
}

func TestQuotaEntryRemaining(t *testing.T) {
	assert.Equal(t, 2, QuotaEntry{Allotted: 3, Consumed: 1}.Remaining())
	assert.Equal(t, 0, QuotaEntry{Allotted: 1, Consumed: 4}.Remaining())
}

func TestIdentityAccount(t *testing.T) {
	user := uuid.New()
	org := uuid.New()
	nilOrg := uuid.Nil

	assert.Equal(t, "user:"+user.String(), Identity{UserID: user}.Account())
	assert.Equal(t, "org:"+org.String(), Identity{UserID: user, OrganizationID: &org}.Account())
	assert.Equal(t, "user:"+user.String(), Identity{UserID: user, OrganizationID: &nilOrg}.Account())
}
