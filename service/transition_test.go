package service

import (
	"strings"
	"testing"
	"time"

	"casedraft-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed(models.StateCreated, models.StateQuotaCheck))
	assert.True(t, Allowed(models.StateGathering, models.StateQuotaCheck))
	assert.True(t, Allowed(models.StateDrafting, models.StateConsulting))
	assert.True(t, Allowed(models.StatePaymentRequired, models.StateGathering))

	assert.False(t, Allowed(models.StateCreated, models.StateGathering), "quota check cannot be skipped")
	assert.False(t, Allowed(models.StateConsulting, models.StateAwaitingFeedback))
	assert.False(t, Allowed(models.StateClosed, models.StateGathering))
	assert.False(t, Allowed(models.StatePaymentRequired, models.StateSynthesizing))
}

func TestCheckTransition(t *testing.T) {
	now := time.Now()
	prev := &models.Case{State: models.StateGathering, History: models.Transitions{
		{From: models.StateQuotaCheck, To: models.StateGathering, At: now},
	}}

	t.Run("data only", func(t *testing.T) {
		next := prev.Clone()
		next.PendingInputs = append(next.PendingInputs, models.UserInput{EventID: "a"})
		assert.NoError(t, checkTransition(prev, next))
	})

	t.Run("allowed edge", func(t *testing.T) {
		next := prev.Clone()
		next.MoveTo(models.StateSynthesizing, "merged", now)
		assert.NoError(t, checkTransition(prev, next))
	})

	t.Run("forbidden edge", func(t *testing.T) {
		next := prev.Clone()
		next.MoveTo(models.StateDrafting, "shortcut", now)
		assert.ErrorIs(t, checkTransition(prev, next), ErrInvalidTransition)
	})

	t.Run("state without edge", func(t *testing.T) {
		next := prev.Clone()
		next.State = models.StateSynthesizing
		assert.ErrorIs(t, checkTransition(prev, next), ErrInvalidTransition)
	})

	t.Run("truncated history", func(t *testing.T) {
		next := prev.Clone()
		next.History = nil
		assert.ErrorIs(t, checkTransition(prev, next), ErrInvalidTransition)
	})
}

func TestQuiescent(t *testing.T) {
	user := models.UserInput{EventID: "u", Source: models.InputFromUser, Narrative: "x"}
	lookup := models.UserInput{EventID: "l", Source: models.InputFromLookup, References: []models.Reference{{SourceID: "r"}}}

	tests := []struct {
		name string
		c    models.Case
		want bool
	}{
		{"created", models.Case{State: models.StateCreated}, false},
		{"consulting", models.Case{State: models.StateConsulting}, false},
		{"payment required", models.Case{State: models.StatePaymentRequired, PendingInputs: models.UserInputs{user}}, true},
		{"closed", models.Case{State: models.StateClosed}, true},
		{"stalled", models.Case{State: models.StateDrafting, Stall: &models.Stall{Code: "x"}}, true},
		{"gathering idle", models.Case{State: models.StateGathering}, true},
		{"gathering with input", models.Case{State: models.StateGathering, PendingInputs: models.UserInputs{user}}, false},
		{"gathering with unsynthesized details", models.Case{State: models.StateGathering, Unsynthesized: true}, false},
		{"unsynthesized but stalled", models.Case{State: models.StateGathering, Unsynthesized: true, Stall: &models.Stall{Code: "x"}}, true},
		{"lookups without questions", models.Case{State: models.StateGathering, PendingInputs: models.UserInputs{lookup}}, false},
		{"lookups while waiting for answers", models.Case{
			State:         models.StateGathering,
			PendingInputs: models.UserInputs{lookup},
			OpenQuestions: models.StringList{"date accident?"},
		}, true},
		{"answer arrived", models.Case{
			State:         models.StateGathering,
			PendingInputs: models.UserInputs{lookup, user},
			OpenQuestions: models.StringList{"date accident?"},
		}, false},
		{"awaiting feedback idle", models.Case{State: models.StateAwaitingFeedback}, true},
		{"awaiting feedback with input", models.Case{State: models.StateAwaitingFeedback, PendingInputs: models.UserInputs{user}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, quiescent(&tt.c))
		})
	}
}

func TestBuildSnapshot(t *testing.T) {
	now := time.Now()
	c := &models.Case{
		ID:            uuid.New(),
		Version:       7,
		Title:         "Amendă",
		Tier:          models.TierAdministrative,
		Details:       models.NewCaseDetails(),
		OpenQuestions: models.StringList{"date accident?"},
	}
	c.Details.Merge(models.UserInput{EventID: "in_1", Facts: map[string]string{"amenda": "500 lei"}, Narrative: "Am primit o amendă."})
	c.Details.Merge(models.UserInput{EventID: feedbackPrefix + "in_2", Narrative: "Adăugați lipsa semnăturii."})

	snap := buildSnapshot(c, now)
	assert.Equal(t, c.ID, snap.CaseID)
	assert.Equal(t, int64(7), snap.CaseVersion)
	assert.Equal(t, map[string]string{"amenda": "500 lei"}, snap.Facts)
	assert.Equal(t, []string{"Am primit o amendă."}, snap.Narrative)
	assert.Equal(t, []string{"Adăugați lipsa semnăturii."}, snap.Feedback)
	assert.Equal(t, []string{"date accident?"}, snap.OpenQuestions)

	// the snapshot is a copy
	snap.Facts["amenda"] = "0"
	assert.Equal(t, "500 lei", c.Details.Facts["amenda"])
}

func TestInstructions(t *testing.T) {
	c := &models.Case{Tier: models.TierComplex, ReplanCount: 1, LatestPlan: &models.Plan{Version: 2}}
	assert.Contains(t, reasoningInstructions(c), "version 2")
	assert.Contains(t, reasoningInstructions(c), "simplify")
	assert.Contains(t, draftingInstructions(c), "thorough")

	c.Tier = models.TierAdministrative
	assert.Contains(t, draftingInstructions(c), "concise")
}

func TestNewInput(t *testing.T) {
	now := time.Now()

	a, err := newInput(models.InputFromUser, "", map[string]string{" data ": " 2024-03-01 "}, "  text ", now)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"data": "2024-03-01"}, a.Facts)
	assert.Equal(t, "text", a.Narrative)
	assert.True(t, strings.HasPrefix(a.EventID, "in_"))

	b, err := newInput(models.InputFromUser, "", map[string]string{"data": "2024-03-01"}, "text", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, a.EventID, b.EventID, "same content, same fingerprint")

	c, err := newInput(models.InputFromUser, "evt-1", nil, "text", now)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", c.EventID)

	_, err = newInput(models.InputFromUser, "", nil, "   ", now)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = newInput(models.InputFromUser, "", map[string]string{" ": "x"}, "", now)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCaseTitle(t *testing.T) {
	assert.Equal(t, "Contestație", caseTitle(" Contestație ", "ignored"))
	assert.Equal(t, "Amendă de circulație contestată", caseTitle("", "Amendă de circulație contestată. Am fost oprit de poliție."))
	assert.Equal(t, "Untitled case", caseTitle("", ""))
	assert.Len(t, []rune(caseTitle(strings.Repeat("ș", 300), "")), maxTitleLength)
}
