package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"casedraft-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    models.VerdictKind
		wantErr bool
	}{
		{
			name: "need more info with question",
			raw:  `{"verdict":"need-more-info","questions":["date accident?"]}`,
			want: models.VerdictNeedMoreInfo,
		},
		{
			name: "need more info with lookup only",
			raw:  `{"verdict":"need-more-info","lookups":[{"query":"OG 2/2001 termen plângere","source":"regulation","limit":3}]}`,
			want: models.VerdictNeedMoreInfo,
		},
		{
			name: "plan ready in code fence",
			raw:  "```json\n{\"verdict\":\"plan-ready\",\"steps\":[{\"title\":\"Plângere\"}],\"document_type\":\"plângere contravențională\"}\n```",
			want: models.VerdictPlanReady,
		},
		{name: "plan ready without steps", raw: `{"verdict":"plan-ready","steps":[]}`, wantErr: true},
		{name: "need more info with nothing to ask", raw: `{"verdict":"need-more-info"}`, wantErr: true},
		{name: "unknown verdict", raw: `{"verdict":"maybe"}`, wantErr: true},
		{name: "lookup limit out of range", raw: `{"verdict":"need-more-info","lookups":[{"query":"x","limit":50}]}`, wantErr: true},
		{name: "not json", raw: `I think we need more info`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVerdict([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Kind)
		})
	}
}

func TestClassifyGeminiError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bad request", &googleapi.Error{Code: http.StatusBadRequest}, ErrRejected},
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, ErrRejected},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, ErrRejected},
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, ErrUnavailable},
		{"server error", &googleapi.Error{Code: http.StatusServiceUnavailable}, ErrUnavailable},
		{"gateway timeout", &googleapi.Error{Code: http.StatusGatewayTimeout}, ErrTimeout},
		{"wrapped api error", fmt.Errorf("generate: %w", &googleapi.Error{Code: http.StatusBadRequest}), ErrRejected},
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"transport", errors.New("connection refused"), ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyGeminiError(tt.err), tt.want)
		})
	}
}

func TestErrorMatchesSentinel(t *testing.T) {
	err := &Error{Kind: KindDrafting, Code: CodeTimeout, Attempts: 3, Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrRejected)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "drafting engine timeout after 3 attempt(s)")
}

func TestDocumentTitle(t *testing.T) {
	assert.Equal(t, "Plângere contravențională", documentTitle("\n# Plângere contravențională\n\nText", "x"))
	assert.Equal(t, "cerere", documentTitle("no heading", "cerere"))
	assert.Equal(t, "Draft", documentTitle("no heading", ""))
}

func TestDraftingPromptIncludesFactsAndPlan(t *testing.T) {
	prompt, err := draftingPrompt(&DraftingPayload{
		Snapshot: Snapshot{
			Facts:      map[string]string{"data": "12.03.2026", "amenda": "1000 lei"},
			References: []models.Reference{{Source: "OG 2/2001", Citation: "art. 31", Excerpt: "termen 15 zile"}},
		},
		Plan: models.Plan{DocumentType: "plângere", Steps: []models.PlanStep{{Title: "Situația de fapt", Detail: "cronologie"}}},
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "DOCUMENT TYPE: plângere")
	assert.Contains(t, prompt, "1. Situația de fapt - cronologie")
	assert.Contains(t, prompt, "- amenda: 1000 lei\n- data: 12.03.2026")
	assert.Contains(t, prompt, "[art. 31] termen 15 zile")
}
