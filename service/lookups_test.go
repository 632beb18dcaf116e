package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"casedraft-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapLookup map[string][]models.Reference

func (m mapLookup) Lookup(_ context.Context, d models.LookupDirective) ([]models.Reference, error) {
	refs, ok := m[d.Query]
	if !ok {
		return nil, errors.New("index offline")
	}
	return refs, nil
}

func TestRunLookups(t *testing.T) {
	var logs bytes.Buffer
	o := &Orchestrator{
		lookup: mapLookup{
			"og 2/2001": {{SourceID: "og-2-2001"}, {SourceID: "og-2-2001-art-31"}},
			"termen":    {{SourceID: "og-2-2001-art-31"}, {SourceID: "ncpc-art-181"}},
		},
		logger: slog.New(slog.NewTextHandler(&logs, nil)),
	}

	t.Run("partial failure keeps the other results", func(t *testing.T) {
		logs.Reset()
		refs := o.runLookups(context.Background(), "case-1", []models.LookupDirective{
			{Query: "og 2/2001"},
			{Query: "missing-a"},
			{Query: "termen"},
			{Query: "missing-b"},
		})

		ids := make([]string, 0, len(refs))
		for _, r := range refs {
			ids = append(ids, r.SourceID)
		}
		assert.Equal(t, []string{"og-2-2001", "og-2-2001-art-31", "ncpc-art-181"}, ids)

		out := logs.String()
		require.Contains(t, out, "lookups failed")
		assert.Contains(t, out, "failed=2")
		assert.Contains(t, out, "total=4")
		assert.Contains(t, out, "missing-a")
		assert.Contains(t, out, "missing-b")
	})

	t.Run("no failure logs nothing", func(t *testing.T) {
		logs.Reset()
		refs := o.runLookups(context.Background(), "case-1", []models.LookupDirective{{Query: "termen"}})
		assert.Len(t, refs, 2)
		assert.NotContains(t, logs.String(), "lookups failed")
	})

	t.Run("no directives", func(t *testing.T) {
		assert.Nil(t, o.runLookups(context.Background(), "case-1", nil))
	})
}
