package lookup

import (
	"context"
	"errors"
	"math"
	"testing"

	"casedraft-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	err   error
	calls []string
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls = append(s.calls, text)
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

type stubSearcher struct {
	chunks    []models.LegalChunk
	gotSource string
	gotLimit  int
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, sourceType string, limit int) ([]models.LegalChunk, error) {
	s.gotSource = sourceType
	s.gotLimit = limit
	return s.chunks, nil
}

func TestRetriever_Lookup(t *testing.T) {
	citation := "art. 31 OG 2/2001"
	searcher := &stubSearcher{chunks: []models.LegalChunk{{
		ID:             uuid.New(),
		Text:           "Împotriva procesului-verbal se poate face plângere în termen de 15 zile.",
		SourceType:     "regulation",
		SourceDocument: "OG 2/2001",
		Citation:       &citation,
		Distance:       0.2,
	}}}
	embedder := &stubEmbedder{}
	r := NewRetriever(embedder, searcher, nil)

	refs, err := r.Lookup(context.Background(), models.LookupDirective{Query: "termen plângere", Source: "regulation"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "art. 31 OG 2/2001", refs[0].Citation)
	assert.Equal(t, "OG 2/2001", refs[0].Source)
	assert.InDelta(t, 0.8, refs[0].Score, 1e-9)
	assert.Equal(t, "regulation", searcher.gotSource)
	assert.Equal(t, DefaultLimit, searcher.gotLimit)

	t.Run("limit is capped", func(t *testing.T) {
		_, err := r.Lookup(context.Background(), models.LookupDirective{Query: "x", Limit: 99})
		require.NoError(t, err)
		assert.Equal(t, MaxLimit, searcher.gotLimit)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := r.Lookup(context.Background(), models.LookupDirective{})
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("embedding failure", func(t *testing.T) {
		embedder.err = errors.New("quota")
		_, err := r.Lookup(context.Background(), models.LookupDirective{Query: "x"})
		assert.Error(t, err)
	})
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
}
