// Package lookup resolves external-lookup directives from the reasoning
// engine into legal references using vector search over the legal corpus.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"casedraft-backend/models"

	"github.com/google/generative-ai-go/genai"
)

const (
	DefaultEmbeddingModel = "text-embedding-004"
	DefaultLimit          = 3
	MaxLimit              = 10
)

var ErrEmptyQuery = errors.New("lookup query is empty")

// Embedder turns a query into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkSearcher runs similarity search over stored legal chunks
type ChunkSearcher interface {
	Search(ctx context.Context, embedding []float32, sourceType string, limit int) ([]models.LegalChunk, error)
}

// Retriever answers lookup directives
type Retriever struct {
	embedder Embedder
	chunks   ChunkSearcher
	logger   *slog.Logger
}

// NewRetriever creates a retriever
func NewRetriever(embedder Embedder, chunks ChunkSearcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, chunks: chunks, logger: logger}
}

// Lookup returns the references matching a directive
func (r *Retriever) Lookup(ctx context.Context, d models.LookupDirective) ([]models.Reference, error) {
	if d.Query == "" {
		return nil, ErrEmptyQuery
	}

	limit := d.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	embedding, err := r.embedder.Embed(ctx, d.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := r.chunks.Search(ctx, embedding, d.Source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search legal chunks: %w", err)
	}

	refs := make([]models.Reference, 0, len(chunks))
	for _, chunk := range chunks {
		refs = append(refs, chunk.Reference())
	}

	r.logger.DebugContext(ctx, "lookup resolved", "query", d.Query, "source", d.Source, "results", len(refs))
	return refs, nil
}

// GeminiEmbedder embeds queries with the Gemini embedding API
type GeminiEmbedder struct {
	model *genai.EmbeddingModel
}

// NewGeminiEmbedder creates an embedder for retrieval queries
func NewGeminiEmbedder(client *genai.Client, model string) *GeminiEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	em := client.EmbeddingModel(model)
	em.TaskType = genai.TaskTypeRetrievalQuery
	return &GeminiEmbedder{model: em}
}

// Embed returns the normalised embedding of text
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("empty embedding")
	}
	return Normalize(res.Embedding.Values), nil
}

// Normalize scales v to unit length in place
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
