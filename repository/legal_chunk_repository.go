package repository

import (
	"context"
	"fmt"

	"casedraft-backend/models"

	"github.com/pgvector/pgvector-go"
)

// EmbeddingDimensions is the vector size stored in legal_chunks
const EmbeddingDimensions = 768

// LegalChunkRepository handles database operations for legal chunks
type LegalChunkRepository struct {
	db DB
}

// NewLegalChunkRepository creates a new legal chunk repository
func NewLegalChunkRepository(db DB) *LegalChunkRepository {
	return &LegalChunkRepository{db: db}
}

// Search returns the chunks closest to embedding.
// sourceType may be empty to search every source.
func (r *LegalChunkRepository) Search(
	ctx context.Context,
	embedding []float32,
	sourceType string,
	limit int,
) ([]models.LegalChunk, error) {
	if len(embedding) != EmbeddingDimensions {
		return nil, fmt.Errorf("embedding must be %d dimensions, got %d", EmbeddingDimensions, len(embedding))
	}
	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT
			id,
			chunk_text,
			source_type,
			source_document,
			citation,
			jurisdiction,
			chunk_index,
			metadata,
			embedding <=> $1::vector AS distance
		FROM legal_chunks
		WHERE ($2 = '' OR source_type = $2)
		ORDER BY embedding <=> $1::vector
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, pgvector.NewVector(embedding), sourceType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query legal chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.LegalChunk
	for rows.Next() {
		var chunk models.LegalChunk
		err := rows.Scan(
			&chunk.ID,
			&chunk.Text,
			&chunk.SourceType,
			&chunk.SourceDocument,
			&chunk.Citation,
			&chunk.Jurisdiction,
			&chunk.ChunkIndex,
			&chunk.Metadata,
			&chunk.Distance,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan legal chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legal chunks: %w", err)
	}

	return chunks, nil
}

// Upsert stores one chunk with its embedding
func (r *LegalChunkRepository) Upsert(ctx context.Context, chunk *models.LegalChunk, embedding []float32) error {
	if len(embedding) != EmbeddingDimensions {
		return fmt.Errorf("embedding must be %d dimensions, got %d", EmbeddingDimensions, len(embedding))
	}

	query := `
		INSERT INTO legal_chunks (
			source_type, source_document, chunk_index, chunk_text,
			citation, jurisdiction, metadata, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_document, chunk_index) DO UPDATE SET
			chunk_text = EXCLUDED.chunk_text,
			citation = EXCLUDED.citation,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding
		RETURNING id`

	return r.db.QueryRow(
		ctx, query,
		chunk.SourceType,
		chunk.SourceDocument,
		chunk.ChunkIndex,
		chunk.Text,
		chunk.Citation,
		chunk.Jurisdiction,
		chunk.Metadata,
		pgvector.NewVector(embedding),
	).Scan(&chunk.ID)
}
