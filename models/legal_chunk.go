package models

import (
	"github.com/google/uuid"
)

// LegalChunk represents a chunk of legal text from the knowledge base
type LegalChunk struct {
	ID             uuid.UUID              `json:"id"`
	Text           string                 `json:"text"`
	SourceType     string                 `json:"source_type"` // "regulation", "case_law", "doctrine"
	SourceDocument string                 `json:"source_document"`
	Citation       *string                `json:"citation,omitempty"`
	Jurisdiction   string                 `json:"jurisdiction"`
	ChunkIndex     int                    `json:"chunk_index"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Distance       float64                `json:"distance,omitempty"` // Vector similarity distance
}

// Reference converts the chunk into a case reference
func (c LegalChunk) Reference() Reference {
	ref := Reference{
		SourceID: c.ID.String(),
		Source:   c.SourceDocument,
		Excerpt:  c.Text,
		Score:    1 - c.Distance,
	}
	if c.Citation != nil {
		ref.Citation = *c.Citation
	}
	return ref
}
