package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// VectorCollection is a named set of chunks. Dimension and EmbeddingModel are
// fixed by the first chunk added and cleared again when the collection empties.
type VectorCollection struct {
	Name           string    `gorm:"primaryKey;size:64" json:"name"`
	Dimension      int       `gorm:"not null;default:0" json:"dimension"`
	EmbeddingModel string    `gorm:"size:128;not null;default:''" json:"embedding_model"`
	CreatedAt      time.Time `json:"created_at"`
}

// RAGChunk stores a text chunk and its embedding for retrieval. Seq keeps
// insertion order; an upsert by (Collection, ChunkID) keeps the original Seq.
// OwnerID and Document duplicate metadata so the common filters hit an index.
type RAGChunk struct {
	Seq        uint              `gorm:"primaryKey;autoIncrement" json:"-"`
	Collection string            `gorm:"size:64;not null;uniqueIndex:idx_chunk_collection_id,priority:1;index:idx_chunk_scope,priority:1" json:"collection"`
	ChunkID    string            `gorm:"size:191;not null;uniqueIndex:idx_chunk_collection_id,priority:2" json:"chunk_id"`
	OwnerID    string            `gorm:"size:128;not null;default:'';index:idx_chunk_scope,priority:2" json:"owner_id"`
	Document   string            `gorm:"size:255;not null;default:'';index:idx_chunk_scope,priority:3" json:"document"`
	Content    string            `gorm:"type:text;not null" json:"content"`
	Embedding  Embedding         `gorm:"not null" json:"-"`
	Metadata   datatypes.JSONMap `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Embedding is a pgvector column on postgres and its text form elsewhere.
type Embedding struct {
	pgvector.Vector
}

func NewEmbedding(vec []float32) Embedding {
	return Embedding{Vector: pgvector.NewVector(vec)}
}

func (Embedding) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "vector"
	}
	return "longtext"
}
