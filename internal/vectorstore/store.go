// Package vectorstore keeps (vector, text, metadata) records in named
// collections and answers nearest-neighbour queries by cosine distance.
package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"docuchat/internal/apperr"
)

type Record struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type Match struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Distance float32        `json:"distance"`
}

// Filter restricts a query to records whose metadata equals every entry.
type Filter map[string]any

// CollectionInfo describes a collection. Dimension and Model are set by the
// first Add and cleared when the collection becomes empty.
type CollectionInfo struct {
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	Model     string    `json:"embedding_model,omitempty"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

type Mode string

const (
	ModeDurable Mode = "durable"
	ModeMemory  Mode = "memory"
)

type Health struct {
	Mode     Mode   `json:"mode"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
	// Backend names the database dialect of a durable store.
	Backend     string `json:"backend,omitempty"`
	Collections int    `json:"collections"`
	Records     int    `json:"records"`
	// Models maps each non-empty collection to the embedding model it was built with.
	Models map[string]string `json:"embedding_models,omitempty"`
}

type Store interface {
	// CreateCollection is idempotent and returns the existing collection if present.
	CreateCollection(ctx context.Context, name string) (CollectionInfo, error)
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
	// Add upserts records by ID. model names the embedding backend that
	// produced the vectors; an empty model skips the model check.
	Add(ctx context.Context, collection, model string, records []Record) error
	// Query returns up to topK matches ordered by ascending distance.
	Query(ctx context.Context, collection, model string, vector []float32, topK int, filter Filter) ([]Match, error)
	Delete(ctx context.Context, collection string, ids []string) error
	// DeleteWhere removes every record whose metadata matches filter.
	DeleteWhere(ctx context.Context, collection string, filter Filter) (int, error)
	// Reset removes every record but keeps the collection.
	Reset(ctx context.Context, collection string) error
	DeleteCollection(ctx context.Context, name string) error
	Health(ctx context.Context) Health
}

var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

func ValidateCollectionName(name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("%w: invalid collection name %q", apperr.ErrInvalidInput, name)
	}
	return nil
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", apperr.ErrCollectionNotFound, name)
}

// compatible checks vectors of dim produced by model against a collection
// fixed to wantDim and wantModel. Unset values on either side pass.
func compatible(collection string, wantDim int, wantModel string, dim int, model string) error {
	if wantModel != "" && model != "" && wantModel != model {
		return fmt.Errorf("%w: collection %s was built with embedding model %s but the vectors come from %s; reset and reprocess the collection",
			apperr.ErrModelUnavailable, collection, wantModel, model)
	}
	if wantDim != 0 && dim != wantDim {
		return fmt.Errorf("%w: vectors have dimension %d, collection %s expects %d",
			apperr.ErrDimensionMismatch, dim, collection, wantDim)
	}
	return nil
}

// validateRecords checks ids and vectors and returns the batch dimension.
func validateRecords(records []Record) (int, error) {
	dim := 0
	for i, r := range records {
		if r.ID == "" {
			return 0, fmt.Errorf("%w: record %d has no id", apperr.ErrInvalidInput, i)
		}
		if len(r.Vector) == 0 {
			return 0, fmt.Errorf("%w: record %s has an empty vector", apperr.ErrInvalidInput, r.ID)
		}
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim {
			return 0, fmt.Errorf("%w: record %s has dimension %d, batch has %d",
				apperr.ErrDimensionMismatch, r.ID, len(r.Vector), dim)
		}
	}
	return dim, nil
}
