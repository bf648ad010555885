package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"docuchat/internal/apperr"
	"docuchat/internal/embedding"
	"docuchat/internal/logger"
	"docuchat/internal/storage"
	"docuchat/internal/vectorstore"
)

type EmbeddingStatus interface {
	Status() embedding.Status
}

type CollectionOption func(*CollectionService)

// WithEmbeddingStatus lets Health compare the active embedding backend with
// the model each collection was built with.
func WithEmbeddingStatus(e EmbeddingStatus) CollectionOption {
	return func(s *CollectionService) { s.embedder = e }
}

// VectorStoreHealth is the store health plus the embedding backend that
// queries currently use. Mismatched lists collections that backend cannot
// search until they are reset and reprocessed.
type VectorStoreHealth struct {
	vectorstore.Health
	EmbeddingBackend string          `json:"embedding_backend,omitempty"`
	EmbeddingState   embedding.State `json:"embedding_state,omitempty"`
	Mismatched       []string        `json:"mismatched_collections,omitempty"`
}

type CollectionService struct {
	store             vectorstore.Store
	docs              DocumentRepository
	blobs             storage.Storage
	embedder          EmbeddingStatus
	defaultCollection string
}

func NewCollectionService(store vectorstore.Store, docs DocumentRepository, blobs storage.Storage, defaultCollection string, opts ...CollectionOption) *CollectionService {
	s := &CollectionService{
		store:             store,
		docs:              docs,
		blobs:             blobs,
		defaultCollection: defaultCollection,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CollectionService) Default() string {
	return s.defaultCollection
}

// Resolve returns the default collection for an empty name. A named
// collection must already exist.
func (s *CollectionService) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.defaultCollection, nil
	}
	cols, err := s.store.ListCollections(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range cols {
		if c.Name == name {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s", apperr.ErrCollectionNotFound, name)
}

func (s *CollectionService) List(ctx context.Context) ([]vectorstore.CollectionInfo, error) {
	return s.store.ListCollections(ctx)
}

func (s *CollectionService) Create(ctx context.Context, name string) (vectorstore.CollectionInfo, error) {
	return s.store.CreateCollection(ctx, strings.TrimSpace(name))
}

// Delete drops a collection together with the documents ingested into it.
// The default collection can only be reset.
func (s *CollectionService) Delete(ctx context.Context, name string) error {
	if name == s.defaultCollection {
		return fmt.Errorf("%w: the default collection %s cannot be deleted", apperr.ErrConflict, name)
	}
	if err := s.store.DeleteCollection(ctx, name); err != nil {
		return err
	}
	return s.dropDocuments(ctx, name)
}

// Reset removes every chunk of a collection and the documents they came from.
func (s *CollectionService) Reset(ctx context.Context, name string) error {
	if err := s.store.Reset(ctx, name); err != nil {
		return err
	}
	return s.dropDocuments(ctx, name)
}

func (s *CollectionService) Health(ctx context.Context) VectorStoreHealth {
	h := VectorStoreHealth{Health: s.store.Health(ctx)}
	if s.embedder == nil {
		return h
	}
	st := s.embedder.Status()
	h.EmbeddingBackend, h.EmbeddingState = st.Backend, st.State
	if st.Backend == "" {
		return h
	}
	for name, m := range h.Models {
		if m != st.Backend {
			h.Mismatched = append(h.Mismatched, name)
		}
	}
	sort.Strings(h.Mismatched)
	return h
}

func (s *CollectionService) dropDocuments(ctx context.Context, collection string) error {
	docs, err := s.docs.ListByCollection(ctx, collection)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := s.blobs.Delete(ctx, d.StorageKey); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			logger.Warn("delete document upload failed", "document", d.Filename, "error", err)
		}
	}
	if err := s.docs.DeleteByCollection(ctx, collection); err != nil {
		return err
	}
	logger.Info("collection documents removed", "collection", collection, "documents", len(docs))
	return nil
}
