package app

import (
	"context"
	"fmt"
	"strings"

	"docuchat/internal/apperr"
	"docuchat/internal/rag"
)

type SearchInput struct {
	OwnerID    string
	Question   string
	Document   string
	Collection string
	TopK       int
}

type SearchHit struct {
	ChunkID         string         `json:"chunk_id"`
	Text            string         `json:"text"`
	Metadata        map[string]any `json:"metadata"`
	Distance        float32        `json:"distance"`
	SimilarityScore float32        `json:"similarity_score"`
}

type SearchResult struct {
	Question       string      `json:"question"`
	Document       string      `json:"document,omitempty"`
	Collection     string      `json:"collection"`
	EmbeddingModel string      `json:"embedding_model"`
	Context        []SearchHit `json:"context"`
	TotalDocsFound int         `json:"total_docs_found"`
}

// SearchService is retrieval without generation: the owner's nearest chunks
// for a question, scored, with no model call and nothing recorded.
type SearchService struct {
	retriever Retriever
}

func NewSearchService(retriever Retriever) *SearchService {
	return &SearchService{retriever: retriever}
}

func (s *SearchService) Search(ctx context.Context, in SearchInput) (*SearchResult, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", apperr.ErrInvalidInput)
	}
	if in.TopK < 0 || in.TopK > 50 {
		return nil, fmt.Errorf("%w: top_k must be between 1 and 50", apperr.ErrInvalidInput)
	}
	document := strings.TrimSpace(in.Document)

	r, err := s.retriever.Retrieve(ctx, rag.Question{
		Text:       question,
		OwnerID:    ownerOrAnonymous(in.OwnerID),
		Document:   document,
		Collection: strings.TrimSpace(in.Collection),
		TopK:       in.TopK,
	})
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(r.Matches))
	for _, m := range r.Matches {
		hits = append(hits, SearchHit{
			ChunkID:         m.ID,
			Text:            m.Text,
			Metadata:        m.Metadata,
			Distance:        m.Distance,
			SimilarityScore: 1 - m.Distance,
		})
	}
	return &SearchResult{
		Question:       r.Question,
		Document:       document,
		Collection:     r.Collection,
		EmbeddingModel: r.Model,
		Context:        hits,
		TotalDocsFound: len(hits),
	}, nil
}
