package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"docuchat/internal/apperr"
	"docuchat/internal/model"
	"docuchat/internal/repository"
)

// indexed lists the metadata keys stored in their own chunk columns.
var indexed = map[string]bool{"owner_id": true, "document": true}

// Database keeps collections in the rag_chunks tables. On postgres the
// nearest-neighbour ordering runs in SQL over a pgvector column; elsewhere
// candidates are narrowed by the indexed columns and scored here.
type Database struct {
	chunks *repository.RAGChunkRepository
	native bool
	now    func() time.Time
}

func NewDatabase(chunks *repository.RAGChunkRepository) *Database {
	return &Database{
		chunks: chunks,
		native: chunks.Dialect() == "postgres",
		now:    time.Now,
	}
}

func (s *Database) CreateCollection(ctx context.Context, name string) (CollectionInfo, error) {
	if err := ValidateCollectionName(name); err != nil {
		return CollectionInfo{}, err
	}
	col, err := s.chunks.CreateCollection(ctx, &model.VectorCollection{Name: name, CreatedAt: s.now().UTC()})
	if err != nil {
		return CollectionInfo{}, err
	}
	info := infoOf(*col)
	stats, err := s.chunks.CountByCollection(ctx)
	if err != nil {
		return CollectionInfo{}, err
	}
	for _, st := range stats {
		if st.Collection == name {
			info.Count = int(st.Chunks)
		}
	}
	return info, nil
}

func (s *Database) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	cols, err := s.chunks.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.chunks.CountByCollection(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(stats))
	for _, st := range stats {
		counts[st.Collection] = int(st.Chunks)
	}
	out := make([]CollectionInfo, 0, len(cols))
	for _, c := range cols {
		info := infoOf(c)
		info.Count = counts[c.Name]
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Database) Add(ctx context.Context, name, embeddingModel string, records []Record) error {
	if len(records) == 0 {
		if _, err := s.collection(ctx, name); err != nil {
			return err
		}
		return nil
	}
	dim, err := validateRecords(records)
	if err != nil {
		return err
	}

	rows := make([]model.RAGChunk, 0, len(records))
	for _, r := range records {
		rows = append(rows, model.RAGChunk{
			ChunkID:   r.ID,
			OwnerID:   stringMeta(r.Metadata, "owner_id"),
			Document:  stringMeta(r.Metadata, "document"),
			Content:   r.Text,
			Embedding: model.NewEmbedding(r.Vector),
			Metadata:  r.Metadata,
		})
	}
	err = s.chunks.AddChunks(ctx, name, rows, func(col *model.VectorCollection) (bool, error) {
		if err := compatible(name, col.Dimension, col.EmbeddingModel, dim, embeddingModel); err != nil {
			return false, err
		}
		changed := col.Dimension != dim || (col.EmbeddingModel == "" && embeddingModel != "")
		col.Dimension = dim
		if col.EmbeddingModel == "" {
			col.EmbeddingModel = embeddingModel
		}
		return changed, nil
	})
	return mapErr(err, name)
}

func (s *Database) Query(ctx context.Context, name, embeddingModel string, vector []float32, topK int, filter Filter) ([]Match, error) {
	col, err := s.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	if col.Dimension == 0 {
		return []Match{}, nil
	}
	if err := compatible(name, col.Dimension, col.EmbeddingModel, len(vector), embeddingModel); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	scope, rest := splitFilter(filter)
	if s.native && len(rest) == 0 {
		scored, err := s.chunks.Nearest(ctx, name, vector, scope, topK)
		if err != nil {
			return nil, err
		}
		out := make([]Match, 0, len(scored))
		for _, c := range scored {
			m := matchOf(c.RAGChunk)
			m.Distance = float32(max(c.Distance, 0))
			out = append(out, m)
		}
		return out, nil
	}

	chunks, err := s.chunks.FindChunks(ctx, name, scope)
	if err != nil {
		return nil, err
	}
	candidates := make([]Match, 0, len(chunks))
	for _, c := range chunks {
		if !rest.matches(c.Metadata) {
			continue
		}
		m := matchOf(c)
		m.Distance = cosineDistance(vector, c.Embedding.Slice())
		candidates = append(candidates, m)
	}
	return nearest(candidates, topK), nil
}

func (s *Database) Delete(ctx context.Context, name string, ids []string) error {
	if _, err := s.collection(ctx, name); err != nil {
		return err
	}
	_, err := s.chunks.DeleteChunks(ctx, name, ids, nil)
	return mapErr(err, name)
}

func (s *Database) DeleteWhere(ctx context.Context, name string, filter Filter) (int, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("%w: delete filter must not be empty", apperr.ErrInvalidInput)
	}
	if _, err := s.collection(ctx, name); err != nil {
		return 0, err
	}
	scope, rest := splitFilter(filter)
	chunks, err := s.chunks.FindChunks(ctx, name, scope)
	if err != nil {
		return 0, err
	}
	var seqs []uint
	for _, c := range chunks {
		if rest.matches(c.Metadata) {
			seqs = append(seqs, c.Seq)
		}
	}
	removed, err := s.chunks.DeleteChunks(ctx, name, nil, seqs)
	return int(removed), mapErr(err, name)
}

func (s *Database) Reset(ctx context.Context, name string) error {
	return mapErr(s.chunks.ResetCollection(ctx, name), name)
}

func (s *Database) DeleteCollection(ctx context.Context, name string) error {
	return mapErr(s.chunks.DeleteCollection(ctx, name), name)
}

func (s *Database) Health(ctx context.Context) Health {
	h := Health{Mode: ModeDurable, Backend: s.chunks.Dialect()}
	cols, err := s.chunks.ListCollections(ctx)
	if err == nil {
		var stats []repository.CollectionStat
		if stats, err = s.chunks.CountByCollection(ctx); err == nil {
			h.Collections = len(cols)
			for _, st := range stats {
				h.Records += int(st.Chunks)
			}
			for _, c := range cols {
				if c.EmbeddingModel != "" {
					if h.Models == nil {
						h.Models = map[string]string{}
					}
					h.Models[c.Name] = c.EmbeddingModel
				}
			}
		}
	}
	if err != nil {
		h.Degraded = true
		h.Reason = err.Error()
	}
	return h
}

func (s *Database) collection(ctx context.Context, name string) (*model.VectorCollection, error) {
	col, err := s.chunks.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, notFound(name)
	}
	return col, nil
}

func mapErr(err error, name string) error {
	if errors.Is(err, repository.ErrCollectionMissing) {
		return notFound(name)
	}
	return err
}

// splitFilter separates the entries answered by indexed columns from those
// that must be matched against metadata.
func splitFilter(f Filter) (repository.ChunkScope, Filter) {
	var scope repository.ChunkScope
	var rest Filter
	for k, v := range f {
		if s, ok := v.(string); ok && indexed[k] {
			if scope == nil {
				scope = repository.ChunkScope{}
			}
			scope[k] = s
			continue
		}
		if rest == nil {
			rest = Filter{}
		}
		rest[k] = v
	}
	return scope, rest
}

func stringMeta(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func infoOf(c model.VectorCollection) CollectionInfo {
	return CollectionInfo{Name: c.Name, Dimension: c.Dimension, Model: c.EmbeddingModel, CreatedAt: c.CreatedAt}
}

func matchOf(c model.RAGChunk) Match {
	return Match{ID: c.ChunkID, Text: c.Content, Metadata: map[string]any(c.Metadata)}
}
