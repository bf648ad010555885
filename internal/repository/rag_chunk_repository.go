package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docuchat/internal/model"
)

var ErrCollectionMissing = errors.New("vector collection does not exist")

const chunkBatchSize = 200

// ChunkScope restricts chunk lookups by indexed column values.
type ChunkScope map[string]any

// ScoredChunk is a chunk with its cosine distance computed by the database.
type ScoredChunk struct {
	model.RAGChunk
	Distance float64 `gorm:"column:distance"`
}

type CollectionStat struct {
	Collection string
	Chunks     int64
}

type RAGChunkRepository struct {
	db *gorm.DB
}

func NewRAGChunkRepository(db *gorm.DB) *RAGChunkRepository {
	return &RAGChunkRepository{db: db}
}

// Migrate creates the chunk tables. On postgres the pgvector extension is
// enabled first.
func (r *RAGChunkRepository) Migrate(ctx context.Context) error {
	db := r.db.WithContext(ctx)
	if r.Dialect() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("enable pgvector failed: %w", err)
		}
	}
	if err := db.AutoMigrate(&model.VectorCollection{}, &model.RAGChunk{}); err != nil {
		return fmt.Errorf("migrate rag chunk tables failed: %w", err)
	}
	return nil
}

func (r *RAGChunkRepository) Dialect() string {
	return r.db.Dialector.Name()
}

func (r *RAGChunkRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateCollection inserts the collection unless it exists and returns the
// stored row.
func (r *RAGChunkRepository) CreateCollection(ctx context.Context, col *model.VectorCollection) (*model.VectorCollection, error) {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(col).Error; err != nil {
		return nil, fmt.Errorf("create vector collection failed: %w", err)
	}
	var stored model.VectorCollection
	if err := db.Where("name = ?", col.Name).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("get vector collection failed: %w", err)
	}
	return &stored, nil
}

func (r *RAGChunkRepository) GetCollection(ctx context.Context, name string) (*model.VectorCollection, error) {
	var col model.VectorCollection
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&col).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get vector collection failed: %w", err)
	}
	return &col, nil
}

func (r *RAGChunkRepository) ListCollections(ctx context.Context) ([]model.VectorCollection, error) {
	var list []model.VectorCollection
	if err := r.db.WithContext(ctx).Order("name").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list vector collections failed: %w", err)
	}
	return list, nil
}

// CountByCollection returns the chunk count of every non-empty collection.
func (r *RAGChunkRepository) CountByCollection(ctx context.Context) ([]CollectionStat, error) {
	var stats []CollectionStat
	err := r.db.WithContext(ctx).Model(&model.RAGChunk{}).
		Select("collection, COUNT(*) AS chunks").
		Group("collection").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("count rag chunks failed: %w", err)
	}
	return stats, nil
}

// AddChunks upserts chunks into a collection inside one transaction that
// holds the collection row lock. prepare may reject the batch or change the
// collection; a changed collection is saved before the chunks are written.
func (r *RAGChunkRepository) AddChunks(ctx context.Context, name string, chunks []model.RAGChunk, prepare func(col *model.VectorCollection) (bool, error)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		col, err := lockCollection(tx, name)
		if err != nil {
			return err
		}
		changed, err := prepare(col)
		if err != nil {
			return err
		}
		if changed {
			if err := tx.Save(col).Error; err != nil {
				return fmt.Errorf("update vector collection failed: %w", err)
			}
		}
		for i := range chunks {
			chunks[i].Collection = name
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "chunk_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner_id", "document", "content", "embedding", "metadata"}),
		}).CreateInBatches(&chunks, chunkBatchSize).Error
		if err != nil {
			return fmt.Errorf("upsert rag chunks failed: %w", err)
		}
		return nil
	})
}

// FindChunks returns the chunks of a collection in insertion order.
func (r *RAGChunkRepository) FindChunks(ctx context.Context, name string, scope ChunkScope) ([]model.RAGChunk, error) {
	q := r.db.WithContext(ctx).Where("collection = ?", name)
	if len(scope) > 0 {
		q = q.Where(map[string]any(scope))
	}
	var chunks []model.RAGChunk
	if err := q.Order("seq").Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("find rag chunks failed: %w", err)
	}
	return chunks, nil
}

// Nearest orders chunks by pgvector cosine distance. Postgres only.
func (r *RAGChunkRepository) Nearest(ctx context.Context, name string, vec []float32, scope ChunkScope, limit int) ([]ScoredChunk, error) {
	q := r.db.WithContext(ctx).Model(&model.RAGChunk{}).
		Select("*, embedding <=> ? AS distance", model.NewEmbedding(vec)).
		Where("collection = ?", name)
	if len(scope) > 0 {
		q = q.Where(map[string]any(scope))
	}
	var out []ScoredChunk
	if err := q.Order("distance").Order("seq").Limit(limit).Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("nearest rag chunks failed: %w", err)
	}
	return out, nil
}

// DeleteChunks removes chunks by id, or by seq when ids is empty. A
// collection left without chunks forgets its dimension and model.
func (r *RAGChunkRepository) DeleteChunks(ctx context.Context, name string, ids []string, seqs []uint) (int64, error) {
	if len(ids) == 0 && len(seqs) == 0 {
		return 0, nil
	}
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		col, err := lockCollection(tx, name)
		if err != nil {
			return err
		}
		q := tx.Where("collection = ?", name)
		if len(ids) > 0 {
			q = q.Where("chunk_id IN ?", ids)
		} else {
			q = q.Where("seq IN ?", seqs)
		}
		res := q.Delete(&model.RAGChunk{})
		if res.Error != nil {
			return fmt.Errorf("delete rag chunks failed: %w", res.Error)
		}
		removed = res.RowsAffected
		return clearIfEmpty(tx, col)
	})
	return removed, err
}

// ResetCollection removes every chunk but keeps the collection.
func (r *RAGChunkRepository) ResetCollection(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		col, err := lockCollection(tx, name)
		if err != nil {
			return err
		}
		if err := tx.Where("collection = ?", name).Delete(&model.RAGChunk{}).Error; err != nil {
			return fmt.Errorf("reset rag chunks failed: %w", err)
		}
		return clearIfEmpty(tx, col)
	})
}

func (r *RAGChunkRepository) DeleteCollection(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockCollection(tx, name); err != nil {
			return err
		}
		if err := tx.Where("collection = ?", name).Delete(&model.RAGChunk{}).Error; err != nil {
			return fmt.Errorf("delete collection chunks failed: %w", err)
		}
		if err := tx.Where("name = ?", name).Delete(&model.VectorCollection{}).Error; err != nil {
			return fmt.Errorf("delete vector collection failed: %w", err)
		}
		return nil
	})
}

func lockCollection(tx *gorm.DB, name string) (*model.VectorCollection, error) {
	var col model.VectorCollection
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("name = ?", name).First(&col).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCollectionMissing, name)
	}
	if err != nil {
		return nil, fmt.Errorf("lock vector collection failed: %w", err)
	}
	return &col, nil
}

func clearIfEmpty(tx *gorm.DB, col *model.VectorCollection) error {
	var left int64
	if err := tx.Model(&model.RAGChunk{}).Where("collection = ?", col.Name).Count(&left).Error; err != nil {
		return fmt.Errorf("count rag chunks failed: %w", err)
	}
	if left > 0 || (col.Dimension == 0 && col.EmbeddingModel == "") {
		return nil
	}
	err := tx.Model(&model.VectorCollection{}).Where("name = ?", col.Name).
		Updates(map[string]any{"dimension": 0, "embedding_model": ""}).Error
	if err != nil {
		return fmt.Errorf("clear vector collection failed: %w", err)
	}
	return nil
}
