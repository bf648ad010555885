package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docuchat/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

// Save updates every column of an existing document.
func (r *DocumentRepository) Save(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Save(doc).Error; err != nil {
		return fmt.Errorf("save document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerID string) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("uploaded_at DESC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

func (r *DocumentRepository) GetByOwnerAndFilename(ctx context.Context, ownerID, filename string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("owner_id = ? AND filename = ?", ownerID, filename).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) DeleteByID(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&model.Document{}, id).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) ListByCollection(ctx context.Context, collection string) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.WithContext(ctx).Where("collection = ?", collection).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents by collection failed: %w", err)
	}
	return list, nil
}

// CountByCollection reports how many documents reference a collection.
func (r *DocumentRepository) CountByCollection(ctx context.Context, collection string) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Where("collection = ?", collection).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count documents failed: %w", err)
	}
	return n, nil
}

// DeleteByCollection removes every document record of a collection.
func (r *DocumentRepository) DeleteByCollection(ctx context.Context, collection string) error {
	if err := r.db.WithContext(ctx).Where("collection = ?", collection).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete documents by collection failed: %w", err)
	}
	return nil
}

// ExistsByStorageKey reports whether any document still points at an upload.
func (r *DocumentRepository) ExistsByStorageKey(ctx context.Context, key string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Document{}).Where("storage_key = ?", key).Count(&n).Error; err != nil {
		return false, fmt.Errorf("count documents by storage key failed: %w", err)
	}
	return n > 0, nil
}
