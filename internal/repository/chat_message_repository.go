package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"docuchat/internal/model"
)

// ErrFeedbackAlreadySet means the message already carries feedback.
var ErrFeedbackAlreadySet = errors.New("feedback already set")

type ChatMessageRepository struct {
	db *gorm.DB
}

func NewChatMessageRepository(db *gorm.DB) *ChatMessageRepository {
	return &ChatMessageRepository{db: db}
}

func (r *ChatMessageRepository) Create(ctx context.Context, msg *model.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("create chat message failed: %w", err)
	}
	return nil
}

func (r *ChatMessageRepository) GetByID(ctx context.Context, id string) (*model.ChatMessage, error) {
	var msg model.ChatMessage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat message failed: %w", err)
	}
	return &msg, nil
}

// ListByOwner returns the newest messages first.
func (r *ChatMessageRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var list []model.ChatMessage
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list chat messages failed: %w", err)
	}
	return list, nil
}

// ListWithFeedback returns the owner's messages that carry feedback, most
// recently rated first.
func (r *ChatMessageRepository) ListWithFeedback(ctx context.Context, ownerID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var list []model.ChatMessage
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND feedback_type IS NOT NULL", ownerID).
		Order("feedback_at DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list feedback failed: %w", err)
	}
	return list, nil
}

func (r *ChatMessageRepository) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Delete(&model.ChatMessage{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete chat messages failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SetFeedback records feedback once. The update only matches rows without
// feedback, so concurrent submissions cannot both win.
func (r *ChatMessageRepository) SetFeedback(ctx context.Context, id, feedbackType, comment string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.ChatMessage{}).
		Where("id = ? AND feedback_type IS NULL", id).
		Updates(map[string]any{
			"feedback_type":    feedbackType,
			"feedback_comment": comment,
			"feedback_at":      at,
		})
	if res.Error != nil {
		return fmt.Errorf("set feedback failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFeedbackAlreadySet
	}
	return nil
}
