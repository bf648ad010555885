package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"docuchat/internal/apperr"
	"docuchat/internal/metrics"
	"docuchat/internal/model"
	"docuchat/internal/repository"
)

const (
	maxFeedbackComment  = 2000
	defaultFeedbackList = 50
	maxFeedbackList     = 500
)

type FeedbackInput struct {
	OwnerID   string
	MessageID string
	Type      string
	Comment   string
}

type FeedbackService struct {
	messageRepo  MessageRepository
	historyCache HistoryCache
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewFeedbackService(messageRepo MessageRepository, historyCache HistoryCache, m *metrics.Metrics) *FeedbackService {
	return &FeedbackService{
		messageRepo:  messageRepo,
		historyCache: historyCache,
		metrics:      m,
		now:          time.Now,
	}
}

// ParseFeedbackType accepts like/dislike and the 1/0 thumbs encoding.
func ParseFeedbackType(v string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "like", "1", "up", "thumbs_up":
		return model.FeedbackLike, nil
	case "dislike", "0", "down", "thumbs_down":
		return model.FeedbackDislike, nil
	default:
		return "", fmt.Errorf("%w: feedback_type must be like or dislike", apperr.ErrInvalidInput)
	}
}

// Submit records feedback on a message once. Later submissions are rejected
// with a conflict and leave the first feedback in place.
func (s *FeedbackService) Submit(ctx context.Context, in FeedbackInput) (*model.ChatMessage, error) {
	id := strings.TrimSpace(in.MessageID)
	if id == "" {
		return nil, fmt.Errorf("%w: message_id is required", apperr.ErrInvalidInput)
	}
	feedbackType, err := ParseFeedbackType(in.Type)
	if err != nil {
		return nil, err
	}
	comment := strings.TrimSpace(in.Comment)
	if utf8.RuneCountInString(comment) > maxFeedbackComment {
		return nil, fmt.Errorf("%w: comment exceeds %d characters", apperr.ErrInvalidInput, maxFeedbackComment)
	}

	msg, err := s.load(ctx, ownerOrAnonymous(in.OwnerID), id)
	if err != nil {
		return nil, err
	}
	if msg.FeedbackType != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConflict, repository.ErrFeedbackAlreadySet)
	}

	if err := s.messageRepo.SetFeedback(ctx, id, feedbackType, comment, s.now()); err != nil {
		if errors.Is(err, repository.ErrFeedbackAlreadySet) {
			return nil, fmt.Errorf("%w: %w", apperr.ErrConflict, err)
		}
		return nil, err
	}
	s.metrics.FeedbackRecorded(feedbackType)
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(ctx, msg.OwnerID)
	}
	return s.messageRepo.GetByID(ctx, id)
}

// FeedbackList is an owner's rated messages, most recent first.
type FeedbackList struct {
	Feedback []model.ChatMessage `json:"feedback"`
	Total    int                 `json:"total"`
}

// List returns up to limit messages of the owner that carry feedback.
func (s *FeedbackService) List(ctx context.Context, ownerID string, limit int) (*FeedbackList, error) {
	if limit < 0 || limit > maxFeedbackList {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", apperr.ErrInvalidInput, maxFeedbackList)
	}
	if limit == 0 {
		limit = defaultFeedbackList
	}
	msgs, err := s.messageRepo.ListWithFeedback(ctx, ownerOrAnonymous(ownerID), limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	return &FeedbackList{Feedback: msgs, Total: len(msgs)}, nil
}

// Get returns a message with its feedback.
func (s *FeedbackService) Get(ctx context.Context, ownerID, messageID string) (*model.ChatMessage, error) {
	return s.load(ctx, ownerOrAnonymous(ownerID), strings.TrimSpace(messageID))
}

// load hides messages of other owners behind not found.
func (s *FeedbackService) load(ctx context.Context, owner, id string) (*model.ChatMessage, error) {
	msg, err := s.messageRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.OwnerID != owner {
		return nil, fmt.Errorf("%w: message %s", apperr.ErrNotFound, id)
	}
	return msg, nil
}
