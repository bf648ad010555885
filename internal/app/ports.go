// Package app holds the use cases the HTTP layer exposes: uploads, document
// management, questions, chat history and feedback.
package app

import (
	"context"
	"strings"
	"time"

	"docuchat/internal/model"
	"docuchat/internal/rag"
)

const AnonymousOwner = "anonymous"

type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	Save(ctx context.Context, doc *model.Document) error
	ListByOwner(ctx context.Context, ownerID string) ([]model.Document, error)
	GetByOwnerAndFilename(ctx context.Context, ownerID, filename string) (*model.Document, error)
	DeleteByID(ctx context.Context, id uint) error
	ListByCollection(ctx context.Context, collection string) ([]model.Document, error)
	CountByCollection(ctx context.Context, collection string) (int64, error)
	DeleteByCollection(ctx context.Context, collection string) error
}

type MessageRepository interface {
	Create(ctx context.Context, msg *model.ChatMessage) error
	GetByID(ctx context.Context, id string) (*model.ChatMessage, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.ChatMessage, error)
	ListWithFeedback(ctx context.Context, ownerID string, limit int) ([]model.ChatMessage, error)
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
	SetFeedback(ctx context.Context, id, feedbackType, comment string, at time.Time) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, ownerID string) ([]model.ChatMessage, bool, error)
	SetHistory(ctx context.Context, ownerID string, messages []model.ChatMessage) error
	DeleteHistory(ctx context.Context, ownerID string) error
}

type Asker interface {
	Ask(ctx context.Context, q rag.Question) (*rag.Answer, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, q rag.Question) (*rag.Retrieval, error)
}

func ownerOrAnonymous(ownerID string) string {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return AnonymousOwner
	}
	return ownerID
}
