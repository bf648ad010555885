package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"docuchat/internal/apperr"
	"docuchat/internal/logger"
	"docuchat/internal/metrics"
	"docuchat/internal/model"
	"docuchat/internal/rag"
)

const maxHistoryTurns = 20

type AskInput struct {
	OwnerID    string
	Question   string
	Document   string
	Collection string
	History    []rag.Turn
	TopK       int
}

type AskResult struct {
	Answer       string       `json:"answer"`
	MessageID    string       `json:"message_id,omitempty"`
	Sources      []rag.Source `json:"sources"`
	ContextFound bool         `json:"context_found"`
	Model        string       `json:"model"`
}

type ChatService struct {
	asker        Asker
	messageRepo  MessageRepository
	historyCache HistoryCache
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewChatService(asker Asker, messageRepo MessageRepository, historyCache HistoryCache, m *metrics.Metrics) *ChatService {
	return &ChatService{
		asker:        asker,
		messageRepo:  messageRepo,
		historyCache: historyCache,
		metrics:      m,
		now:          time.Now,
	}
}

// Ask answers a question and records the turn. A turn that cannot be stored
// is still answered, without a message id to attach feedback to.
func (s *ChatService) Ask(ctx context.Context, in AskInput) (*AskResult, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", apperr.ErrInvalidInput)
	}
	if in.TopK < 0 || in.TopK > 50 {
		return nil, fmt.Errorf("%w: top_k must be between 1 and 50", apperr.ErrInvalidInput)
	}
	owner := ownerOrAnonymous(in.OwnerID)
	history := in.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	start := s.now()
	answer, err := s.asker.Ask(ctx, rag.Question{
		Text:       question,
		OwnerID:    owner,
		Document:   strings.TrimSpace(in.Document),
		Collection: strings.TrimSpace(in.Collection),
		History:    history,
		TopK:       in.TopK,
	})
	if err != nil {
		s.metrics.QueryFailed()
		return nil, err
	}
	latency := answer.Latency
	if latency == 0 {
		latency = s.now().Sub(start)
	}
	s.metrics.QueryAnswered(latency, answer.ContextFound)

	result := &AskResult{
		Answer:       answer.Text,
		Sources:      answer.Sources,
		ContextFound: answer.ContextFound,
		Model:        answer.Model,
	}

	msg := &model.ChatMessage{
		ID:           uuid.NewString(),
		OwnerID:      owner,
		Document:     strings.TrimSpace(in.Document),
		Collection:   strings.TrimSpace(in.Collection),
		Question:     question,
		Answer:       answer.Text,
		ContextFound: answer.ContextFound,
		SourceCount:  len(answer.Sources),
		ModelUsed:    answer.Model,
		LatencyMS:    latency.Milliseconds(),
		CreatedAt:    s.now(),
	}
	if err := s.messageRepo.Create(ctx, msg); err != nil {
		logger.Error("persist chat message failed", "owner_id", owner, "error", err)
		return result, nil
	}
	result.MessageID = msg.ID

	if s.historyCache != nil {
		if err := s.historyCache.DeleteHistory(ctx, owner); err != nil {
			logger.Warn("invalidate history cache failed", "owner_id", owner, "error", err)
		}
	}
	return result, nil
}
